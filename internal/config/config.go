// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/relabs-tech/blink_computer/internal/calibration"
	"github.com/relabs-tech/blink_computer/internal/dsp"
)

var ErrInvalid = errors.New("invalid configuration")

// Config holds all application configuration values.
type Config struct {
	// Acquisition
	Source     string  `yaml:"source"` // mock, cyton, replay
	SerialPort string  `yaml:"serial_port"`
	BaudRate   int     `yaml:"baud_rate"`
	ReplayFile string  `yaml:"replay_file"`
	ChannelA   int     `yaml:"channel_a"` // 1-based board channel
	ChannelB   int     `yaml:"channel_b"`
	SampleRate float64 `yaml:"sample_rate"`
	MaxAbsUV   float64 `yaml:"max_abs_uv"` // raw values beyond this are dropped

	// Preprocessing
	WindowSeconds  float64 `yaml:"window_seconds"`
	WarmupSeconds  float64 `yaml:"warmup_seconds"`
	MainsHz        float64 `yaml:"mains_hz"` // 50 or 60, 0 disables the notch
	NotchQ         float64 `yaml:"notch_q"`
	BandpassLowHz  float64 `yaml:"bandpass_low_hz"`
	BandpassHighHz float64 `yaml:"bandpass_high_hz"`
	BandpassOrder  int     `yaml:"bandpass_order"`

	// Detection
	CooldownMS         int     `yaml:"cooldown_ms"`
	RearmFactor        float64 `yaml:"rearm_factor"`         // 0 = pure dead-time
	InitialThresholdUV float64 `yaml:"initial_threshold_uv"` // 0 = disabled until calibrated

	// Calibration
	TriggerCoefficient  float64 `yaml:"trigger_coefficient"`
	BaselineSeconds     float64 `yaml:"baseline_seconds"`
	CueRestMS           int     `yaml:"cue_rest_ms"`
	ResponseWindowMS    int     `yaml:"response_window_ms"`
	CueRepetitions      int     `yaml:"cue_repetitions"`
	ValidationSeconds   float64 `yaml:"validation_seconds"`
	ValidationRetries   int     `yaml:"validation_retries"`
	PhaseTimeoutSeconds float64 `yaml:"phase_timeout_seconds"`

	// Evaluation
	EvalCues    int `yaml:"eval_cues"`
	EvalRelaxMS int `yaml:"eval_relax_ms"`
	EvalBlinkMS int `yaml:"eval_blink_ms"`

	// MQTT
	MQTTBroker           string `yaml:"mqtt_broker"`
	MQTTClientIDProducer string `yaml:"mqtt_client_id_producer"`
	MQTTClientIDConsole  string `yaml:"mqtt_client_id_console"`
	MQTTEmbedded         bool   `yaml:"mqtt_embedded"`
	MQTTEmbeddedAddr     string `yaml:"mqtt_embedded_addr"`

	// Topics
	TopicBlink      string `yaml:"topic_blink"`
	TopicSignal     string `yaml:"topic_signal"`
	TopicState      string `yaml:"topic_state"`
	SignalPublishMS int    `yaml:"signal_publish_ms"`

	// Web Server
	WebServerPort int    `yaml:"web_server_port"`
	WebStaticDir  string `yaml:"web_static_dir"`

	// Game bridge
	UDPGameAddr string `yaml:"udp_game_addr"` // empty disables

	// Profiles
	UserID          string `yaml:"user_id"`
	ProfileDir      string `yaml:"profile_dir"`
	RedisAddr       string `yaml:"redis_addr"` // empty selects the file store
	RedisPassword   string `yaml:"redis_password"`
	RedisDB         int    `yaml:"redis_db"`
	ProfileTTLHours int    `yaml:"profile_ttl_hours"`

	// Display / cue hardware
	DisplayEnabled  bool   `yaml:"display_enabled"`
	DisplayUpdateMS int    `yaml:"display_update_ms"`
	CueLightPin     string `yaml:"cue_light_pin"` // empty disables

	LogLevel string `yaml:"log_level"`
}

// Package-level unexported variables for singleton pattern:
//   - globalConfig: only reachable through InitGlobal and Get.
//   - configOnce: InitGlobal runs once.
//   - configMu: write lock for initialization, read lock for Get.
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Default returns the configuration used when a key is absent.
func Default() *Config {
	return &Config{
		Source:     "mock",
		BaudRate:   115200,
		ChannelA:   1,
		ChannelB:   2,
		SampleRate: 250,
		MaxAbsUV:   100000,

		WindowSeconds:  2,
		WarmupSeconds:  1,
		MainsHz:        50,
		NotchQ:         30,
		BandpassLowHz:  1,
		BandpassHighHz: 10,
		BandpassOrder:  4,

		CooldownMS: 300,

		TriggerCoefficient:  0.6,
		BaselineSeconds:     5,
		CueRestMS:           2000,
		ResponseWindowMS:    1000,
		CueRepetitions:      4,
		ValidationSeconds:   5,
		ValidationRetries:   2,
		PhaseTimeoutSeconds: 30,

		EvalCues:    12,
		EvalRelaxMS: 3500,
		EvalBlinkMS: 1500,

		MQTTBroker:           "tcp://localhost:1883",
		MQTTClientIDProducer: "blink-producer",
		MQTTClientIDConsole:  "blink-console",
		MQTTEmbeddedAddr:     ":1883",

		TopicBlink:      "eeg/blink",
		TopicSignal:     "eeg/signal",
		TopicState:      "eeg/state",
		SignalPublishMS: 100,

		WebServerPort: 8080,
		WebStaticDir:  "web",

		UserID:          "default",
		ProfileDir:      "profiles",
		ProfileTTLHours: 24 * 30,

		DisplayUpdateMS: 500,

		LogLevel: "info",
	}
}

// Load reads the configuration file and returns a validated Config. Files
// ending in .yaml or .yml are parsed as YAML, anything else as KEY=VALUE lines.
func Load(configPath string) (*Config, error) {
	var (
		cfg *Config
		err error
	)
	switch strings.ToLower(filepath.Ext(configPath)) {
	case ".yaml", ".yml":
		cfg, err = loadYAML(configPath)
	default:
		cfg, err = loadKeyValue(configPath)
	}
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadYAML(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := Default()
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	return cfg, nil
}

func loadKeyValue(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := Default()
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	return cfg, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	var err error
	switch key {
	// Acquisition
	case "SOURCE":
		c.Source = strings.ToLower(value)
	case "SERIAL_PORT":
		c.SerialPort = value
	case "BAUD_RATE":
		c.BaudRate, err = parseInt(key, value)
	case "REPLAY_FILE":
		c.ReplayFile = value
	case "CHANNEL_A":
		c.ChannelA, err = parseInt(key, value)
	case "CHANNEL_B":
		c.ChannelB, err = parseInt(key, value)
	case "SAMPLE_RATE":
		c.SampleRate, err = parseFloat(key, value)
	case "MAX_ABS_UV":
		c.MaxAbsUV, err = parseFloat(key, value)

	// Preprocessing
	case "WINDOW_SECONDS":
		c.WindowSeconds, err = parseFloat(key, value)
	case "WARMUP_SECONDS":
		c.WarmupSeconds, err = parseFloat(key, value)
	case "MAINS_HZ":
		c.MainsHz, err = parseFloat(key, value)
	case "NOTCH_Q":
		c.NotchQ, err = parseFloat(key, value)
	case "BANDPASS_LOW_HZ":
		c.BandpassLowHz, err = parseFloat(key, value)
	case "BANDPASS_HIGH_HZ":
		c.BandpassHighHz, err = parseFloat(key, value)
	case "BANDPASS_ORDER":
		c.BandpassOrder, err = parseInt(key, value)

	// Detection
	case "COOLDOWN_MS":
		c.CooldownMS, err = parseInt(key, value)
	case "REARM_FACTOR":
		c.RearmFactor, err = parseFloat(key, value)
	case "INITIAL_THRESHOLD_UV":
		c.InitialThresholdUV, err = parseFloat(key, value)

	// Calibration
	case "TRIGGER_COEFFICIENT":
		c.TriggerCoefficient, err = parseFloat(key, value)
	case "BASELINE_SECONDS":
		c.BaselineSeconds, err = parseFloat(key, value)
	case "CUE_REST_MS":
		c.CueRestMS, err = parseInt(key, value)
	case "RESPONSE_WINDOW_MS":
		c.ResponseWindowMS, err = parseInt(key, value)
	case "CUE_REPETITIONS":
		c.CueRepetitions, err = parseInt(key, value)
	case "VALIDATION_SECONDS":
		c.ValidationSeconds, err = parseFloat(key, value)
	case "VALIDATION_RETRIES":
		c.ValidationRetries, err = parseInt(key, value)
	case "PHASE_TIMEOUT_SECONDS":
		c.PhaseTimeoutSeconds, err = parseFloat(key, value)

	// Evaluation
	case "EVAL_CUES":
		c.EvalCues, err = parseInt(key, value)
	case "EVAL_RELAX_MS":
		c.EvalRelaxMS, err = parseInt(key, value)
	case "EVAL_BLINK_MS":
		c.EvalBlinkMS, err = parseInt(key, value)

	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_PRODUCER":
		c.MQTTClientIDProducer = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value
	case "MQTT_EMBEDDED":
		c.MQTTEmbedded, err = parseBool(key, value)
	case "MQTT_EMBEDDED_ADDR":
		c.MQTTEmbeddedAddr = value

	// Topics
	case "TOPIC_BLINK":
		c.TopicBlink = value
	case "TOPIC_SIGNAL":
		c.TopicSignal = value
	case "TOPIC_STATE":
		c.TopicState = value
	case "SIGNAL_PUBLISH_MS":
		c.SignalPublishMS, err = parseInt(key, value)

	// Web Server
	case "WEB_SERVER_PORT":
		c.WebServerPort, err = parseInt(key, value)
	case "WEB_STATIC_DIR":
		c.WebStaticDir = value

	case "UDP_GAME_ADDR":
		c.UDPGameAddr = value

	// Profiles
	case "USER_ID":
		c.UserID = value
	case "PROFILE_DIR":
		c.ProfileDir = value
	case "REDIS_ADDR":
		c.RedisAddr = value
	case "REDIS_PASSWORD":
		c.RedisPassword = value
	case "REDIS_DB":
		c.RedisDB, err = parseInt(key, value)
	case "PROFILE_TTL_HOURS":
		c.ProfileTTLHours, err = parseInt(key, value)

	// Display
	case "DISPLAY_ENABLED":
		c.DisplayEnabled, err = parseBool(key, value)
	case "DISPLAY_UPDATE_MS":
		c.DisplayUpdateMS, err = parseInt(key, value)
	case "CUE_LIGHT_PIN":
		c.CueLightPin = value

	case "LOG_LEVEL":
		c.LogLevel = strings.ToLower(value)

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return err
}

func parseInt(key, value string) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return v, nil
}

func parseFloat(key, value string) (float64, error) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return v, nil
}

func parseBool(key, value string) (bool, error) {
	v, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return v, nil
}

// Validate fails fast on values the pipeline cannot run with.
func (c *Config) Validate() error {
	nyq := c.SampleRate / 2
	switch {
	case c.SampleRate <= 0:
		return fmt.Errorf("%w: SAMPLE_RATE must be positive", ErrInvalid)
	case c.BandpassLowHz <= 0 || c.BandpassHighHz <= c.BandpassLowHz || c.BandpassHighHz >= nyq:
		return fmt.Errorf("%w: band-pass %.2f-%.2f Hz must satisfy 0 < low < high < %.2f", ErrInvalid, c.BandpassLowHz, c.BandpassHighHz, nyq)
	case c.BandpassOrder < 2 || c.BandpassOrder%2 != 0:
		return fmt.Errorf("%w: BANDPASS_ORDER must be even and >= 2", ErrInvalid)
	case c.MainsHz != 0 && c.MainsHz != 50 && c.MainsHz != 60:
		return fmt.Errorf("%w: MAINS_HZ must be 50 or 60 (0 disables)", ErrInvalid)
	case c.MainsHz >= nyq:
		return fmt.Errorf("%w: MAINS_HZ %.0f is above Nyquist %.2f", ErrInvalid, c.MainsHz, nyq)
	case c.MainsHz > 0 && c.NotchQ <= 0:
		return fmt.Errorf("%w: NOTCH_Q must be positive", ErrInvalid)
	case c.WindowSeconds <= 0 || c.WarmupSeconds <= 0:
		return fmt.Errorf("%w: WINDOW_SECONDS and WARMUP_SECONDS must be positive", ErrInvalid)
	case c.WarmupSeconds > c.WindowSeconds:
		return fmt.Errorf("%w: WARMUP_SECONDS exceeds WINDOW_SECONDS", ErrInvalid)
	case c.CooldownMS <= 0:
		return fmt.Errorf("%w: COOLDOWN_MS must be positive", ErrInvalid)
	case c.RearmFactor < 0 || c.RearmFactor >= 1:
		return fmt.Errorf("%w: REARM_FACTOR must lie in [0, 1)", ErrInvalid)
	case c.InitialThresholdUV < 0:
		return fmt.Errorf("%w: INITIAL_THRESHOLD_UV must not be negative", ErrInvalid)
	case c.ChannelA < 1 || c.ChannelA > 8 || c.ChannelB < 1 || c.ChannelB > 8 || c.ChannelA == c.ChannelB:
		return fmt.Errorf("%w: CHANNEL_A and CHANNEL_B must be distinct channels in 1..8", ErrInvalid)
	case c.MaxAbsUV < 0:
		return fmt.Errorf("%w: MAX_ABS_UV must not be negative", ErrInvalid)
	case c.EvalCues < 1 || c.EvalRelaxMS <= 0 || c.EvalBlinkMS <= 0:
		return fmt.Errorf("%w: evaluation cues and durations must be positive", ErrInvalid)
	case c.SignalPublishMS <= 0 || c.DisplayUpdateMS <= 0:
		return fmt.Errorf("%w: publish intervals must be positive", ErrInvalid)
	case c.WebServerPort < 0 || c.WebServerPort > 65535:
		return fmt.Errorf("%w: WEB_SERVER_PORT out of range", ErrInvalid)
	}

	switch c.Source {
	case "mock":
	case "cyton":
		if c.SerialPort == "" {
			return fmt.Errorf("%w: SERIAL_PORT is required for the cyton source", ErrInvalid)
		}
		if c.BaudRate <= 0 {
			return fmt.Errorf("%w: BAUD_RATE must be positive", ErrInvalid)
		}
	case "replay":
		if c.ReplayFile == "" {
			return fmt.Errorf("%w: REPLAY_FILE is required for the replay source", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown SOURCE %q", ErrInvalid, c.Source)
	}

	chain, err := dsp.NewChain(c.ChainConfig())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.WindowSamples() < chain.MinSamples() {
		return fmt.Errorf("%w: WINDOW_SECONDS gives %d samples, filtering needs at least %d",
			ErrInvalid, c.WindowSamples(), chain.MinSamples())
	}
	if err := c.CalibrationConfig().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// WindowSamples is the sliding window capacity.
func (c *Config) WindowSamples() int {
	return int(c.WindowSeconds * c.SampleRate)
}

func (c *Config) SamplePeriod() time.Duration {
	return time.Duration(float64(time.Second) / c.SampleRate)
}

func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.CooldownMS) * time.Millisecond
}

func (c *Config) SignalPublishInterval() time.Duration {
	return time.Duration(c.SignalPublishMS) * time.Millisecond
}

func (c *Config) DisplayUpdateInterval() time.Duration {
	return time.Duration(c.DisplayUpdateMS) * time.Millisecond
}

func (c *Config) ProfileTTL() time.Duration {
	return time.Duration(c.ProfileTTLHours) * time.Hour
}

func (c *Config) ChainConfig() dsp.ChainConfig {
	return dsp.ChainConfig{
		SampleRate: c.SampleRate,
		MainsHz:    c.MainsHz,
		NotchQ:     c.NotchQ,
		LowHz:      c.BandpassLowHz,
		HighHz:     c.BandpassHighHz,
		Order:      c.BandpassOrder,
		MinSamples: int(c.WarmupSeconds * c.SampleRate),
	}
}

func (c *Config) CalibrationConfig() calibration.Config {
	return calibration.Config{
		Baseline:       seconds(c.BaselineSeconds),
		CueRest:        time.Duration(c.CueRestMS) * time.Millisecond,
		ResponseWindow: time.Duration(c.ResponseWindowMS) * time.Millisecond,
		Repetitions:    c.CueRepetitions,
		Validation:     seconds(c.ValidationSeconds),
		MaxRetries:     c.ValidationRetries,
		PhaseTimeout:   seconds(c.PhaseTimeoutSeconds),
		Coefficient:    c.TriggerCoefficient,
		Cooldown:       c.Cooldown(),
		Rearm:          c.RearmFactor,
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// InitGlobal initializes the global configuration from file. Only the first
// call has any effect.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance, or nil before InitGlobal.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
