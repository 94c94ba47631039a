// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package acquisition provides the raw frame sources: the OpenBCI Cyton
// board over serial, a synthetic generator and CSV replay.
package acquisition

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jacobsa/go-serial/serial"

	"github.com/relabs-tech/blink_computer/internal/eeg"
	"github.com/relabs-tech/blink_computer/internal/metrics"
)

const (
	PacketSize   = 33
	packetHeader = 0xA0
	footerMask   = 0xF0
	footerBase   = 0xC0

	// ADS1299 at gain 24 with a 4.5 V reference.
	scaleUV = 4.5 / 24 / (1<<23 - 1) * 1e6
)

var ErrBadPacket = errors.New("malformed cyton packet")

// Packet is one decoded board sample.
type Packet struct {
	Counter  uint8
	Channels [8]float64 // microvolts
	Aux      [6]byte
}

// ParsePacket decodes a full 33-byte packet including header and footer.
func ParsePacket(b []byte) (Packet, error) {
	if len(b) != PacketSize {
		return Packet{}, fmt.Errorf("%w: %d bytes", ErrBadPacket, len(b))
	}
	if b[0] != packetHeader {
		return Packet{}, fmt.Errorf("%w: header 0x%02X", ErrBadPacket, b[0])
	}
	if b[32]&footerMask != footerBase {
		return Packet{}, fmt.Errorf("%w: footer 0x%02X", ErrBadPacket, b[32])
	}

	p := Packet{Counter: b[1]}
	for ch := 0; ch < 8; ch++ {
		off := 2 + 3*ch
		p.Channels[ch] = float64(int24(b[off], b[off+1], b[off+2])) * scaleUV
	}
	copy(p.Aux[:], b[26:32])
	return p, nil
}

func int24(hi, mid, lo byte) int32 {
	v := int32(hi)<<16 | int32(mid)<<8 | int32(lo)
	if v&0x800000 != 0 {
		v -= 1 << 24
	}
	return v
}

// PacketReader finds packet boundaries in a byte stream, resynchronising on
// the next header byte when a footer does not match.
type PacketReader struct {
	r *bufio.Reader
}

func NewPacketReader(r io.Reader) *PacketReader {
	return &PacketReader{r: bufio.NewReaderSize(r, 4096)}
}

// ReadPacket returns the next valid packet and the number of bytes skipped
// to find it.
func (pr *PacketReader) ReadPacket() (Packet, int, error) {
	skipped := 0
	for {
		b, err := pr.r.ReadByte()
		if err != nil {
			return Packet{}, skipped, err
		}
		if b != packetHeader {
			skipped++
			continue
		}

		rest, err := pr.r.Peek(PacketSize - 1)
		if err != nil {
			return Packet{}, skipped, err
		}
		buf := make([]byte, 0, PacketSize)
		buf = append(buf, b)
		buf = append(buf, rest...)

		p, perr := ParsePacket(buf)
		if perr != nil {
			skipped++
			continue
		}
		if _, err := pr.r.Discard(PacketSize - 1); err != nil {
			return Packet{}, skipped, err
		}
		return p, skipped, nil
	}
}

// Cyton streams frames from the board. Missing sample counters advance the
// tick index without producing frames.
type Cyton struct {
	port   io.ReadWriteCloser
	reader *PacketReader
	chA    int
	chB    int
	period time.Duration

	start       time.Time
	index       int64
	lastCounter uint8
	seen        bool
}

// OpenCyton opens the serial port and starts streaming. Channels are 1-based.
func OpenCyton(portName string, baud, chA, chB int, sampleRate float64) (*Cyton, error) {
	options := serial.OpenOptions{
		PortName:        portName,
		BaudRate:        uint(baud),
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 1,
		ParityMode:      serial.PARITY_NONE,
	}

	port, err := serial.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}
	slog.Info("cyton: serial port opened", "port", portName, "baud", baud)

	c := NewCyton(port, chA, chB, sampleRate)
	if err := c.Start(); err != nil {
		port.Close()
		return nil, err
	}
	return c, nil
}

func NewCyton(port io.ReadWriteCloser, chA, chB int, sampleRate float64) *Cyton {
	return &Cyton{
		port:   port,
		reader: NewPacketReader(port),
		chA:    chA - 1,
		chB:    chB - 1,
		period: time.Duration(float64(time.Second) / sampleRate),
	}
}

// Start sends the stream-start command.
func (c *Cyton) Start() error {
	if _, err := c.port.Write([]byte{'b'}); err != nil {
		return fmt.Errorf("failed to start cyton stream: %w", err)
	}
	c.start = time.Now()
	return nil
}

// Next blocks on the serial port; closing the source unblocks it.
func (c *Cyton) Next(ctx context.Context) (eeg.RawFrame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return eeg.RawFrame{}, err
		}

		p, skipped, err := c.reader.ReadPacket()
		if skipped > 0 {
			slog.Debug("cyton: resynchronised", "skipped_bytes", skipped)
		}
		if err != nil {
			return eeg.RawFrame{}, fmt.Errorf("cyton read: %w", err)
		}

		if c.seen {
			step := int64(uint8(p.Counter - c.lastCounter))
			if step == 0 {
				continue // repeated counter
			}
			if step > 1 {
				metrics.TicksSkipped.Add(float64(step - 1))
			}
			c.index += step
		}
		c.seen = true
		c.lastCounter = p.Counter

		return eeg.RawFrame{
			Index: c.index,
			Time:  c.start.Add(time.Duration(c.index) * c.period),
			A:     p.Channels[c.chA],
			B:     p.Channels[c.chB],
		}, nil
	}
}

// Close stops the stream and releases the port.
func (c *Cyton) Close() error {
	if _, err := c.port.Write([]byte{'s'}); err != nil {
		slog.Warn("cyton: failed to send stop command", "err", err)
	}
	return c.port.Close()
}
