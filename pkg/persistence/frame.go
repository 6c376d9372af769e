// Package persistence implements the framed binary record format used by the
// datastore statistics sidecar.
//
// Every record is written as [Magic(1)][OpCode(1)][Length(4)][CRC(4)][Payload(N)],
// little endian, so a truncated or corrupted sidecar is detected on load
// instead of being decoded into stale cluster data.
package persistence

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

// Constants for the sidecar binary protocol.
const (
	// MagicByte opens every frame.
	MagicByte = 0xA5
	// HeaderSize is magic, opcode, length and CRC32: 1+1+4+4 bytes.
	HeaderSize = 10

	// OpStatsHeader carries the sidecar version and the content hash it was computed against.
	OpStatsHeader = 0x01
	// OpStatsBody carries the encoded cluster statistics.
	OpStatsBody = 0x02
)

var (
	// ErrInvalidMagic indicates the stream lost synchronization or is not a sidecar file.
	ErrInvalidMagic = errors.New("invalid magic byte")
	// ErrChecksumMismatch indicates data corruption within the frame payload.
	ErrChecksumMismatch = errors.New("crc32 checksum mismatch")
	// ErrIncompleteFrame indicates the file ended abruptly.
	ErrIncompleteFrame = errors.New("incomplete frame")
	// ErrUnexpectedOpCode indicates a frame of the wrong kind at this position.
	ErrUnexpectedOpCode = errors.New("unexpected frame opcode")
)

// MaxPayload bounds the length field accepted on read. Statistics of very
// long recordings stay far below it; anything larger is a corrupt header.
const MaxPayload = 1 << 30

// Frame is a decoded record.
type Frame struct {
	OpCode  byte
	Payload []byte
}

// FrameWriter appends frames to an io.Writer.
type FrameWriter struct {
	w   io.Writer
	hdr [HeaderSize]byte
}

// NewFrameWriter returns a FrameWriter on w. Callers wrap files in a
// bufio.Writer so header and payload reach the disk together.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w}
}

// WriteFrame writes payload as one frame tagged with op.
func (fw *FrameWriter) WriteFrame(op byte, payload []byte) error {
	if len(payload) > MaxPayload {
		return fmt.Errorf("frame payload of %d bytes exceeds %d", len(payload), MaxPayload)
	}
	fw.hdr = encodeHeader(op, payload)
	if _, err := fw.w.Write(fw.hdr[:]); err != nil {
		return err
	}
	_, err := fw.w.Write(payload)
	return err
}

func encodeHeader(op byte, payload []byte) [HeaderSize]byte {
	var h [HeaderSize]byte
	h[0] = MagicByte
	h[1] = op
	binary.LittleEndian.PutUint32(h[2:6], uint32(len(payload)))
	binary.LittleEndian.PutUint32(h[6:10], crc32.ChecksumIEEE(payload))
	return h
}

// ReadFrame decodes the next frame of r. It returns io.EOF only when r ends
// exactly on a frame boundary.
func ReadFrame(r io.Reader) (Frame, error) {
	var h [HeaderSize]byte
	switch _, err := io.ReadFull(r, h[:]); {
	case errors.Is(err, io.EOF):
		return Frame{}, io.EOF
	case err != nil:
		return Frame{}, ErrIncompleteFrame
	}
	if h[0] != MagicByte {
		return Frame{}, ErrInvalidMagic
	}

	n := binary.LittleEndian.Uint32(h[2:6])
	if n > MaxPayload {
		return Frame{}, fmt.Errorf("%w: length %d", ErrIncompleteFrame, n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Frame{}, ErrIncompleteFrame
	}
	if crc32.ChecksumIEEE(payload) != binary.LittleEndian.Uint32(h[6:10]) {
		return Frame{}, ErrChecksumMismatch
	}
	return Frame{OpCode: h[1], Payload: payload}, nil
}

// ReadExpected reads the next frame and checks that it carries op. A missing
// frame counts as truncation.
func ReadExpected(r io.Reader, op byte) ([]byte, error) {
	f, err := ReadFrame(r)
	if errors.Is(err, io.EOF) {
		return nil, ErrIncompleteFrame
	}
	if err != nil {
		return nil, err
	}
	if f.OpCode != op {
		return nil, fmt.Errorf("%w: got 0x%02x, want 0x%02x", ErrUnexpectedOpCode, f.OpCode, op)
	}
	return f.Payload, nil
}
