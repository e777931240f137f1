package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"

	"github.com/Tyrowin/roomhub/internal/apperr"
)

// Opcode is the frame type in the low nibble of the first byte.
type Opcode byte

// Opcodes.
const (
	OpContinuation Opcode = 0x0
	OpText         Opcode = 0x1
	OpBinary       Opcode = 0x2
	OpClose        Opcode = 0x8
	OpPing         Opcode = 0x9
	OpPong         Opcode = 0xA
)

const (
	finBit  = 0x80
	maskBit = 0x80
	rsvBits = 0x70

	maxInlineLength  = 125
	len16Marker      = 126
	len64Marker      = 127
	maxControlLength = 125
)

func (op Opcode) control() bool {
	return op >= OpClose
}

// Frame is one decoded frame with its payload already unmasked.
type Frame struct {
	Opcode  Opcode
	Payload []byte
}

// ReadFrame reads one client frame from r. The declared length is checked
// against maxSize (when positive) before the payload is allocated.
func ReadFrame(r io.Reader, maxSize int64) (Frame, error) {
	var head [2]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return Frame{}, err
	}

	if head[0]&rsvBits != 0 {
		return Frame{}, apperr.Protocol("reserved bits set")
	}
	fin := head[0]&finBit != 0
	op := Opcode(head[0] & 0x0F)
	masked := head[1]&maskBit != 0

	length, err := readLength(r, head[1]&0x7F)
	if err != nil {
		return Frame{}, err
	}

	switch {
	case op.control():
		if op != OpClose && op != OpPing && op != OpPong {
			return Frame{}, apperr.Protocol("unknown opcode %#x", byte(op))
		}
		if !fin || length > maxControlLength {
			return Frame{}, apperr.Protocol("invalid control frame")
		}
	case op == OpContinuation || !fin:
		return Frame{}, apperr.Protocol("fragmented frames are not supported")
	case op != OpText && op != OpBinary:
		return Frame{}, apperr.Protocol("unknown opcode %#x", byte(op))
	}

	if !masked {
		return Frame{}, apperr.Protocol("client frames must be masked")
	}
	if maxSize > 0 && length > maxSize {
		return Frame{}, ErrFrameTooLarge
	}

	var mask [4]byte
	if _, err := io.ReadFull(r, mask[:]); err != nil {
		return Frame{}, err
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Frame{}, err
	}
	maskBytes(mask, payload)

	return Frame{Opcode: op, Payload: payload}, nil
}

func readLength(r io.Reader, short byte) (int64, error) {
	switch short {
	case len16Marker:
		var ext [2]byte
		if _, err := io.ReadFull(r, ext[:]); err != nil {
			return 0, err
		}
		return int64(binary.BigEndian.Uint16(ext[:])), nil
	case len64Marker:
		var ext [8]byte
		if _, err := io.ReadFull(r, ext[:]); err != nil {
			return 0, err
		}
		n := binary.BigEndian.Uint64(ext[:])
		if n>>63 != 0 {
			return 0, apperr.Protocol("invalid frame length")
		}
		return int64(n), nil
	default:
		return int64(short), nil
	}
}

// DecodeFrame decodes a complete client text frame held in raw and returns
// its unmasked payload.
func DecodeFrame(raw []byte, maxSize int64) ([]byte, error) {
	f, err := ReadFrame(bytes.NewReader(raw), maxSize)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, apperr.Protocol("truncated frame")
		}
		return nil, err
	}
	if f.Opcode != OpText {
		return nil, apperr.Protocol("expected a text frame")
	}
	return f.Payload, nil
}

// EncodeFrame encodes payload as a single unmasked text frame, the form
// servers send.
func EncodeFrame(payload []byte) []byte {
	return encode(OpText, payload, nil)
}

// EncodeMaskedFrame encodes payload as a masked text frame, the form
// clients send.
func EncodeMaskedFrame(payload []byte, mask [4]byte) []byte {
	return encode(OpText, payload, &mask)
}

func encode(op Opcode, payload []byte, mask *[4]byte) []byte {
	n := len(payload)
	buf := make([]byte, 0, n+14)

	var mb byte
	if mask != nil {
		mb = maskBit
	}

	buf = append(buf, finBit|byte(op))
	switch {
	case n <= maxInlineLength:
		buf = append(buf, mb|byte(n))
	case n <= 0xFFFF:
		buf = append(buf, mb|len16Marker)
		buf = binary.BigEndian.AppendUint16(buf, uint16(n))
	default:
		buf = append(buf, mb|len64Marker)
		buf = binary.BigEndian.AppendUint64(buf, uint64(n))
	}

	if mask == nil {
		return append(buf, payload...)
	}
	buf = append(buf, mask[:]...)
	start := len(buf)
	buf = append(buf, payload...)
	maskBytes(*mask, buf[start:])
	return buf
}

func maskBytes(mask [4]byte, b []byte) {
	for i := range b {
		b[i] ^= mask[i%4]
	}
}
