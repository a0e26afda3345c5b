// Package protocol implements the wire framing shared by the sender and the
// receiver: a 4-byte big-endian length followed by exactly that many payload
// bytes. One connection carries one message.
package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// HeaderSize is the length of the size prefix in bytes.
const HeaderSize = 4

var (
	// ErrNoHeader is returned when the peer closes before a full length
	// header arrives. No payload is available in that case.
	ErrNoHeader = errors.New("protocol: connection closed before length header")

	// ErrTruncated matches a *TruncatedError.
	ErrTruncated = errors.New("protocol: payload truncated")

	// ErrTooLarge is returned when a payload does not fit the header, or a
	// declared length exceeds the reader's limit.
	ErrTooLarge = errors.New("protocol: payload too large")
)

// TruncatedError reports a message whose connection closed before the
// declared number of bytes arrived.
type TruncatedError struct {
	Declared uint32
	Received int
	Err      error
}

func (e *TruncatedError) Error() string {
	return fmt.Sprintf("protocol: payload truncated: declared %d bytes, received %d", e.Declared, e.Received)
}

func (e *TruncatedError) Is(target error) bool { return target == ErrTruncated }

func (e *TruncatedError) Unwrap() error { return e.Err }

// Encode returns the framed form of payload.
func Encode(payload []byte) ([]byte, error) {
	if uint64(len(payload)) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(payload))
	}

	out := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(out[:HeaderSize], uint32(len(payload)))
	copy(out[HeaderSize:], payload)
	return out, nil
}

// WriteMessage writes one framed message to w.
func WriteMessage(w io.Writer, payload []byte) error {
	if uint64(len(payload)) > math.MaxUint32 {
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, len(payload))
	}

	var hdr [HeaderSize]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))

	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	return nil
}

// ReadMessage reads one framed message from r. A limit of zero disables the
// size check.
//
// When r ends before the declared length is reached the bytes received so far
// are returned together with a *TruncatedError.
func ReadMessage(r io.Reader, limit uint32) ([]byte, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrNoHeader
		}
		return nil, fmt.Errorf("%w: %w", ErrNoHeader, err)
	}

	declared := binary.BigEndian.Uint32(hdr[:])
	if limit > 0 && declared > limit {
		return nil, fmt.Errorf("%w: declared %d bytes, limit %d", ErrTooLarge, declared, limit)
	}

	var buf bytes.Buffer
	n, err := io.CopyN(&buf, r, int64(declared))
	if n < int64(declared) {
		if err == nil || errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return buf.Bytes(), &TruncatedError{Declared: declared, Received: int(n), Err: err}
	}

	return buf.Bytes(), nil
}
