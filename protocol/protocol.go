// Package protocol implements the length-prefixed binary frame protocol spoken
// between two stream-rpc peers.
//
// Every frame starts with a 4-byte big-endian length that counts all bytes
// following the length field, then a 4-byte tagged request ID. The body layout
// depends on the tag bits of the ID:
//
//	request:        len(4) | id(4) | nameLen(1) | name(nameLen) | payload ...
//	response:       len(4) | id(4) | payload ...
//	error response: len(4) | id(4) | code(4) | message ...
//
// Request ID tagging:
//
//	bit 31: set on responses, clear on requests
//	bit 30: set on engine-level error responses (only meaningful with bit 31)
//	bits 0..30 of a request: the caller's sequence number
//
// All integers are big-endian. There is no version field.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	LengthSize = 4 // length prefix
	IDSize     = 4 // tagged request ID

	// ResponseFlag marks a frame as the response to a previously issued call.
	ResponseFlag uint32 = 0x80000000
	// ErrorFlag marks a response as an engine-level error.
	ErrorFlag uint32 = 0x40000000
	// SeqMask recovers the sequence number from a tagged ID.
	SeqMask uint32 = 0x7fffffff
	// MaxSeq is the largest sequence number a peer issues for its own calls.
	// Keeping bit 30 clear means a success response can never be mistaken
	// for an error response.
	MaxSeq uint32 = 0x3fffffff

	MaxMethodLen = 255

	DefaultMaxFrameSize uint32 = 16 * 1024 * 1024
)

var (
	// ErrMalformedFrame is returned by Decode when the length field disagrees
	// with the body layout.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrFrameTooLarge is returned when a frame exceeds the size limit.
	ErrFrameTooLarge = errors.New("frame too large")
	// ErrMethodTooLong is returned when a method name does not fit in one byte.
	ErrMethodTooLong = errors.New("method name longer than 255 bytes")
)

// Kind distinguishes the three frame bodies.
type Kind byte

const (
	KindRequest  Kind = 0
	KindResponse Kind = 1
	KindError    Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	case KindError:
		return "error"
	}
	return fmt.Sprintf("kind(%d)", byte(k))
}

// Frame is one decoded unit of wire data.
type Frame struct {
	Kind    Kind
	Seq     uint32 // sequence number with the tag bits stripped
	Method  string // requests only, "Service.Method"
	Payload []byte // requests and success responses
	Code    Code   // error responses only
	Message string // error responses only
}

// ID returns the tagged request ID carried on the wire for f.
func (f *Frame) ID() uint32 {
	switch f.Kind {
	case KindResponse:
		return f.Seq | ResponseFlag
	case KindError:
		return f.Seq | ResponseFlag | ErrorFlag
	}
	return f.Seq & SeqMask
}

// Encode assembles f into one contiguous buffer, length prefix included.
// Frames are always submitted to a stream as a single buffer so that a
// write lock around one Write call keeps frames from interleaving.
func (f *Frame) Encode() ([]byte, error) {
	switch f.Kind {
	case KindRequest:
		return EncodeRequest(f.Seq, f.Method, f.Payload)
	case KindResponse:
		return EncodeResponse(f.Seq, f.Payload), nil
	case KindError:
		return EncodeError(f.Seq, f.Code, f.Message), nil
	}
	return nil, fmt.Errorf("protocol: unknown frame kind %d", f.Kind)
}

// EncodeRequest builds a request frame. The top two bits of seq are cleared.
func EncodeRequest(seq uint32, method string, payload []byte) ([]byte, error) {
	if len(method) > MaxMethodLen {
		return nil, ErrMethodTooLong
	}
	body := IDSize + 1 + len(method) + len(payload)
	buf := make([]byte, LengthSize+body)

	binary.BigEndian.PutUint32(buf[0:4], uint32(body))
	binary.BigEndian.PutUint32(buf[4:8], seq&SeqMask)
	buf[8] = byte(len(method))
	n := copy(buf[9:], method)
	copy(buf[9+n:], payload)
	return buf, nil
}

// EncodeResponse builds a success response frame for seq.
func EncodeResponse(seq uint32, payload []byte) []byte {
	body := IDSize + len(payload)
	buf := make([]byte, LengthSize+body)

	binary.BigEndian.PutUint32(buf[0:4], uint32(body))
	binary.BigEndian.PutUint32(buf[4:8], (seq&SeqMask)|ResponseFlag)
	copy(buf[8:], payload)
	return buf
}

// EncodeError builds an engine-level error response frame for seq.
func EncodeError(seq uint32, code Code, message string) []byte {
	body := IDSize + 4 + len(message)
	buf := make([]byte, LengthSize+body)

	binary.BigEndian.PutUint32(buf[0:4], uint32(body))
	binary.BigEndian.PutUint32(buf[4:8], (seq&SeqMask)|ResponseFlag|ErrorFlag)
	binary.BigEndian.PutUint32(buf[8:12], uint32(code))
	copy(buf[12:], message)
	return buf
}

// ExactReader fills p completely or fails. stream.Stream satisfies it.
type ExactReader interface {
	ReadFull(p []byte) error
}

type readerFull struct{ r io.Reader }

func (r readerFull) ReadFull(p []byte) error {
	_, err := io.ReadFull(r.r, p)
	return err
}

// FromReader adapts a plain io.Reader to ExactReader using io.ReadFull.
func FromReader(r io.Reader) ExactReader {
	return readerFull{r: r}
}

// Decode reads exactly one frame from r. maxFrameSize bounds the length
// field; zero means DefaultMaxFrameSize.
//
// The length prefix is read first, then exactly that many bytes, so a
// successful Decode never consumes bytes belonging to the next frame.
func Decode(r ExactReader, maxFrameSize uint32) (*Frame, error) {
	if maxFrameSize == 0 {
		maxFrameSize = DefaultMaxFrameSize
	}

	var lenBuf [LengthSize]byte
	if err := r.ReadFull(lenBuf[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length < IDSize {
		return nil, fmt.Errorf("%w: length %d shorter than request id", ErrMalformedFrame, length)
	}
	if length > maxFrameSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, length, maxFrameSize)
	}

	body := make([]byte, length)
	if err := r.ReadFull(body); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return parseBody(body)
}

func parseBody(body []byte) (*Frame, error) {
	id := binary.BigEndian.Uint32(body[0:4])
	rest := body[IDSize:]

	if id&ResponseFlag == 0 {
		if len(rest) < 1 {
			return nil, fmt.Errorf("%w: request without method length", ErrMalformedFrame)
		}
		n := int(rest[0])
		if len(rest)-1 < n {
			return nil, fmt.Errorf("%w: method length %d exceeds frame", ErrMalformedFrame, n)
		}
		return &Frame{
			Kind:    KindRequest,
			Seq:     id & SeqMask,
			Method:  string(rest[1 : 1+n]),
			Payload: rest[1+n:],
		}, nil
	}

	seq := id &^ (ResponseFlag | ErrorFlag)
	if id&ErrorFlag != 0 {
		if len(rest) < 4 {
			return nil, fmt.Errorf("%w: error response without code", ErrMalformedFrame)
		}
		return &Frame{
			Kind:    KindError,
			Seq:     seq,
			Code:    Code(binary.BigEndian.Uint32(rest[0:4])),
			Message: string(rest[4:]),
		}, nil
	}
	return &Frame{Kind: KindResponse, Seq: seq, Payload: rest}, nil
}
