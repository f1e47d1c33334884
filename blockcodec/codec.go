// Package blockcodec implements the ccstream wire framing.
//
// A block is laid out as
//
//	command | length          | payload        | \r\n
//	1 byte  | 10 ASCII digits | length bytes   | 2 bytes
//
// Control bytes are also exchanged bare, outside any block, during the
// handshake. A Codec owns one connection for the lifetime of a session.
package blockcodec

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/cyberinferno/go-ccstream/exactio"
	"github.com/cyberinferno/go-ccstream/logger"
)

const (
	// LengthFieldSize is the width of the ASCII length field.
	LengthFieldSize = 10
	// MaxLength is the largest payload length representable in the length field.
	MaxLength int64 = 9999999999
)

var terminator = [2]byte{'\r', '\n'}

var (
	ErrEmptyPayload      = errors.New("blockcodec: empty payload")
	ErrPayloadTooLarge   = errors.New("blockcodec: payload exceeds length field")
	ErrNoCapacity        = errors.New("blockcodec: receive buffer has no capacity")
	ErrInvalidLength     = errors.New("blockcodec: length field is not a positive integer")
	ErrMissingTerminator = errors.New("blockcodec: block terminator missing")
)

// Role tells a Codec which side of the connection it runs on. It only
// affects trace labels: bytes written by the client are tagged "C", bytes
// written by the server "S".
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

// Block is one received frame. Payload aliases the caller's buffer.
type Block struct {
	Command Command
	Payload []byte
	// Declared is the payload length announced on the wire.
	Declared int64
}

// Truncated reports whether part of the payload was discarded because it did
// not fit the receive buffer.
func (b Block) Truncated() bool {
	return int64(len(b.Payload)) < b.Declared
}

// Codec reads and writes blocks and control bytes on a single connection.
// A failed Send or Receive leaves the stream desynchronized; the connection
// must be closed afterwards.
type Codec struct {
	rw   io.ReadWriter
	log  logger.Logger
	sent string
	recv string
}

// NewCodec wraps a connection.
//
// Parameters:
//   - rw: The connection, usually a net.Conn
//   - role: Which side of the protocol this codec speaks for
//   - log: Sink for protocol traces (debug level) and overflow warnings
//
// Returns:
//   - A Codec bound to rw
func NewCodec(rw io.ReadWriter, role Role, log logger.Logger) *Codec {
	if log == nil {
		log = logger.NewNopLogger()
	}

	c := &Codec{rw: rw, log: log, sent: "C", recv: "S"}
	if role == RoleServer {
		c.sent, c.recv = "S", "C"
	}

	return c
}

// Send writes one block.
//
// Parameters:
//   - cmd: The block's command byte
//   - payload: Between 1 and MaxLength bytes
//
// Returns:
//   - An error if the payload is empty or too large, or if any write fails
func (c *Codec) Send(cmd Command, payload []byte) error {
	if len(payload) == 0 {
		return ErrEmptyPayload
	}

	if int64(len(payload)) > MaxLength {
		return ErrPayloadTooLarge
	}

	head := make([]byte, 0, 1+LengthFieldSize)
	head = append(head, byte(cmd))
	head = fmt.Appendf(head, "%0*d", LengthFieldSize, len(payload))

	if _, err := exactio.WriteExactly(c.rw, head); err != nil {
		return fmt.Errorf("blockcodec: send %s: %w", cmd, err)
	}

	if _, err := exactio.WriteExactly(c.rw, payload); err != nil {
		return fmt.Errorf("blockcodec: send %s payload: %w", cmd, err)
	}

	if _, err := exactio.WriteExactly(c.rw, terminator[:]); err != nil {
		return fmt.Errorf("blockcodec: send %s terminator: %w", cmd, err)
	}

	c.log.Debug("block sent",
		logger.Field{Key: "dir", Value: c.sent},
		logger.Field{Key: "command", Value: cmd.String()},
		logger.Field{Key: "length", Value: len(payload)},
	)

	return nil
}

// Receive reads one block into buf. A payload longer than buf is truncated:
// the first len(buf) bytes are kept, the rest is consumed and dropped so the
// stream stays aligned on the next frame.
//
// Parameters:
//   - buf: Receive buffer; its length is the capacity, never written past
//
// Returns:
//   - The block, with Payload = buf[:delivered]
//   - ErrInvalidLength before any payload is read when the length field is
//     not a positive integer, ErrMissingTerminator when the frame does not
//     end in \r\n, or the underlying read error
func (c *Codec) Receive(buf []byte) (Block, error) {
	if len(buf) == 0 {
		return Block{}, ErrNoCapacity
	}

	var head [1 + LengthFieldSize]byte
	if _, err := exactio.ReadExactly(c.rw, head[:]); err != nil {
		return Block{}, fmt.Errorf("blockcodec: receive header: %w", err)
	}

	block := Block{Command: Command(head[0])}
	declared, err := ParseLength(head[1:])
	if err != nil {
		return block, err
	}

	block.Declared = declared
	keep := declared
	if keep > int64(len(buf)) {
		keep = int64(len(buf))
		c.log.Warn("block payload exceeds buffer",
			logger.Field{Key: "command", Value: block.Command.String()},
			logger.Field{Key: "declared", Value: declared},
			logger.Field{Key: "ignored", Value: declared - keep},
		)
	}

	if _, err := exactio.ReadExactly(c.rw, buf[:keep]); err != nil {
		return block, fmt.Errorf("blockcodec: receive payload: %w", err)
	}

	block.Payload = buf[:keep]
	if _, err := exactio.Discard(c.rw, declared-keep); err != nil {
		return block, fmt.Errorf("blockcodec: skip payload: %w", err)
	}

	var end [2]byte
	if _, err := exactio.ReadExactly(c.rw, end[:]); err != nil {
		return block, fmt.Errorf("blockcodec: receive terminator: %w", err)
	}

	if end != terminator {
		return block, ErrMissingTerminator
	}

	c.log.Debug("block received",
		logger.Field{Key: "dir", Value: c.recv},
		logger.Field{Key: "command", Value: block.Command.String()},
		logger.Field{Key: "length", Value: declared},
	)

	return block, nil
}

// WriteCommand sends a bare control byte.
func (c *Codec) WriteCommand(cmd Command) error {
	if err := exactio.WriteByte(c.rw, byte(cmd)); err != nil {
		return fmt.Errorf("blockcodec: send %s: %w", cmd, err)
	}

	c.log.Debug("control sent",
		logger.Field{Key: "dir", Value: c.sent},
		logger.Field{Key: "command", Value: cmd.String()},
	)

	return nil
}

// ReadCommand reads a bare control byte. Unrecognized values are returned
// as-is for the caller to handle.
func (c *Codec) ReadCommand() (Command, error) {
	b, err := exactio.ReadByte(c.rw)
	if err != nil {
		return 0, fmt.Errorf("blockcodec: receive control: %w", err)
	}

	cmd := Command(b)
	c.log.Debug("control received",
		logger.Field{Key: "dir", Value: c.recv},
		logger.Field{Key: "command", Value: cmd.String()},
	)

	return cmd, nil
}

// Write passes opaque bytes through without framing, for the header and
// payload phase after the handshake.
func (c *Codec) Write(p []byte) (int, error) {
	return exactio.WriteExactly(c.rw, p)
}

// Reader exposes the unframed stream for the relay phase.
func (c *Codec) Reader() io.Reader {
	return c.rw
}

// ParseLength decodes a length field. Leading spaces and trailing NUL or
// space padding are accepted so that peers which left-align the digits
// interoperate with the zero-padded form this package writes.
//
// Parameters:
//   - field: The raw length field bytes
//
// Returns:
//   - The positive length, or an error wrapping ErrInvalidLength
func ParseLength(field []byte) (int64, error) {
	digits := strings.TrimRight(strings.TrimLeft(string(field), " "), "\x00 ")
	if digits == "" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidLength, field)
	}

	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return 0, fmt.Errorf("%w: %q", ErrInvalidLength, field)
		}
	}

	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidLength, field)
	}

	return n, nil
}
