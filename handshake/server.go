package handshake

import (
	"context"
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/cyberinferno/go-ccstream/attemptstore"
	"github.com/cyberinferno/go-ccstream/blockcodec"
	"github.com/cyberinferno/go-ccstream/logger"
	"github.com/cyberinferno/go-ccstream/metrics"
)

const (
	// DefaultPenaltyDelay is the pause before answering a wrong password.
	DefaultPenaltyDelay = 2 * time.Second
	// DefaultBufferSize is the receive capacity for password blocks.
	DefaultBufferSize = 50
)

// Server drives the server side of the handshake on accepted connections.
// The zero value accepts every client without a password.
type Server struct {
	// Password is the shared secret; empty disables the challenge.
	Password string
	// PenaltyDelay is slept after each wrong password; 0 disables the pause.
	// Configuration defaults supply DefaultPenaltyDelay.
	PenaltyDelay time.Duration
	// MaxAttempts caps password attempts per connection; 0 means unlimited.
	MaxAttempts int
	// BufferSize is the password receive capacity; DefaultBufferSize when 0.
	// It is grown to fit Password.
	BufferSize int
	// Attempts, when set, counts failures per peer host across connections.
	Attempts attemptstore.Store
	// LockoutThreshold refuses hosts with this many recorded failures; 0 disables.
	LockoutThreshold int
	// Sleep replaces the penalty pause, which otherwise ends early when the
	// context is done.
	Sleep  func(time.Duration)
	Logger logger.Logger
}

// Locked reports whether peer reached the lockout threshold.
//
// Parameters:
//   - ctx: Context for the attempt store
//   - peer: Peer host
//
// Returns:
//   - true if the peer must be refused with CONN_LIMIT
//   - An error if the attempt store is unavailable
func (s *Server) Locked(ctx context.Context, peer string) (bool, error) {
	if s.Attempts == nil || s.LockoutThreshold <= 0 {
		return false, nil
	}

	n, err := s.Attempts.Count(ctx, peer)
	if err != nil {
		return false, fmt.Errorf("handshake: lockout lookup: %w", err)
	}

	return n >= s.LockoutThreshold, nil
}

// Refuse sends a terminal status (CONN_LIMIT or ERROR) before the caller
// closes the connection.
func (s *Server) Refuse(c *blockcodec.Codec, cmd blockcodec.Command) error {
	return c.WriteCommand(cmd)
}

// Authenticate runs the password challenge (when a password is configured)
// and greets the client with OK.
//
// Parameters:
//   - ctx: Context for the attempt store
//   - c: Codec of the accepted connection
//   - peer: Peer host, the attempt store key
//
// Returns:
//   - The Result; Outcome is OutcomeAccepted exactly when the error is nil
//   - ErrProtocolViolation when the client answers with anything but a
//     PASSWORD block, ErrTooManyAttempts when MaxAttempts is reached, or the
//     connection error
func (s *Server) Authenticate(ctx context.Context, c *blockcodec.Codec, peer string) (Result, error) {
	log := s.logger()
	res := Result{State: AwaitGreeting}

	if s.Password != "" {
		buf := make([]byte, max(s.bufferSize(), len(s.Password)))
		for {
			res.State = PasswordChallenge
			if err := c.WriteCommand(blockcodec.Password); err != nil {
				return res.failed("send challenge", err)
			}

			block, err := c.Receive(buf)
			if err != nil {
				return res.failed("receive password", err)
			}

			if block.Command != blockcodec.Password {
				return res.failed("receive password", fmt.Errorf("%w: got %s block", ErrProtocolViolation, block.Command))
			}

			res.State = PasswordSent
			res.Attempts++
			if s.matches(block) {
				break
			}

			metrics.RecordPasswordFailure()
			log.Warn("wrong password", logger.Field{Key: "attempt", Value: res.Attempts})
			s.recordFailure(ctx, peer)
			s.sleep(ctx, s.PenaltyDelay)
			if err := ctx.Err(); err != nil {
				return res.failed("penalty", err)
			}

			if s.MaxAttempts > 0 && res.Attempts >= s.MaxAttempts {
				_ = s.Refuse(c, blockcodec.Error)
				return res.rejected(ErrTooManyAttempts)
			}

			if err := c.WriteCommand(blockcodec.WrongPassword); err != nil {
				return res.failed("send wrong password", err)
			}
		}

		s.resetFailures(ctx, peer)
	}

	if err := c.WriteCommand(blockcodec.OK); err != nil {
		return res.failed("send greeting", err)
	}

	return res.accepted()
}

// AwaitHeader waits for the client's BIN_HEADER announcement and
// acknowledges it with OK. Afterwards the connection carries the raw
// header and payload stream.
//
// Returns:
//   - ErrHeaderExpected if the client sent another control byte, or the
//     connection error
func (s *Server) AwaitHeader(c *blockcodec.Codec) error {
	cmd, err := c.ReadCommand()
	if err != nil {
		return fmt.Errorf("handshake: await header: %w", err)
	}

	if cmd != blockcodec.BinHeader {
		return fmt.Errorf("%w: got %s", ErrHeaderExpected, cmd)
	}

	if err := c.WriteCommand(blockcodec.OK); err != nil {
		return fmt.Errorf("handshake: acknowledge header: %w", err)
	}

	return nil
}

// matches compares the received password byte for byte. A truncated block
// never matches, whatever its retained prefix.
func (s *Server) matches(block blockcodec.Block) bool {
	if block.Truncated() {
		return false
	}

	return subtle.ConstantTimeCompare(block.Payload, []byte(s.Password)) == 1
}

func (s *Server) recordFailure(ctx context.Context, peer string) {
	if s.Attempts == nil {
		return
	}

	n, err := s.Attempts.Record(ctx, peer)
	if err != nil {
		s.logger().Error("attempt store unavailable", logger.Field{Key: "error", Value: err})
		return
	}

	s.logger().Debug("failure recorded", logger.Field{Key: "host", Value: peer}, logger.Field{Key: "failures", Value: n})
}

func (s *Server) resetFailures(ctx context.Context, peer string) {
	if s.Attempts == nil {
		return
	}

	if err := s.Attempts.Reset(ctx, peer); err != nil {
		s.logger().Error("attempt store unavailable", logger.Field{Key: "error", Value: err})
	}
}

func (s *Server) sleep(ctx context.Context, d time.Duration) {
	if s.Sleep != nil {
		s.Sleep(d)
		return
	}

	if d <= 0 {
		return
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func (s *Server) bufferSize() int {
	if s.BufferSize <= 0 {
		return DefaultBufferSize
	}

	return s.BufferSize
}

func (s *Server) logger() logger.Logger {
	if s.Logger == nil {
		return logger.NewNopLogger()
	}

	return s.Logger
}
