package streamserver

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/cyberinferno/go-ccstream/logger"
)

// StreamHandler consumes the raw header and payload stream of an
// authenticated session. It returns when the client closes the stream or
// on error; the server closes the connection afterwards.
type StreamHandler interface {
	HandleStream(ctx context.Context, s *Session) error
}

// StreamHandlerFunc adapts a function to StreamHandler.
type StreamHandlerFunc func(ctx context.Context, s *Session) error

// HandleStream implements StreamHandler.
func (f StreamHandlerFunc) HandleStream(ctx context.Context, s *Session) error {
	return f(ctx, s)
}

// DiscardHandler drains the stream.
type DiscardHandler struct{}

// HandleStream implements StreamHandler.
func (DiscardHandler) HandleStream(ctx context.Context, s *Session) error {
	n, err := io.Copy(io.Discard, s.Reader())
	if err != nil {
		return fmt.Errorf("relay: %w", err)
	}

	s.Logger().Debug("stream discarded", logger.Field{Key: "bytes", Value: n})

	return nil
}

// CopyHandler appends every session's stream to W, one session after another.
type CopyHandler struct {
	mu sync.Mutex
	W  io.Writer
}

// NewCopyHandler returns a CopyHandler writing to w.
func NewCopyHandler(w io.Writer) *CopyHandler {
	return &CopyHandler{W: w}
}

// HandleStream implements StreamHandler.
func (h *CopyHandler) HandleStream(ctx context.Context, s *Session) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	n, err := io.Copy(h.W, s.Reader())
	if err != nil {
		return fmt.Errorf("relay: %w", err)
	}

	s.Logger().Debug("stream copied", logger.Field{Key: "bytes", Value: n})

	return nil
}
