package streamserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/cyberinferno/go-ccstream/addrresolver"
	"github.com/cyberinferno/go-ccstream/attemptstore"
	"github.com/cyberinferno/go-ccstream/blockcodec"
	"github.com/cyberinferno/go-ccstream/handshake"
	"github.com/cyberinferno/go-ccstream/idgenerator"
	"github.com/cyberinferno/go-ccstream/logger"
	"github.com/cyberinferno/go-ccstream/metrics"
)

var (
	// ErrServerClosed is returned by Serve after Stop.
	ErrServerClosed = errors.New("streamserver: server closed")
	// ErrNotStarted is returned by Serve before a successful Start.
	ErrNotStarted = errors.New("streamserver: server not started")
)

// Config holds the server's listening and handshake settings.
type Config struct {
	Name string
	// Port is the decimal port to bind on all interfaces.
	Port string
	// Password enables the password challenge when non-empty.
	Password string
	// PenaltyDelay is slept after each wrong password; 0 disables the pause.
	PenaltyDelay time.Duration
	// MaxPasswordAttempts closes the connection after this many wrong
	// passwords; 0 means unlimited.
	MaxPasswordAttempts int
	// PasswordBufferSize is the password receive capacity.
	PasswordBufferSize int
	// LockoutThreshold refuses hosts with this many recent failures; 0 disables.
	LockoutThreshold int
}

// DefaultConfig returns a Config for an unprotected server on the default port.
func DefaultConfig() Config {
	return Config{
		Name:               "ccstream",
		Port:               addrresolver.DefaultPort,
		PenaltyDelay:       handshake.DefaultPenaltyDelay,
		PasswordBufferSize: handshake.DefaultBufferSize,
	}
}

// Server accepts caption stream clients one at a time. Each connection is
// authenticated, its binary header acknowledged, and its stream handed to
// Handler. The next connection is accepted only after the current one closes.
type Server struct {
	Logger    logger.Logger
	Name      string
	Port      string
	Listener  net.Listener
	Running   atomic.Bool
	Handshake *handshake.Server
	Handler   StreamHandler
	Connector *addrresolver.Connector

	ids    *idgenerator.IdGenerator
	active atomic.Pointer[Session]
}

// New creates a Server from cfg.
//
// Parameters:
//   - cfg: Listening and handshake settings
//   - log: Logger; nil disables logging
//   - attempts: Failure store for lockout; may be nil
//   - handler: Stream consumer; nil drains the stream
//
// Returns:
//   - A Server ready for Start
func New(cfg Config, log logger.Logger, attempts attemptstore.Store, handler StreamHandler) *Server {
	if log == nil {
		log = logger.NewNopLogger()
	}

	if handler == nil {
		handler = DiscardHandler{}
	}

	if cfg.Name == "" {
		cfg.Name = "ccstream"
	}

	return &Server{
		Logger: log,
		Name:   cfg.Name,
		Port:   cfg.Port,
		Handshake: &handshake.Server{
			Password:         cfg.Password,
			PenaltyDelay:     cfg.PenaltyDelay,
			MaxAttempts:      cfg.MaxPasswordAttempts,
			BufferSize:       cfg.PasswordBufferSize,
			Attempts:         attempts,
			LockoutThreshold: cfg.LockoutThreshold,
			Logger:           log,
		},
		Handler:   handler,
		Connector: addrresolver.NewConnector(log, 0),
		ids:       idgenerator.NewIdGenerator(0),
	}
}

// Start binds the listening socket on all interfaces through Connector. It
// does not accept connections; call Serve for that.
//
// Returns:
//   - An error if the server is already running or no candidate could be bound
func (s *Server) Start(ctx context.Context) error {
	if s.Running.Load() {
		s.Logger.Error("server already running")
		return fmt.Errorf("server %s already running", s.Name)
	}

	ln, err := s.Connector.Bind(ctx, s.Port)
	if err != nil {
		s.Logger.Error("server failed to start", logger.Field{Key: "error", Value: err})
		return fmt.Errorf("server %s failed to start: %w", s.Name, err)
	}

	s.Listener = ln
	s.Running.Store(true)

	s.Logger.Info(fmt.Sprintf("%s server started", s.Name), logger.Field{Key: "addr", Value: ln.Addr().String()})

	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.Listener == nil {
		return nil
	}

	return s.Listener.Addr()
}

// Serve accepts and handles connections sequentially until Stop is called
// or ctx is done.
//
// Returns:
//   - ErrServerClosed after Stop or cancellation
//   - ErrNotStarted if Start has not succeeded
//   - The accept error if accepting fails while running
func (s *Server) Serve(ctx context.Context) error {
	if s.Listener == nil {
		return ErrNotStarted
	}

	stop := context.AfterFunc(ctx, s.Stop)
	defer stop()

	for {
		conn, err := s.Listener.Accept()
		if err != nil {
			if !s.Running.Load() {
				return ErrServerClosed
			}

			s.Logger.Error(fmt.Sprintf("%s server accept error", s.Name), logger.Field{Key: "error", Value: err})
			return fmt.Errorf("server %s accept: %w", s.Name, err)
		}

		s.handle(ctx, conn)
	}
}

// Stop closes the listener and the connection being served. Safe to call
// when the server is not running.
func (s *Server) Stop() {
	if !s.Running.Swap(false) {
		return
	}

	if s.Listener != nil {
		_ = s.Listener.Close()
	}

	if sess := s.active.Load(); sess != nil {
		_ = sess.Close()
	}

	s.Logger.Info(fmt.Sprintf("%s server stopped", s.Name))
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	sess := newSession(s.ids.Id(), conn, s.Logger)
	s.active.Store(sess)
	defer func() {
		s.active.CompareAndSwap(sess, nil)
		_ = sess.Close()
	}()

	// Stop may have raced the Accept above.
	if !s.Running.Load() {
		return
	}

	start := time.Now()
	sess.log.Info("client connected")
	outcome := s.serveSession(ctx, sess)
	metrics.RecordConnection(outcome)
	sess.log.Info("client disconnected",
		logger.Field{Key: "outcome", Value: outcome},
		logger.Field{Key: "bytes", Value: sess.BytesReceived()},
		logger.Field{Key: "duration", Value: time.Since(start).String()},
	)
}

func (s *Server) serveSession(ctx context.Context, sess *Session) string {
	locked, err := s.Handshake.Locked(ctx, sess.Host)
	if err != nil {
		sess.log.Error("lockout check failed", logger.Field{Key: "error", Value: err})
	}

	if locked {
		sess.log.Warn("host locked out")
		_ = s.Handshake.Refuse(sess.Codec(), blockcodec.ConnLimit)
		return metrics.OutcomeRefused
	}

	res, err := s.Handshake.Authenticate(ctx, sess.Codec(), sess.Host)
	if err != nil {
		sess.log.Warn("handshake failed",
			logger.Field{Key: "error", Value: err},
			logger.Field{Key: "state", Value: res.State.String()},
			logger.Field{Key: "attempts", Value: res.Attempts},
		)

		if res.Outcome == handshake.OutcomeRejected {
			return metrics.OutcomeAuthRejected
		}

		return metrics.OutcomeAuthFailed
	}

	if err := s.Handshake.AwaitHeader(sess.Codec()); err != nil {
		sess.log.Warn("binary header not announced", logger.Field{Key: "error", Value: err})
		return metrics.OutcomeNoHeader
	}

	sess.log.Info("receiving stream")
	if err := s.Handler.HandleStream(ctx, sess); err != nil {
		sess.log.Error("stream relay failed", logger.Field{Key: "error", Value: err})
		return metrics.OutcomeRelayFailed
	}

	return metrics.OutcomeRelayed
}
