// Package streamclient connects to a ccstream server, authenticates, and
// streams an opaque binary header followed by caption payload data.
package streamclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cyberinferno/go-ccstream/addrresolver"
	"github.com/cyberinferno/go-ccstream/blockcodec"
	"github.com/cyberinferno/go-ccstream/handshake"
	"github.com/cyberinferno/go-ccstream/logger"
	"github.com/cyberinferno/go-ccstream/passwordprompt"
)

// DefaultChunkSize is the read size used by Stream.
const DefaultChunkSize = 4096

var (
	// ErrNotConnected is returned when an operation needs an authenticated connection.
	ErrNotConnected = errors.New("streamclient: not connected")
	// ErrHeaderNotSent is returned by SendPayload before SendHeader.
	ErrHeaderNotSent = errors.New("streamclient: binary header not sent")
	// ErrClosed is returned once the client has been closed.
	ErrClosed = errors.New("streamclient: client closed")
)

// ConnectionState represents where the client is in the session.
type ConnectionState int

const (
	Disconnected   ConnectionState = iota // Not connected
	Connecting                            // Resolving and connecting
	Authenticating                        // Connected, handshake in progress
	Connected                             // Authenticated, header not yet sent
	HeaderSent                            // Header acknowledged, payload may follow
	Closed                                // Closed; the client cannot be reused
)

// String returns a human-readable name for the connection state.
func (cs ConnectionState) String() string {
	switch cs {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Authenticating:
		return "Authenticating"
	case Connected:
		return "Connected"
	case HeaderSent:
		return "HeaderSent"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Config holds configuration for the stream client.
type Config struct {
	// Host is the server hostname or IP literal.
	Host string
	// Port is the server port; addrresolver.DefaultPort when empty.
	Port string
	// ConnectionTimeout bounds each connect attempt; 0 means no timeout.
	ConnectionTimeout time.Duration
	// PacingDelay is slept after every payload write; 0 disables pacing.
	PacingDelay time.Duration
	// ChunkSize is the read size used by Stream; DefaultChunkSize when 0.
	ChunkSize int
	// Prompt is shown when the server asks for a password.
	Prompt string
}

// DefaultConfig returns a Config with default values for the given host.
//
// Parameters:
//   - host: The server hostname or IP literal
//
// Returns:
//   - A Config with defaults: Port 2048, ConnectionTimeout 0,
//     PacingDelay 100ms, ChunkSize 4096.
func DefaultConfig(host string) Config {
	return Config{
		Host:        host,
		Port:        addrresolver.DefaultPort,
		PacingDelay: 100 * time.Millisecond,
		ChunkSize:   DefaultChunkSize,
		Prompt:      handshake.DefaultPrompt,
	}
}

// Client holds one connection to a ccstream server. Use Connect, then
// SendHeader, then SendPayload or Stream, and finally Close. It is safe for
// concurrent use but the protocol itself is strictly sequential.
type Client struct {
	config    Config
	log       logger.Logger
	connector *addrresolver.Connector
	handshake *handshake.Client
	sleep     func(time.Duration)

	mu        sync.RWMutex
	conn      net.Conn
	codec     *blockcodec.Codec
	state     ConnectionState
	closeOnce sync.Once
	closeErr  error
}

// New creates a client in the Disconnected state.
//
// Parameters:
//   - config: Connection settings (e.g. from DefaultConfig)
//   - log: Logger; nil disables logging
//   - passwords: Asked whenever the server challenges; may be nil for
//     servers without a password
//
// Returns:
//   - A new *Client; call Close when done
func New(config Config, log logger.Logger, passwords passwordprompt.Reader) *Client {
	if log == nil {
		log = logger.NewNopLogger()
	}

	if config.ChunkSize <= 0 {
		config.ChunkSize = DefaultChunkSize
	}

	return &Client{
		config:    config,
		log:       log,
		connector: addrresolver.NewConnector(log, config.ConnectionTimeout),
		handshake: &handshake.Client{
			Passwords: passwords,
			Prompt:    config.Prompt,
			Logger:    log,
		},
		sleep: time.Sleep,
		state: Disconnected,
	}
}

// Connect resolves the server, connects to the first reachable address and
// runs the handshake. On any failure the connection is closed.
//
// Parameters:
//   - ctx: Bounds resolution and connecting; the handshake itself is not bounded
//
// Returns:
//   - The handshake Result
//   - An error if the client is not Disconnected, connecting failed, or the
//     server refused the session (handshake.ErrServerBusy, handshake.ErrServerError)
func (c *Client) Connect(ctx context.Context) (handshake.Result, error) {
	c.mu.Lock()
	if c.state != Disconnected {
		state := c.state
		c.mu.Unlock()
		failed := handshake.Result{Outcome: handshake.OutcomeClosedOrError}
		if state == Closed {
			return failed, ErrClosed
		}

		return failed, fmt.Errorf("streamclient: cannot connect in state %s", state)
	}
	c.state = Connecting
	c.mu.Unlock()

	conn, err := c.connector.Connect(ctx, c.config.Host, c.config.Port)
	if err != nil {
		c.setState(Disconnected)
		return handshake.Result{Outcome: handshake.OutcomeClosedOrError}, fmt.Errorf("streamclient: connect: %w", err)
	}

	c.log.Info("connected", logger.Field{Key: "addr", Value: conn.RemoteAddr().String()})

	codec := blockcodec.NewCodec(conn, blockcodec.RoleClient, c.log)

	c.mu.Lock()
	c.conn = conn
	c.codec = codec
	c.state = Authenticating
	c.mu.Unlock()

	res, err := c.handshake.Authenticate(codec)
	if err != nil {
		_ = c.Close()
		return res, err
	}

	c.setState(Connected)
	c.log.Info("authenticated", logger.Field{Key: "attempts", Value: res.Attempts})

	return res, nil
}

// SendHeader announces the binary header, waits for the server's
// acknowledgment and writes header verbatim.
//
// Parameters:
//   - header: The opaque header bytes; may be empty
//
// Returns:
//   - ErrNotConnected before a successful Connect, or the announcement or
//     write error; the connection is closed on failure
func (c *Client) SendHeader(header []byte) error {
	codec, err := c.codecIn(Connected, ErrNotConnected)
	if err != nil {
		return err
	}

	if err := c.handshake.AnnounceHeader(codec); err != nil {
		_ = c.Close()
		return err
	}

	if len(header) > 0 {
		if _, err := codec.Write(header); err != nil {
			_ = c.Close()
			return fmt.Errorf("streamclient: send header: %w", err)
		}
	}

	c.setState(HeaderSent)
	c.log.Debug("binary header sent", logger.Field{Key: "bytes", Value: len(header)})

	return nil
}

// SendPayload writes data verbatim and then sleeps PacingDelay.
//
// Returns:
//   - ErrHeaderNotSent before SendHeader, or the write error; the connection
//     is closed on failure
func (c *Client) SendPayload(data []byte) error {
	codec, err := c.codecIn(HeaderSent, ErrHeaderNotSent)
	if err != nil {
		return err
	}

	if len(data) == 0 {
		return nil
	}

	if _, err := codec.Write(data); err != nil {
		_ = c.Close()
		return fmt.Errorf("streamclient: send payload: %w", err)
	}

	if c.config.PacingDelay > 0 {
		c.sleep(c.config.PacingDelay)
	}

	return nil
}

// Stream copies r to the server through SendPayload until r is exhausted.
// Each read of at most ChunkSize bytes is sent as it arrives, so live input
// is not held back to fill a chunk.
//
// Returns:
//   - The number of payload bytes sent
//   - The first read or send error; io.EOF from r is not an error
func (c *Client) Stream(r io.Reader) (int64, error) {
	buf := make([]byte, c.config.ChunkSize)
	var sent int64

	for {
		n, err := r.Read(buf)
		if n > 0 {
			if sendErr := c.SendPayload(buf[:n]); sendErr != nil {
				return sent, sendErr
			}

			sent += int64(n)
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				return sent, nil
			}

			return sent, fmt.Errorf("streamclient: read input: %w", err)
		}
	}
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.state
}

// Close closes the connection. Safe to call multiple times.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		conn := c.conn
		c.state = Closed
		c.mu.Unlock()

		if conn != nil {
			c.closeErr = conn.Close()
		}

		c.log.Debug("connection closed")
	})

	return c.closeErr
}

func (c *Client) setState(state ConnectionState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Closed {
		c.state = state
	}
}

// codecIn returns the codec when the client is in want, otherwise errWrong
// or ErrClosed.
func (c *Client) codecIn(want ConnectionState, errWrong error) (*blockcodec.Codec, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	switch c.state {
	case want:
		return c.codec, nil
	case Closed:
		return nil, ErrClosed
	default:
		return nil, errWrong
	}
}
