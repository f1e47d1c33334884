// Package addrresolver turns a host/port pair into candidate socket addresses
// and establishes a connection (or a listening socket) with the first
// candidate that works. Hostnames may resolve to several addresses of both
// families; each is tried in resolver order and only after every candidate
// failed does the whole operation fail.
package addrresolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/cyberinferno/go-ccstream/logger"
)

// DefaultPort is used for both roles when no port is configured.
const DefaultPort = "2048"

var (
	ErrNoHost       = errors.New("addrresolver: server address is not set")
	ErrNoCandidates = errors.New("addrresolver: no candidate address succeeded")
)

// Resolver looks up the addresses of a host. *net.Resolver satisfies it.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Dialer opens outbound connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Listener opens passive sockets. *net.ListenConfig satisfies it.
type Listener interface {
	Listen(ctx context.Context, network, address string) (net.Listener, error)
}

// Connector runs the candidate iteration for connect and bind.
type Connector struct {
	Resolver Resolver
	Dialer   Dialer
	Listener Listener
	Logger   logger.Logger
}

// candidate is one network/address pair tried in order.
type candidate struct {
	network string
	address string
}

// NewConnector builds a Connector on the system resolver.
//
// Parameters:
//   - log: Receives one entry per failed candidate
//   - connectTimeout: Per-candidate connect timeout; 0 means none
//
// Returns:
//   - A ready to use *Connector
func NewConnector(log logger.Logger, connectTimeout time.Duration) *Connector {
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Connector{
		Resolver: net.DefaultResolver,
		Dialer:   &net.Dialer{Timeout: connectTimeout},
		Listener: &net.ListenConfig{},
		Logger:   log,
	}
}

// Connect resolves host and connects to the first reachable candidate.
//
// Parameters:
//   - ctx: Bounds resolution and every connect attempt
//   - host: Hostname or IP literal
//   - port: Service port; DefaultPort when empty
//
// Returns:
//   - The connected net.Conn
//   - ErrNoHost, a wrapped resolution error, or ErrNoCandidates joined with
//     every per-candidate error
func (c *Connector) Connect(ctx context.Context, host, port string) (net.Conn, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return nil, ErrNoHost
	}

	if port == "" {
		port = DefaultPort
	}

	addrs, err := c.Resolver.LookupHost(ctx, host)
	if err != nil {
		c.Logger.Error("address resolution failed", logger.Field{Key: "host", Value: host}, logger.Field{Key: "error", Value: err})
		return nil, fmt.Errorf("addrresolver: resolve %s: %w", host, err)
	}

	candidates := make([]candidate, 0, len(addrs))
	for _, addr := range addrs {
		candidates = append(candidates, candidate{network: "tcp", address: net.JoinHostPort(addr, port)})
	}

	var conn net.Conn
	err = c.try(candidates, "connect", func(cand candidate) error {
		var dialErr error
		conn, dialErr = c.Dialer.DialContext(ctx, cand.network, cand.address)
		return dialErr
	})
	if err != nil {
		return nil, err
	}

	return conn, nil
}

// Bind opens a listening socket on port on all local interfaces. The
// dual-stack wildcard is tried first, then the IPv4 and IPv6 wildcards. The
// backlog is the operating system maximum.
//
// Parameters:
//   - ctx: Bounds every bind attempt
//   - port: Service port; DefaultPort when empty, "0" for an ephemeral port
//
// Returns:
//   - The listening net.Listener, or ErrNoCandidates joined with every
//     per-candidate error
func (c *Connector) Bind(ctx context.Context, port string) (net.Listener, error) {
	if port == "" {
		port = DefaultPort
	}

	candidates := []candidate{
		{network: "tcp", address: net.JoinHostPort("", port)},
		{network: "tcp4", address: net.JoinHostPort("0.0.0.0", port)},
		{network: "tcp6", address: net.JoinHostPort("::", port)},
	}

	var ln net.Listener
	err := c.try(candidates, "bind", func(cand candidate) error {
		var listenErr error
		ln, listenErr = c.Listener.Listen(ctx, cand.network, cand.address)
		return listenErr
	})
	if err != nil {
		return nil, err
	}

	return ln, nil
}

// try calls attempt for each candidate until one succeeds.
func (c *Connector) try(candidates []candidate, op string, attempt func(candidate) error) error {
	if len(candidates) == 0 {
		return fmt.Errorf("%w: resolver returned no addresses", ErrNoCandidates)
	}

	errs := make([]error, 0, len(candidates))
	for i, cand := range candidates {
		err := attempt(cand)
		if err == nil {
			c.Logger.Debug(op+" succeeded", logger.Field{Key: "addr", Value: cand.address})
			return nil
		}

		c.Logger.Warn(op+" failed", logger.Field{Key: "addr", Value: cand.address}, logger.Field{Key: "error", Value: err})
		if i < len(candidates)-1 {
			c.Logger.Info("trying next address")
		}

		errs = append(errs, fmt.Errorf("%s %s: %w", op, cand.address, err))
	}

	return fmt.Errorf("%w: %w", ErrNoCandidates, errors.Join(errs...))
}
