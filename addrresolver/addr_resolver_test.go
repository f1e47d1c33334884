package addrresolver

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/cyberinferno/go-ccstream/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticResolver struct {
	addrs []string
	err   error
	hosts []string
}

func (r *staticResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	r.hosts = append(r.hosts, host)
	return r.addrs, r.err
}

// scriptedDialer fails for addresses in unreachable and dials the rest for real.
type scriptedDialer struct {
	unreachable map[string]error
	attempts    []string
}

func (d *scriptedDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	d.attempts = append(d.attempts, address)
	if err, ok := d.unreachable[address]; ok {
		return nil, err
	}

	var nd net.Dialer
	return nd.DialContext(ctx, network, address)
}

type scriptedListener struct {
	fail      map[string]error
	attempts  []string
	listening net.Listener
}

func (l *scriptedListener) Listen(ctx context.Context, network, address string) (net.Listener, error) {
	l.attempts = append(l.attempts, network+" "+address)
	if err, ok := l.fail[network]; ok {
		return nil, err
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp4", "127.0.0.1:0")
	l.listening = ln
	return ln, err
}

func listenLoopback(t *testing.T) (net.Listener, string) {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()

	_, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	return ln, port
}

func TestConnect_fallsBackToNextCandidate(t *testing.T) {
	_, port := listenLoopback(t)
	unreachable := errors.New("network is unreachable")
	dialer := &scriptedDialer{unreachable: map[string]error{
		net.JoinHostPort("192.0.2.10", port): unreachable,
	}}
	c := &Connector{
		Resolver: &staticResolver{addrs: []string{"192.0.2.10", "127.0.0.1"}},
		Dialer:   dialer,
		Logger:   logger.NewNopLogger(),
	}

	conn, err := c.Connect(context.Background(), "captions.example", port)
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, net.JoinHostPort("127.0.0.1", port), conn.RemoteAddr().String())
	assert.Equal(t, []string{
		net.JoinHostPort("192.0.2.10", port),
		net.JoinHostPort("127.0.0.1", port),
	}, dialer.attempts)
}

func TestConnect_allCandidatesFail(t *testing.T) {
	errA := errors.New("refused A")
	errB := errors.New("refused B")
	c := &Connector{
		Resolver: &staticResolver{addrs: []string{"192.0.2.1", "2001:db8::1"}},
		Dialer: &scriptedDialer{unreachable: map[string]error{
			"192.0.2.1:2048":     errA,
			"[2001:db8::1]:2048": errB,
		}},
		Logger: logger.NewNopLogger(),
	}

	_, err := c.Connect(context.Background(), "captions.example", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoCandidates)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
}

func TestConnect_resolutionErrors(t *testing.T) {
	t.Run("lookup failure", func(t *testing.T) {
		dnsErr := &net.DNSError{Err: "no such host", Name: "nowhere.invalid", IsNotFound: true}
		c := &Connector{Resolver: &staticResolver{err: dnsErr}, Dialer: &scriptedDialer{}, Logger: logger.NewNopLogger()}

		_, err := c.Connect(context.Background(), "nowhere.invalid", "2048")
		var got *net.DNSError
		assert.ErrorAs(t, err, &got)
	})

	t.Run("empty address list", func(t *testing.T) {
		c := &Connector{Resolver: &staticResolver{}, Dialer: &scriptedDialer{}, Logger: logger.NewNopLogger()}
		_, err := c.Connect(context.Background(), "empty.example", "2048")
		assert.ErrorIs(t, err, ErrNoCandidates)
	})

	t.Run("missing host", func(t *testing.T) {
		c := NewConnector(nil, 0)
		_, err := c.Connect(context.Background(), "  ", "2048")
		assert.ErrorIs(t, err, ErrNoHost)
	})
}

func TestConnect_systemResolver(t *testing.T) {
	_, port := listenLoopback(t)

	conn, err := NewConnector(logger.NewNopLogger(), 0).Connect(context.Background(), "127.0.0.1", port)
	require.NoError(t, err)
	assert.NoError(t, conn.Close())
}

func TestBind(t *testing.T) {
	t.Run("ephemeral port on wildcard", func(t *testing.T) {
		ln, err := NewConnector(logger.NewNopLogger(), 0).Bind(context.Background(), "0")
		require.NoError(t, err)
		defer ln.Close()

		_, port, err := net.SplitHostPort(ln.Addr().String())
		require.NoError(t, err)
		assert.NotEqual(t, "0", port)

		conn, err := net.Dial("tcp4", net.JoinHostPort("127.0.0.1", port))
		require.NoError(t, err)
		_ = conn.Close()
	})

	t.Run("falls back through candidates", func(t *testing.T) {
		busy := errors.New("address already in use")
		l := &scriptedListener{fail: map[string]error{"tcp": busy, "tcp4": busy}}
		c := &Connector{Listener: l, Logger: logger.NewNopLogger()}

		ln, err := c.Bind(context.Background(), "")
		require.NoError(t, err)
		defer ln.Close()

		assert.Equal(t, []string{"tcp :2048", "tcp4 0.0.0.0:2048", "tcp6 [::]:2048"}, l.attempts)
		assert.Same(t, l.listening, ln)
	})

	t.Run("every candidate fails", func(t *testing.T) {
		busy := errors.New("address already in use")
		l := &scriptedListener{fail: map[string]error{"tcp": busy, "tcp4": busy, "tcp6": busy}}
		c := &Connector{Listener: l, Logger: logger.NewNopLogger()}

		_, err := c.Bind(context.Background(), "2048")
		assert.ErrorIs(t, err, ErrNoCandidates)
		assert.ErrorIs(t, err, busy)
	})
}
