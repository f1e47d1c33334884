package streamserver

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/go-ccstream/attemptstore"
	"github.com/cyberinferno/go-ccstream/blockcodec"
	"github.com/cyberinferno/go-ccstream/handshake"
	"github.com/cyberinferno/go-ccstream/logger"
	"github.com/cyberinferno/go-ccstream/passwordprompt"
	"github.com/cyberinferno/go-ccstream/streamclient"
)

type relayed struct {
	id    uint32
	data  string
	bytes int64
}

// recordingHandler returns a handler that drains each session and reports
// what it received.
func recordingHandler() (StreamHandler, <-chan relayed) {
	ch := make(chan relayed, 8)
	h := StreamHandlerFunc(func(ctx context.Context, s *Session) error {
		data, err := io.ReadAll(s.Reader())
		ch <- relayed{id: s.ID(), data: string(data), bytes: s.BytesReceived()}
		return err
	})

	return h, ch
}

// startServer binds an ephemeral port, serves in the background and returns
// the server with a client Config aimed at it.
func startServer(t *testing.T, cfg Config, attempts attemptstore.Store, handler StreamHandler) (*Server, streamclient.Config) {
	t.Helper()

	cfg.Port = "0"
	srv := New(cfg, nil, attempts, handler)
	srv.Handshake.Sleep = func(time.Duration) {}
	require.NoError(t, srv.Start(context.Background()))

	done := make(chan error, 1)
	go func() { done <- srv.Serve(context.Background()) }()
	t.Cleanup(func() {
		srv.Stop()
		assert.ErrorIs(t, <-done, ErrServerClosed)
	})

	_, port, err := net.SplitHostPort(srv.Addr().String())
	require.NoError(t, err)

	clientCfg := streamclient.DefaultConfig("127.0.0.1")
	clientCfg.Port = port
	clientCfg.PacingDelay = 0

	return srv, clientCfg
}

func TestServer_relaysSessionsSequentially(t *testing.T) {
	handler, got := recordingHandler()
	cfg := DefaultConfig()
	cfg.Password = "secret"
	_, clientCfg := startServer(t, cfg, nil, handler)

	for i, payload := range []string{"first", "second"} {
		client := streamclient.New(clientCfg, nil, passwordprompt.NewSequenceReader("secret"))
		_, err := client.Connect(context.Background())
		require.NoError(t, err)
		require.NoError(t, client.SendHeader([]byte("HDR")))
		require.NoError(t, client.SendPayload([]byte(payload)))
		require.NoError(t, client.Close())

		select {
		case r := <-got:
			assert.Equal(t, uint32(i+1), r.id)
			assert.Equal(t, "HDR"+payload, r.data)
			assert.Equal(t, int64(len("HDR"+payload)), r.bytes)
		case <-time.After(5 * time.Second):
			t.Fatal("stream not relayed")
		}
	}
}

func TestServer_wrongPasswordThenLockout(t *testing.T) {
	store := attemptstore.NewMemoryStore(time.Minute)
	cfg := DefaultConfig()
	cfg.Password = "secret"
	cfg.MaxPasswordAttempts = 1
	cfg.LockoutThreshold = 1
	handler, got := recordingHandler()
	_, clientCfg := startServer(t, cfg, store, handler)

	first := streamclient.New(clientCfg, nil, passwordprompt.NewSequenceReader("wrong"))
	res, err := first.Connect(context.Background())
	require.ErrorIs(t, err, handshake.ErrServerError)
	assert.Equal(t, 1, res.Attempts)

	second := streamclient.New(clientCfg, nil, passwordprompt.NewSequenceReader("secret"))
	_, err = second.Connect(context.Background())
	require.ErrorIs(t, err, handshake.ErrServerBusy)

	assert.Equal(t, 1, store.Len())
	assert.Empty(t, got)
}

func TestServer_headerNotAnnounced(t *testing.T) {
	handler, got := recordingHandler()
	_, clientCfg := startServer(t, DefaultConfig(), nil, handler)

	conn, err := net.Dial("tcp", net.JoinHostPort(clientCfg.Host, clientCfg.Port))
	require.NoError(t, err)
	defer conn.Close()

	codec := blockcodec.NewCodec(conn, blockcodec.RoleClient, nil)
	cmd, err := codec.ReadCommand()
	require.NoError(t, err)
	assert.Equal(t, blockcodec.OK, cmd)

	require.NoError(t, codec.WriteCommand(blockcodec.Password))

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err = codec.ReadCommand()
	require.Error(t, err)
	assert.Empty(t, got)
}

func TestServer_StopEndsServe(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Port = "0"
	srv := New(cfg, logger.NewNopLogger(), nil, nil)
	require.NoError(t, srv.Start(context.Background()))
	assert.True(t, srv.Running.Load())

	err := srv.Start(context.Background())
	require.Error(t, err)

	done := make(chan error, 1)
	go func() { done <- srv.Serve(context.Background()) }()

	srv.Stop()
	srv.Stop()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrServerClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}

	assert.False(t, srv.Running.Load())
}

func TestServer_contextCancelEndsServe(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Port = "0"
	srv := New(cfg, nil, nil, nil)
	require.NoError(t, srv.Start(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrServerClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
}

func TestServer_ServeBeforeStart(t *testing.T) {
	srv := New(DefaultConfig(), nil, nil, nil)

	assert.ErrorIs(t, srv.Serve(context.Background()), ErrNotStarted)
	assert.Nil(t, srv.Addr())
}

func TestCopyHandler(t *testing.T) {
	local, remote := net.Pipe()
	sess := newSession(7, remote, logger.NewNopLogger())
	defer sess.Close()

	assert.Equal(t, uint32(7), sess.ID())
	assert.Equal(t, "pipe", sess.Host)

	go func() {
		_, _ = local.Write([]byte("caption bytes"))
		_ = local.Close()
	}()

	var out bytes.Buffer
	h := NewCopyHandler(&out)
	require.NoError(t, h.HandleStream(context.Background(), sess))

	assert.Equal(t, "caption bytes", out.String())
	assert.Equal(t, int64(len("caption bytes")), sess.BytesReceived())
}

func TestDiscardHandler(t *testing.T) {
	local, remote := net.Pipe()
	sess := newSession(1, remote, logger.NewNopLogger())

	go func() {
		_, _ = local.Write([]byte("ignored"))
		_ = local.Close()
	}()

	require.NoError(t, DiscardHandler{}.HandleStream(context.Background(), sess))
	assert.Equal(t, int64(len("ignored")), sess.BytesReceived())

	require.NoError(t, sess.Close())
	require.NoError(t, sess.Close())
}
