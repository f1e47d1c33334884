package streamserver

import (
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/cyberinferno/go-ccstream/blockcodec"
	"github.com/cyberinferno/go-ccstream/logger"
	"github.com/cyberinferno/go-ccstream/metrics"
)

// Session is one accepted connection. It owns the connection exclusively and
// closes it exactly once.
type Session struct {
	id    uint32
	conn  net.Conn
	codec *blockcodec.Codec
	log   logger.Logger

	// Peer is the remote host:port, Host the remote host alone.
	Peer string
	Host string

	received  atomic.Int64
	closeOnce sync.Once
	closeErr  error
}

func newSession(id uint32, conn net.Conn, log logger.Logger) *Session {
	peer := conn.RemoteAddr().String()
	host, _, err := net.SplitHostPort(peer)
	if err != nil {
		host = peer
	}

	sessionLog := log.With(
		logger.Field{Key: "session", Value: id},
		logger.Field{Key: "peer", Value: peer},
	)

	return &Session{
		id:    id,
		conn:  conn,
		codec: blockcodec.NewCodec(conn, blockcodec.RoleServer, sessionLog),
		log:   sessionLog,
		Peer:  peer,
		Host:  host,
	}
}

// ID returns the session's identifier assigned by the server.
func (s *Session) ID() uint32 {
	return s.id
}

// Codec returns the protocol codec bound to the connection.
func (s *Session) Codec() *blockcodec.Codec {
	return s.codec
}

// Logger returns a logger carrying the session id and peer.
func (s *Session) Logger() logger.Logger {
	return s.log
}

// Reader returns the raw header and payload stream. Bytes read through it
// are counted for BytesReceived and the relayed bytes metric.
func (s *Session) Reader() io.Reader {
	return countingReader{r: s.conn, s: s}
}

// BytesReceived returns how many stream bytes were read through Reader.
func (s *Session) BytesReceived() int64 {
	return s.received.Load()
}

// Close closes the connection. Safe to call multiple times and from another
// goroutine, e.g. when the server stops.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close()
	})

	return s.closeErr
}

type countingReader struct {
	r io.Reader
	s *Session
}

func (c countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.s.received.Add(int64(n))
		metrics.RecordRelayedBytes(int64(n))
	}

	return n, err
}
