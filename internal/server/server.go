// Package server accepts client connections and speaks both wire protocols
// on a single port: raw s16le PCM with line-oriented output, and WebSocket
// with binary audio frames and JSON output. The protocol is sniffed from
// the first bytes of each connection.
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/soniclane/streamscribe/internal/engine"
	"github.com/soniclane/streamscribe/internal/observe"
	"github.com/soniclane/streamscribe/internal/session"
)

// ErrListen wraps a failure to bind the listen address, so callers can tell
// a configuration problem apart from runtime failures.
var ErrListen = errors.New("server: listen")

// Options configures a Server.
type Options struct {
	// Addr is the TCP listen address, e.g. "localhost:43007". Required.
	Addr string

	// NewEngine builds a fresh online engine for each session. Required.
	NewEngine func() (*engine.Engine, error)

	// NewTranslator builds a per-session translator. Optional; nil means
	// records are delivered untranslated.
	NewTranslator func() session.Translator

	// Metrics receives server telemetry. Optional.
	Metrics *observe.Metrics

	// MinChunkSeconds and MaxStaleSeconds tune the session cadence; zero
	// uses the session defaults.
	MinChunkSeconds float64
	MaxStaleSeconds float64

	// Log is the server logger. Defaults to slog.Default().
	Log *slog.Logger
}

// Server owns the listen socket and the per-connection session lifecycles.
type Server struct {
	opts Options
	log  *slog.Logger

	mu   sync.Mutex
	addr string
}

// New creates a Server.
func New(opts Options) (*Server, error) {
	if opts.Addr == "" {
		return nil, errors.New("server: Options.Addr is required")
	}
	if opts.NewEngine == nil {
		return nil, errors.New("server: Options.NewEngine is required")
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	return &Server{opts: opts, log: opts.Log}, nil
}

// Serve listens on the configured address and handles connections until ctx
// is cancelled. A bind failure is returned wrapped in ErrListen; cancelled
// contexts return nil after in-flight sessions drain.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("%w %s: %v", ErrListen, s.opts.Addr, err)
	}
	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()
	s.log.Info("listening", "addr", ln.Addr().String())

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				time.Sleep(50 * time.Millisecond)
				continue
			}
			return fmt.Errorf("server: accept: %w", err)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

// Addr returns the bound listen address, or "" before Serve has bound it.
// Useful with a ":0" configured address.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// handleConn sniffs the protocol and runs one session over the connection.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	log := s.log.With("remote", conn.RemoteAddr().String())

	br := bufio.NewReaderSize(conn, maxHandshakePeek)
	if isWebSocketHandshake(br) {
		log.Debug("websocket client connected")
		s.serveWebSocket(ctx, &bufferedConn{Conn: conn, r: br}, log)
		return
	}

	log.Debug("tcp client connected")
	s.runSession(ctx, newTCPTransport(conn, br), log)
}

// serveWebSocket completes the HTTP upgrade on an already-accepted
// connection by serving exactly one request off it, then runs the session
// over the upgraded socket.
func (s *Server) serveWebSocket(ctx context.Context, conn net.Conn, log *slog.Logger) {
	done := make(chan struct{})
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer close(done)
		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: []string{"*"},
		})
		if err != nil {
			log.Debug("websocket upgrade failed", "err", err)
			return
		}
		t := newWSTransport(c)
		defer t.Close()

		pingCtx, cancelPing := context.WithCancel(ctx)
		defer cancelPing()
		go t.pingLoop(pingCtx)

		s.runSession(ctx, t, log)
	})

	srv := &http.Server{Handler: handler, BaseContext: func(net.Listener) context.Context { return ctx }}
	ln := newOneShotListener(conn)
	go srv.Serve(ln) //nolint:errcheck // always errors once the single conn is consumed

	select {
	case <-done:
	case <-ctx.Done():
	}
	srv.Close()
}

// runSession builds the per-connection engine and session and runs it to
// completion.
func (s *Server) runSession(ctx context.Context, t session.Transport, log *slog.Logger) {
	eng, err := s.opts.NewEngine()
	if err != nil {
		log.Error("engine setup failed", "err", err)
		if werr := t.WriteError(ctx, session.ErrorKindUnavailable); werr != nil {
			log.Debug("error record not delivered", "err", werr)
		}
		return
	}

	var tr session.Translator
	if s.opts.NewTranslator != nil {
		tr = s.opts.NewTranslator()
	}

	sess, err := session.New(session.Options{
		Engine:          eng,
		Transport:       t,
		Translator:      tr,
		Metrics:         s.opts.Metrics,
		MinChunkSeconds: s.opts.MinChunkSeconds,
		MaxStaleSeconds: s.opts.MaxStaleSeconds,
		Log:             log,
	})
	if err != nil {
		log.Error("session setup failed", "err", err)
		return
	}

	start := time.Now()
	if err := sess.Run(ctx); err != nil && ctx.Err() == nil {
		log.Warn("session ended with error", "err", err, "duration", time.Since(start))
		return
	}
	log.Info("session finished", "duration", time.Since(start))
}

// oneShotListener hands a single pre-accepted connection to http.Serve.
type oneShotListener struct {
	mu   sync.Mutex
	conn net.Conn
	done chan struct{}
}

func newOneShotListener(conn net.Conn) *oneShotListener {
	return &oneShotListener{conn: conn, done: make(chan struct{})}
}

func (l *oneShotListener) Accept() (net.Conn, error) {
	l.mu.Lock()
	conn := l.conn
	l.conn = nil
	l.mu.Unlock()
	if conn != nil {
		return conn, nil
	}
	<-l.done
	return nil, net.ErrClosed
}

func (l *oneShotListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	select {
	case <-l.done:
	default:
		close(l.done)
	}
	return nil
}

func (l *oneShotListener) Addr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4zero}
}
