package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"golang.org/x/sync/errgroup"
)

const (
	helloTimeout    = 10 * time.Second
	writeTimeout    = 10 * time.Second
	shutdownTimeout = 5 * time.Second
)

// ServerConfig configures a relay server.
type ServerConfig struct {
	Listen string // listen address, e.g. ":9411"
	Token  string // static bearer token; empty disables auth
	Echo   bool   // answer want-reply frames server-side instead of forwarding
	Logger *slog.Logger
}

// Server pairs phone and watch endpoints and relays frames between
// them. Pair state lives in memory; queued transfers survive endpoint
// reconnects but not a server restart.
type Server struct {
	cfg    ServerConfig
	logger *slog.Logger

	mu    sync.Mutex
	pairs map[string]*pairState
}

// NewServer creates a relay server. The logger must not be nil.
func NewServer(cfg ServerConfig) *Server {
	return &Server{
		cfg:    cfg,
		logger: cfg.Logger,
		pairs:  make(map[string]*pairState),
	}
}

// Run listens on cfg.Listen and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("relay: listen %s: %w", s.cfg.Listen, err)
	}

	return s.Serve(ctx, ln)
}

// Serve accepts relay connections on ln until ctx is cancelled, then
// shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", s.handleHealth)

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.logger.Info("relay listening",
		slog.String("addr", ln.Addr().String()),
		slog.Bool("auth", s.cfg.Token != ""),
		slog.Bool("echo", s.cfg.Echo),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("relay: serving: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-ctx.Done()

		// Websocket connections are hijacked and invisible to
		// Shutdown; close them first so read loops drain.
		s.closeAllEndpoints()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("relay: shutdown: %w", err)
		}

		return nil
	})

	return g.Wait()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Token != "" {
		bearer := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if bearer != s.cfg.Token {
			s.logger.Warn("relay: rejected connection", slog.String("remote", r.RemoteAddr))
			http.Error(w, "unauthorized", http.StatusUnauthorized)

			return
		}
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("relay: websocket accept failed", "error", err)
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	s.serveConn(r.Context(), conn)
}

// serveConn reads the hello, registers the endpoint with its pair, and
// relays frames until the connection drops.
func (s *Server) serveConn(ctx context.Context, conn *websocket.Conn) {
	helloCtx, cancel := context.WithTimeout(ctx, helloTimeout)
	defer cancel()

	var hello frame
	if err := wsjson.Read(helloCtx, conn, &hello); err != nil {
		conn.Close(websocket.StatusPolicyViolation, "missing hello")
		return
	}

	if hello.Kind != kindHello || !validRole(hello.Role) || hello.Pair == "" {
		s.logger.Warn("relay: bad hello",
			slog.String("kind", hello.Kind),
			slog.String("role", hello.Role),
		)
		conn.Close(websocket.StatusPolicyViolation, "bad hello")

		return
	}

	pair := s.pair(hello.Pair)
	ep := &endpoint{role: hello.Role, conn: conn, observe: hello.Observe, drain: hello.Drain}

	pair.attach(ep)
	defer pair.detach(ep)

	s.logger.Info("relay: endpoint connected",
		slog.String("pair", hello.Pair),
		slog.String("role", hello.Role),
	)

	for {
		var f frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				s.logger.Info("relay: endpoint disconnected",
					slog.String("pair", hello.Pair),
					slog.String("role", hello.Role),
				)
			} else {
				s.logger.Warn("relay: endpoint read failed",
					slog.String("pair", hello.Pair),
					slog.String("role", hello.Role),
					"error", err,
				)
			}

			return
		}

		pair.dispatch(ep, &f, s.cfg.Echo)
	}
}

// pair returns the state for pairID, creating it on first use.
func (s *Server) pair(pairID string) *pairState {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pairs[pairID]
	if !ok {
		p = newPairState(pairID, s.logger)
		s.pairs[pairID] = p
	}

	return p
}

func (s *Server) closeAllEndpoints() {
	s.mu.Lock()
	pairs := make([]*pairState, 0, len(s.pairs))

	for _, p := range s.pairs {
		pairs = append(pairs, p)
	}
	s.mu.Unlock()

	for _, p := range pairs {
		p.closeEndpoints()
	}
}
