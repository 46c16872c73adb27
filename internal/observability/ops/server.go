// Package ops serves the operational HTTP endpoints: liveness, loop status,
// recent alerts, Prometheus metrics and optional pprof.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strconv"
	"strings"
	"time"

	"mcwatch/internal/config"
	"mcwatch/internal/storage"
	logx "mcwatch/pkg/logx"
)

// Config controls the ops HTTP server.
//
// Security:
//   - Prefer binding to localhost (default).
//   - If binding to a non-loopback address, set Token or enable AllowInsecure.
type Config struct {
	Addr          string
	Token         string
	AllowInsecure bool
	Pprof         bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

const (
	DefaultAddr = "127.0.0.1:9310"
	pprofPrefix = "/debug/pprof/"
)

// Sources are the read-only views the server exposes. Nil members disable
// their endpoint (it answers 404).
type Sources struct {
	// Health returns nil while the process is healthy.
	Health func() error
	// Status returns a JSON-serializable status document.
	Status func() any
	// History returns recently dispatched alerts.
	History func() any
	// Journal is the persistent alert journal, if configured.
	Journal storage.Store
	// Metrics serves /metrics.
	Metrics http.Handler
}

type Server struct {
	cfg Config
	src Sources
	log logx.Logger
}

func New(cfg Config, src Sources, log logx.Logger) *Server {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	// WriteTimeout stays 0 with pprof so /profile (30s+) works.
	if cfg.WriteTimeout <= 0 && !cfg.Pprof {
		cfg.WriteTimeout = 30 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{cfg: cfg, src: src, log: log.With(logx.String("comp", "ops"))}
}

// Handler returns the routed, authenticated handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	wrap := func(h http.HandlerFunc) http.Handler { return withAuth(s.cfg.Token, h) }

	mux.Handle("/healthz", wrap(s.healthz))
	if s.src.Status != nil {
		mux.Handle("/status", wrap(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, s.src.Status())
		}))
	}
	if s.src.History != nil || s.src.Journal != nil {
		mux.Handle("/alerts", wrap(s.alerts))
	}
	if s.src.Metrics != nil {
		mux.Handle("/metrics", withAuth(s.cfg.Token, s.src.Metrics))
	}
	if s.cfg.Pprof {
		base := strings.TrimSuffix(pprofPrefix, "/")
		mux.Handle(pprofPrefix, wrap(hpprof.Index))
		mux.Handle(base+"/cmdline", wrap(hpprof.Cmdline))
		mux.Handle(base+"/profile", wrap(hpprof.Profile))
		mux.Handle(base+"/symbol", wrap(hpprof.Symbol))
		mux.Handle(base+"/trace", wrap(hpprof.Trace))
	}
	return mux
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if s.src.Health != nil {
		if err := s.src.Health(); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) alerts(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			http.Error(w, "limit must be 1..1000", http.StatusBadRequest)
			return
		}
		limit = n
	}

	out := map[string]any{}
	if s.src.History != nil {
		out["recent"] = s.src.History()
	}
	if s.src.Journal != nil {
		recs, err := s.src.Journal.RecentAlerts(r.Context(), limit)
		if err != nil {
			s.log.Warn("journal read failed", logx.Err(err))
			out["journal_error"] = err.Error()
		} else {
			out["journal"] = recs
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// Run listens and serves until ctx is done. A non-loopback address without
// a token is refused unless AllowInsecure is set.
func (s *Server) Run(ctx context.Context) error {
	addr := s.cfg.Addr
	if !s.cfg.AllowInsecure && s.cfg.Token == "" && !config.IsLoopbackAddr(addr) {
		return errors.New("ops: non-loopback addr requires token or allow_insecure")
	}
	if s.cfg.AllowInsecure && s.cfg.Token == "" && !config.IsLoopbackAddr(addr) {
		s.log.Warn("ops server running without token on non-loopback addr (insecure)", logx.String("addr", addr))
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}
	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	}()

	s.log.Info("ops server started",
		logx.String("addr", ln.Addr().String()),
		logx.Bool("token_set", s.cfg.Token != ""),
		logx.Bool("pprof", s.cfg.Pprof),
	)
	err := srv.Serve(ln)
	if ctx.Err() != nil {
		return context.Canceled
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("ops server exited unexpectedly")
	}
	return err
}

func withAuth(token string, h http.Handler) http.Handler {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Authorization: Bearer <token>, or ?token=<token>
		if got := r.URL.Query().Get("token"); got != "" {
			if got == tok {
				h.ServeHTTP(w, r)
				return
			}
			unauthorized(w)
			return
		}
		const p = "Bearer "
		if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, p) && strings.TrimSpace(strings.TrimPrefix(ah, p)) == tok {
			h.ServeHTTP(w, r)
			return
		}
		unauthorized(w)
	})
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
