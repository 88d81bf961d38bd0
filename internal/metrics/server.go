package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	rtsup "taskd/internal/runtime/supervisor"
	logx "taskd/pkg/logx"
)

const (
	DefaultAddr = "127.0.0.1:9108"
	DefaultPath = "/metrics"
)

// Config controls the optional metrics HTTP server.
type Config struct {
	Enabled bool
	Addr    string
	Path    string
}

func (c Config) normalized() Config {
	c.Addr = strings.TrimSpace(c.Addr)
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	c.Path = strings.TrimSpace(c.Path)
	if c.Path == "" {
		c.Path = DefaultPath
	}
	if !strings.HasPrefix(c.Path, "/") {
		c.Path = "/" + c.Path
	}
	return c
}

// Server serves a prometheus gatherer plus /healthz. The listener runs under
// a restart loop so a transient failure heals itself.
type Server struct {
	gatherer prometheus.Gatherer
	log      logx.Logger

	mu   sync.Mutex
	cfg  Config
	sup  *rtsup.Supervisor
	addr string

	ready chan struct{}
}

func NewServer(cfg Config, g prometheus.Gatherer, log logx.Logger) *Server {
	return &Server{
		gatherer: g,
		log:      log.With(logx.String("comp", "metrics")),
		cfg:      cfg.normalized(),
		ready:    make(chan struct{}),
	}
}

// Addr is the bound listen address, empty until the listener is up.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Ready is closed once the first listener is bound.
func (s *Server) Ready() <-chan struct{} { return s.ready }

func (s *Server) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup != nil
}

// Reconfigure applies cfg, starting, stopping or restarting the listener as needed.
func (s *Server) Reconfigure(ctx context.Context, cfg Config) {
	cfg = cfg.normalized()
	s.mu.Lock()
	prev := s.cfg
	running := s.sup != nil
	s.cfg = cfg
	s.mu.Unlock()

	switch {
	case !cfg.Enabled:
		if running {
			s.Stop(ctx)
		}
	case !running:
		s.Start(ctx)
	case prev.Addr != cfg.Addr || prev.Path != cfg.Path:
		s.Stop(ctx)
		s.Start(ctx)
	}
}

// Start is a no-op when disabled or already running.
func (s *Server) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil || !s.cfg.Enabled {
		return
	}
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log),
		rtsup.WithCancelOnError(false),
	)
	s.sup.GoRestart("metrics.serve", s.serveOnce,
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithRestartOnCleanExit(true),
	)
}

func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.addr = ""
	s.mu.Unlock()
	if sup == nil {
		return
	}
	if err := sup.Stop(ctx); err != nil && ctx.Err() != nil {
		s.log.Warn("metrics stop timed out", logx.Err(err))
		return
	}
	s.log.Info("metrics stopped")
}

func (s *Server) handler(path string) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{
		ErrorLog:      promLogger{s.log},
		ErrorHandling: promhttp.ContinueOnError,
	}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

func (s *Server) serveOnce(ctx context.Context) error {
	s.mu.Lock()
	cur := s.cfg
	s.mu.Unlock()

	if !isLoopbackAddr(cur.Addr) {
		s.log.Warn("metrics bound to non-loopback addr", logx.String("addr", cur.Addr))
	}

	ln, err := net.Listen("tcp", cur.Addr)
	if err != nil {
		if ctx.Err() != nil {
			return context.Canceled
		}
		return err
	}
	srv := &http.Server{
		Handler:           s.handler(cur.Path),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.mu.Lock()
	s.addr = ln.Addr().String()
	select {
	case <-s.ready:
	default:
		close(s.ready)
	}
	s.mu.Unlock()

	exited := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		select {
		case <-ctx.Done():
			cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			_ = srv.Shutdown(cctx)
			cancel()
		case <-exited:
		}
	}()

	s.log.Info("metrics started", logx.String("addr", ln.Addr().String()), logx.String("path", cur.Path))
	err = srv.Serve(ln)
	close(exited)
	<-stopped
	if ctx.Err() != nil {
		return context.Canceled
	}
	_ = srv.Close()
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("metrics server exited unexpectedly")
	}
	return err
}

func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// promLogger routes promhttp errors to logx.
type promLogger struct{ log logx.Logger }

func (l promLogger) Println(v ...any) {
	l.log.Warn("metrics handler error", logx.Any("detail", v))
}
