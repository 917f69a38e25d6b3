package spa

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/kuitang/xpire-e2e/internal/config"
	"github.com/kuitang/xpire-e2e/internal/errs"
	"github.com/kuitang/xpire-e2e/internal/obs"
)

const (
	pingInterval = 250 * time.Millisecond
	pingTimeout  = 2 * time.Second
	stopGrace    = 5 * time.Second
)

var logger = obs.Pkg("spa")

// WebServer brings up the application under test: an existing server, a
// shell command, or the built-in static handler.
type WebServer struct {
	cfg    config.WebServerConfig
	client *http.Client

	mu      sync.Mutex
	reused  bool
	srv     *http.Server
	handler *Handler
	cmd     *exec.Cmd
	exited  chan error
}

// NewWebServer returns a server for cfg. Nothing starts until Start.
func NewWebServer(cfg config.WebServerConfig) *WebServer {
	return &WebServer{
		cfg: cfg,
		client: &http.Client{
			Timeout: pingTimeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Reused reports whether Start found a server already running.
func (s *WebServer) Reused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reused
}

// Start makes the URL reachable or returns an error. An already answering URL
// is reused when allowed and is an error otherwise.
func (s *WebServer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ping(ctx) {
		if !s.cfg.ReuseExistingServer {
			return errs.New(errs.Unavailable,
				fmt.Sprintf("%s is already in use; stop it or enable reuse_existing_server", s.cfg.URL))
		}
		s.reused = true
		logger.Info("web_server_reused", "url", s.cfg.URL)
		return nil
	}

	var err error
	if s.cfg.Command != "" {
		err = s.startCommand()
	} else {
		err = s.startBuiltin()
	}
	if err != nil {
		return err
	}

	if err := s.waitReady(ctx); err != nil {
		_ = s.stopLocked(context.Background())
		return err
	}
	logger.Info("web_server_ready", "url", s.cfg.URL, "command", s.cfg.Command)
	return nil
}

func (s *WebServer) startCommand() error {
	cmd := exec.Command("sh", "-c", s.cfg.Command)
	cmd.Dir = s.cfg.Dir
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	setProcessGroup(cmd)
	if err := cmd.Start(); err != nil {
		return errs.Wrap(errs.Unavailable, "start web server command", err)
	}
	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()
	s.cmd = cmd
	s.exited = exited
	logger.Info("web_server_command_started", "command", s.cfg.Command, "pid", cmd.Process.Pid)
	return nil
}

func (s *WebServer) startBuiltin() error {
	h, err := NewHandler(s.cfg.Root, s.cfg.SPAFallback)
	if err != nil {
		return errs.Wrap(errs.InvalidArgument, "static server", err)
	}
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", s.cfg.Port))
	if err != nil {
		h.Close()
		return errs.Wrap(errs.Unavailable, "listen", err)
	}
	srv := &http.Server{
		Handler:           obs.RequestContextMiddleware(obs.AccessLogMiddleware("spa", h)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("static_server_failed", "error", err.Error())
		}
	}()
	s.srv = srv
	s.handler = h
	logger.Info("static_server_started", "root", s.cfg.Root, "addr", ln.Addr().String(), "spa_fallback", s.cfg.SPAFallback)
	return nil
}

// waitReady polls the URL until it answers or the timeout passes.
func (s *WebServer) waitReady(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	limiter := rate.NewLimiter(rate.Every(pingInterval), 1)

	for {
		if err := limiter.Wait(ctx); err != nil {
			return errs.Wrap(errs.Unavailable,
				fmt.Sprintf("web server at %s not ready after %s", s.cfg.URL, s.cfg.Timeout), err)
		}
		if s.exited != nil {
			select {
			case err := <-s.exited:
				s.exited = nil
				s.cmd = nil
				return errs.New(errs.Unavailable, fmt.Sprintf("web server command exited early: %v", err))
			default:
			}
		}
		if s.ping(ctx) {
			return nil
		}
	}
}

// ping treats any response below 500 as a live server.
func (s *WebServer) ping(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.URL, nil)
	if err != nil {
		return false
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}

// Stop shuts down whatever Start brought up. A reused server is left alone.
func (s *WebServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked(ctx)
}

func (s *WebServer) stopLocked(ctx context.Context) error {
	var firstErr error
	if s.srv != nil {
		if err := s.srv.Shutdown(ctx); err != nil {
			firstErr = err
		}
		s.srv = nil
	}
	if s.handler != nil {
		s.handler.Close()
		s.handler = nil
	}
	if s.cmd != nil {
		terminate(s.cmd)
		select {
		case <-s.exited:
		case <-time.After(stopGrace):
			kill(s.cmd)
			<-s.exited
		}
		logger.Info("web_server_command_stopped", "pid", s.cmd.Process.Pid)
		s.cmd = nil
		s.exited = nil
	}
	return firstErr
}
