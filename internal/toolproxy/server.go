// Package toolproxy implements C9: a local HTTP server that keeps host
// GitHub credentials out of headless worker containers by executing `gh`
// CLI subcommands on the host on a container's behalf (spec §4.9).
// Grounded on the teacher's internal/agentctl/server/api/server.go gin
// wiring and internal/github/gh_client.go "shell out, parse JSON" style.
package toolproxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/bismarkhq/bismark/internal/common/apperrors"
	"github.com/bismarkhq/bismark/internal/common/config"
	"github.com/bismarkhq/bismark/internal/common/httpmw"
	"github.com/bismarkhq/bismark/internal/common/logger"
	"github.com/bismarkhq/bismark/internal/eventbus"
)

// ghSubcommands maps the proxy paths spec §4.9 names to the `gh` CLI
// subcommand they execute.
var ghSubcommands = map[string][]string{
	"/gh/pr/create":    {"pr", "create"},
	"/gh/pr/view":      {"pr", "view"},
	"/gh/pr/list":      {"pr", "list"},
	"/gh/issue/create": {"issue", "create"},
	"/gh/issue/view":   {"issue", "view"},
	"/gh/api":          {"api"},
}

// Runner executes a `gh` subcommand and reports its result, extracted so
// tests can substitute a fake binary invocation.
type Runner interface {
	Run(ctx context.Context, args []string, stdin string) (stdout, stderr string, exitCode int, err error)
}

// Server is the tool-proxy HTTP server (C9).
type Server struct {
	cfg    config.ToolProxyConfig
	runner Runner
	bus    eventbus.Bus
	log    *logger.Logger
	router *gin.Engine
	srv    *http.Server
}

// New builds a Server bound to cfg.Host:cfg.Port, shelling to the `gh` CLI
// via runner (pass nil to use the real os/exec-backed Runner).
func New(cfg config.ToolProxyConfig, runner Runner, bus eventbus.Bus, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Default()
	}
	log = log.WithFields(zap.String("component", "toolproxy"))
	if runner == nil {
		runner = &ghRunner{}
	}

	s := &Server{
		cfg:    cfg,
		runner: runner,
		bus:    bus,
		log:    log,
		router: gin.New(),
	}
	s.router.Use(httpmw.RequestLogger(log, "toolproxy"), permissiveCORS())
	s.setupRoutes()
	return s
}

func permissiveCORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	for path, args := range ghSubcommands {
		subcommand := args
		s.router.POST(path, s.handleGH(path, subcommand))
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Addr returns host:port this server is configured to bind.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
}

// Healthy probes an address's /health endpoint, used for probe-then-adopt
// port-conflict handling (spec §9): a prior process already holding the
// port is reused if it answers {success:true}.
func Healthy(ctx context.Context, addr string) bool {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "0.0.0.0" || host == "" {
		host = "127.0.0.1"
	}
	url := fmt.Sprintf("http://%s:%s/health", host, port)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Start binds and serves, adopting an already-healthy listener on the
// configured port instead of failing (spec §9 probe-then-adopt), and
// otherwise reporting an occupied port as ResourceUnavailable rather than
// exiting the process (spec §4.9, §9 "avoid exit-on-bind-failure").
func (s *Server) Start(ctx context.Context) error {
	addr := s.Addr()
	if Healthy(ctx, addr) {
		s.log.Info("tool proxy already healthy on this port, adopting existing instance", zap.String("addr", addr))
		return nil
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return apperrors.ResourceUnavailable(fmt.Sprintf("tool proxy bind %s: %v", addr, err))
	}

	s.srv = &http.Server{Handler: s.router}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("tool proxy server stopped unexpectedly", zap.Error(err))
		}
	}()
	s.log.Info("tool proxy listening", zap.String("addr", addr))
	return nil
}

// Shutdown drains in-flight requests (spec §5 "drains in-flight requests
// during shutdown") before returning.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// Router exposes the gin engine for in-process tests (httptest).
func (s *Server) Router() http.Handler {
	return s.router
}
