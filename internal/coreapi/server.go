// Package coreapi implements the core operation surface (spec §6.5) as a
// gin HTTP server under /api/v1/..., grounded on the teacher's
// internal/agentctl/server/api gin wiring the same way internal/toolproxy
// is: gin.New(), shared httpmw middleware, Start/Shutdown/Router lifecycle.
// Every handler is a thin translation from an HTTP request into a call on
// one of the already-actor-isolated managers (store, wsstate, plan,
// headless, gitwt, ptysup, toolproxy); no business logic lives here.
package coreapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/bismarkhq/bismark/internal/attention"
	"github.com/bismarkhq/bismark/internal/common/config"
	"github.com/bismarkhq/bismark/internal/common/httpmw"
	"github.com/bismarkhq/bismark/internal/common/logger"
	"github.com/bismarkhq/bismark/internal/eventbus"
	"github.com/bismarkhq/bismark/internal/gitwt"
	"github.com/bismarkhq/bismark/internal/headless"
	"github.com/bismarkhq/bismark/internal/plan"
	"github.com/bismarkhq/bismark/internal/ptysup"
	"github.com/bismarkhq/bismark/internal/store"
	"github.com/bismarkhq/bismark/internal/toolproxy"
	"github.com/bismarkhq/bismark/internal/wsstate"
)

// Deps collects every collaborator a handler may need. The server does not
// own any of these; cmd/bismarkd constructs and owns the lifetime of each.
type Deps struct {
	Store     *store.Store
	Bus       eventbus.Bus
	WSState   *wsstate.Manager
	Plan      *plan.Manager
	Headless  *headless.Runtime
	Git       *gitwt.Manager
	Terminals *ptysup.Supervisor
	ToolProxy *toolproxy.Server
	Attention *attention.Queue
}

// Server is the core HTTP API (spec §6.5).
type Server struct {
	cfg  config.CoreAPIConfig
	deps Deps
	log  *logger.Logger

	router *gin.Engine
	srv    *http.Server

	proxyMu      sync.Mutex
	proxyRunning bool
}

// New builds a Server bound to cfg.Host:cfg.Port.
func New(cfg config.CoreAPIConfig, deps Deps, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Default()
	}
	log = log.WithFields(zap.String("component", "coreapi"))

	s := &Server{
		cfg:    cfg,
		deps:   deps,
		log:    log,
		router: gin.New(),
	}
	s.router.Use(httpmw.RequestLogger(log, "coreapi"), corsMiddleware())
	s.setupRoutes()
	return s
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"success": true}) })

	v1 := s.router.Group("/api/v1")

	agents := v1.Group("/agents")
	agents.GET("", s.listAgents)
	agents.POST("", s.saveAgent)
	agents.DELETE("/:agentId", s.deleteAgent)

	terminals := v1.Group("/terminals")
	terminals.POST("", s.createTerminal)
	terminals.POST("/:terminalId/write", s.writeTerminal)
	terminals.POST("/:terminalId/resize", s.resizeTerminal)
	terminals.DELETE("/:terminalId", s.closeTerminal)

	st := v1.Group("/state")
	st.GET("", s.getState)
	st.POST("/focus", s.setFocused)
	st.POST("/stop-agent", s.stopAgent)

	tabs := v1.Group("/tabs")
	tabs.POST("", s.createTab)
	tabs.PUT("/:tabId", s.renameTab)
	tabs.DELETE("/:tabId", s.deleteTab)
	tabs.POST("/:tabId/activate", s.setActiveTab)
	tabs.POST("/:tabId/reorder", s.reorderInTab)
	tabs.POST("/:tabId/move-agent", s.moveAgentToTab)

	attn := v1.Group("/attention")
	attn.GET("", s.getAttentionQueue)
	attn.POST("/:agentId/ack", s.acknowledgeAttention)

	prefs := v1.Group("/preferences")
	prefs.GET("", s.getPreferences)
	prefs.PUT("", s.setPreferences)

	plans := v1.Group("/plans")
	plans.POST("", s.createPlan)
	plans.GET("", s.listPlans)
	plans.POST("/:planId/execute", s.executePlan)
	plans.POST("/:planId/discuss", s.startDiscussion)
	plans.POST("/:planId/discuss/cancel", s.cancelDiscussion)
	plans.POST("/:planId/cancel", s.cancelPlan)
	plans.POST("/:planId/restart", s.restartPlan)
	plans.POST("/:planId/complete", s.completePlan)
	plans.DELETE("/:planId", s.deletePlan)
	plans.DELETE("", s.deletePlans)
	plans.POST("/:planId/clone", s.clonePlan)
	plans.GET("/:planId/assignments", s.getTaskAssignments)
	plans.GET("/:planId/activities", s.getPlanActivities)

	headlessGroup := v1.Group("/headless")
	headlessGroup.GET("/:taskId", s.getHeadlessInfo)
	headlessGroup.GET("/plans/:planId", s.listHeadlessForPlan)
	headlessGroup.POST("/:taskId/stop", s.stopHeadless)
	headlessGroup.DELETE("/:taskId", s.destroyHeadless)
	headlessGroup.POST("/standalone", s.startStandaloneHeadless)
	headlessGroup.POST("/standalone/:taskId/done", s.standaloneConfirmDone)
	headlessGroup.POST("/standalone/:taskId/followup", s.standaloneStartFollowup)
	headlessGroup.POST("/standalone/:taskId/restart", s.standaloneRestart)

	auth := v1.Group("/auth")
	auth.GET("/token", s.getToken)
	auth.PUT("/token", s.setToken)
	auth.GET("/token/exists", s.hasToken)
	auth.DELETE("/token", s.clearToken)
	auth.POST("/setup", s.runSetup)

	repos := v1.Group("/repositories")
	repos.POST("/detect", s.detectRepo)
	repos.GET("", s.listRepos)
	repos.PUT("/:repoId", s.updateRepo)

	proxy := v1.Group("/tool-proxy")
	proxy.POST("/start", s.startToolProxy)
	proxy.POST("/stop", s.stopToolProxy)
	proxy.GET("/running", s.isToolProxyRunning)
}

// Addr returns host:port this server is configured to bind.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
}

// Start binds and serves, adopting an already-healthy instance on the
// configured port the same way the tool proxy does (spec §9).
func (s *Server) Start(ctx context.Context) error {
	addr := s.Addr()
	if toolproxy.Healthy(ctx, addr) {
		s.log.Info("core API already healthy on this port, adopting existing instance", zap.String("addr", addr))
		return nil
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("core API bind %s: %w", addr, err)
	}

	s.srv = &http.Server{Handler: s.router}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("core API server stopped unexpectedly", zap.Error(err))
		}
	}()
	s.log.Info("core API listening", zap.String("addr", addr))
	return nil
}

// Shutdown drains in-flight requests before returning.
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

// MountWebsocket registers h (the UI event gateway) at path on this
// server's router, so the core API and the websocket fan-out share one
// listener instead of each binding its own port.
func (s *Server) MountWebsocket(path string, h http.Handler) {
	s.router.GET(path, gin.WrapH(h))
}
