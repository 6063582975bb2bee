// Package server provides the HTTP server for the Warden guardian.
// It exposes telemetry, allocation, workload and emergency endpoints,
// plus a WebSocket feed of digests and alerts.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/warden-project/warden/internal/allocator"
	"github.com/warden-project/warden/internal/api"
	"github.com/warden-project/warden/internal/config"
	"github.com/warden-project/warden/internal/emergency"
	"github.com/warden-project/warden/internal/hostmetrics"
	"github.com/warden-project/warden/internal/journal"
	"github.com/warden-project/warden/internal/logger"
	"github.com/warden-project/warden/internal/supervisor"
	"github.com/warden-project/warden/internal/telemetry"
	"github.com/warden-project/warden/internal/workload"
	"github.com/warden-project/warden/internal/ws"
)

// Deps are the subsystems the server fronts.
type Deps struct {
	GPUs      *telemetry.Provider
	Host      hostmetrics.Provider
	Allocator *allocator.Allocator
	Workloads *workload.Manager
	Protocol  *emergency.Protocol
	Sup       *supervisor.Supervisor
	Journal   journal.Store
	Hub       *ws.Hub
}

// Server represents the HTTP server
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	cfg        config.ServerConfig
	deps       Deps

	mu sync.Mutex
	wg sync.WaitGroup
}

// NewServer creates a new HTTP server
func NewServer(cfg config.ServerConfig, deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		cfg:    cfg,
		deps:   deps,
		engine: gin.New(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures server middleware
func (s *Server) setupMiddleware() {
	s.engine.Use(
		gin.Recovery(),
		api.RequestIDMiddleware(),
		api.LoggerMiddleware(),
	)
	if s.cfg.CORSEnabled {
		s.engine.Use(api.CORSMiddleware())
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/ws", s.deps.Hub.HandleWS)

	apiGroup := s.engine.Group("/api")
	{
		apiGroup.GET("/status", s.handleStatus)
		apiGroup.GET("/gpus", s.handleListGPUs)
		apiGroup.GET("/gpus/:id", s.handleGetGPU)
		apiGroup.GET("/journal", s.handleJournal)

		allocate := apiGroup.Group("/allocate")
		{
			allocate.POST("", s.handleAllocate)
			allocate.GET("/:id", s.handleGetAllocation)
			allocate.DELETE("/:id", s.handleDeallocate)
		}
		apiGroup.GET("/allocations", s.handleListAllocations)

		workloads := apiGroup.Group("/workloads")
		{
			workloads.GET("", s.handleListWorkloads)
			workloads.POST("", s.handleRegisterWorkload)
			workloads.DELETE("/:component", s.handleDeregisterWorkload)
		}

		emergencyGroup := apiGroup.Group("/emergency")
		{
			emergencyGroup.GET("", s.handleEmergencyState)
			emergencyGroup.POST("/reset", s.handleEmergencyReset)
		}
	}
}

// Engine exposes the router for tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Start begins serving in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpServer != nil {
		return fmt.Errorf("server already started")
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  time.Duration(s.cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeout) * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		logger.Infof("启动 HTTP 服务器，监听 %s", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("HTTP 服务器错误: %v", err)
		}
		logger.Info("HTTP 服务器已停止")
	}()

	return nil
}

// Shutdown stops the server gracefully, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.httpServer = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	logger.Info("关闭 HTTP 服务器...")
	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("HTTP 服务器关闭失败: %v", err)
		srv.Close()
		return err
	}
	s.wg.Wait()
	logger.Info("HTTP 服务器已优雅关闭")
	return nil
}

// shutdownTimeout bounds graceful shutdown when the caller supplies none.
const shutdownTimeout = 30 * time.Second

// Stop shuts the server down with the default timeout.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.Shutdown(ctx)
}
