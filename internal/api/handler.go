package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"signal-trader/internal/engine"
	"signal-trader/internal/events"
	"signal-trader/internal/monitor"
	"signal-trader/pkg/config"

	"github.com/gin-gonic/gin"
)

// Server wires HTTP endpoints around the engine and the event bus.
type Server struct {
	Router    *gin.Engine
	Bus       *events.Bus
	DB        engine.ReadOnlyDB
	Engine    engine.Service
	Metrics   *monitor.SystemMetrics
	JWTSecret string

	// AdminPasswordHash is a bcrypt hash; empty disables login.
	AdminPasswordHash string

	httpServer *http.Server
}

func NewServer(svc engine.Service, database engine.ReadOnlyDB, bus *events.Bus, metrics *monitor.SystemMetrics, jwtSecret, adminPasswordHash string) *Server {
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())         // Panic recovery (first)
	r.Use(RequestIDMiddleware())  // Request ID tracking
	r.Use(RequestLogger(metrics)) // Request logging (after ID is set)
	r.Use(RateLimitMiddleware())  // Rate limiting
	// Security headers handled by the reverse proxy
	r.Use(TimeoutMiddleware(30 * time.Second)) // Request timeout (30s)
	r.Use(CORSMiddleware())                    // CORS (last before routes)

	s := &Server{
		Router:            r,
		Bus:               bus,
		DB:                database,
		Engine:            svc,
		Metrics:           metrics,
		JWTSecret:         jwtSecret,
		AdminPasswordHash: adminPasswordHash,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)
	if s.Metrics != nil {
		s.Router.GET("/metrics", gin.WrapH(s.Metrics.Handler()))
	}

	api := s.Router.Group("/api")
	{
		api.GET("/status", s.getStatus)
		api.GET("/outcomes", s.getOutcomes)
		api.GET("/signals", s.getSignals)
		api.GET("/ledger", s.getLedger)

		api.POST("/auth/login", s.login)

		if !s.adminEnabled() {
			log.Printf("⚠️ api: ledger commands disabled (set ADMIN_PASSWORD_HASH and a JWT_SECRET of %d+ chars)", config.MinJWTSecretLen)
			return
		}

		// Ledger maintenance
		protected := api.Group("")
		protected.Use(AuthMiddleware(s.JWTSecret))
		{
			protected.POST("/ledger/reload", s.reloadLedger)
			protected.POST("/ledger/mark", s.markProcessed)
			protected.DELETE("/ledger/:channel/:id", s.unmarkProcessed)
		}
	}
}

// adminEnabled reports whether ledger commands can be authenticated at all.
func (s *Server) adminEnabled() bool {
	return s.AdminPasswordHash != "" && len(s.JWTSecret) >= config.MinJWTSecretLen
}

func (s *Server) health(c *gin.Context) {
	st := s.Engine.Status(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"supervisor": st.Supervisor.State,
		"instance":   st.Instance,
	})
}

// Start serves until Shutdown. http.ErrServerClosed is not an error.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
