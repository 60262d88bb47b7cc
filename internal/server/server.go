package server

import (
	"context"
	"net/http"
	"time"

	"canteen-sync/internal/repo"
	"canteen-sync/internal/service"
	"canteen-sync/internal/worker"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Waker restarts the reconciliation sweep after a new order is placed.
type Waker interface {
	Wake(ctx context.Context) *worker.Handle
}

// HealthFunc reports the state of the backing store.
type HealthFunc func(ctx context.Context) map[string]string

type Deps struct {
	Engine service.OrderService
	// Store backs the read-only order streams.
	Store  repo.RecordStore
	Worker Waker
	Health HealthFunc
	// AllowOrigins lists the browser origins allowed by CORS; empty allows all.
	AllowOrigins []string
}

type Server struct {
	engine service.OrderService
	store  repo.RecordStore
	worker Waker
	health HealthFunc
	router *gin.Engine
}

func NewServer(deps Deps) *Server {
	router := gin.New()

	s := &Server{
		engine: deps.Engine,
		store:  deps.Store,
		worker: deps.Worker,
		health: deps.Health,
		router: router,
	}

	corsConfig := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(deps.AllowOrigins) == 0 {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = deps.AllowOrigins
	}

	router.Use(requestLogger(), gin.Recovery(), cors.New(corsConfig))

	router.GET("/health", s.handleHealth)

	api := router.Group("/api")
	{
		api.POST("/orders", s.handleSubmit)
		api.POST("/payments/:reference/check", s.handleCheckPayment)
		api.POST("/payments/notify", s.handleNotify)
	}

	admin := api.Group("/admin")
	{
		admin.POST("/payments/:reference/override", s.handleOverride)
		admin.PATCH("/orders/:canteen/:id/status", s.handleUpdateStatus)
		admin.DELETE("/orders", s.handlePurge)
		admin.GET("/orders/:canteen/stream", s.handleStream)
	}

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run starts the web server
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}
