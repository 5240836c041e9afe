// Package api serves the read-only review surface: current quarantine
// snapshot, promotion-event log, health. It is operator tooling meant
// for loopback use; every endpoint reads the persisted state files, so
// responses always reflect the last completed cycle.
package api

import (
	"github.com/BPFLNALCR/pihole-autoblocker/internal/api/handlers"
	"github.com/BPFLNALCR/pihole-autoblocker/internal/api/middleware"
	"github.com/BPFLNALCR/pihole-autoblocker/internal/config"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Server struct {
	Config *config.Config
	Router *gin.Engine
}

func NewServer(cfg *config.Config, logger *zap.Logger) *Server {
	gin.SetMode(cfg.API.Mode)
	router := gin.New()

	router.Use(middleware.Logger(logger))
	router.Use(gin.Recovery())

	server := &Server{
		Config: cfg,
		Router: router,
	}

	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	h := handlers.NewHandler(s.Config)

	s.Router.GET("/health", h.Health)

	api := s.Router.Group("/api/v1")
	{
		api.GET("/quarantine", h.ListQuarantine)
		api.GET("/quarantine/:domain", h.GetQuarantine)
		api.GET("/events", h.ListEvents)
	}
}
