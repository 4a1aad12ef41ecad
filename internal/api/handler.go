// Package api exposes the REST and WebSocket surface consumed by
// external SDK clients.
package api

import (
	"net/http"
	"time"

	"github.com/DecentralizedJM/TIA-Service-Broadcaster/internal/events"
	"github.com/DecentralizedJM/TIA-Service-Broadcaster/pkg/db"

	"github.com/gin-gonic/gin"
)

// Server wires HTTP endpoints around the store and the event bus.
type Server struct {
	Router    *gin.Engine
	Bus       *events.Bus
	DB        *db.Database
	Hub       *Hub
	APISecret string
	JWTSecret string
	Meta      ServiceMeta
}

// ServiceMeta describes the service on the root endpoint.
type ServiceMeta struct {
	Name    string
	Version string
}

// NewServer builds the router with the full middleware stack and routes.
func NewServer(bus *events.Bus, database *db.Database, apiSecret, jwtSecret string, meta ServiceMeta) *Server {
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())        // Panic recovery (first)
	r.Use(RequestIDMiddleware()) // Request ID tracking
	r.Use(RequestLogger())       // Request logging (after ID is set)
	r.Use(RateLimitMiddleware()) // Rate limiting
	r.Use(TimeoutMiddleware(30 * time.Second)) // Request timeout (30s)
	r.Use(CORSMiddleware())                    // CORS (last before routes)

	s := &Server{
		Router:    r,
		Bus:       bus,
		DB:        database,
		Hub:       NewHub(database),
		APISecret: apiSecret,
		JWTSecret: jwtSecret,
		Meta:      meta,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/", s.root)
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	api.Use(SDKAuthMiddleware(s.APISecret, s.JWTSecret))
	{
		api.POST("/sdk/register", s.registerClient)
		api.POST("/sdk/heartbeat", s.heartbeat)
		api.GET("/signals", s.getSignals)
		api.GET("/signals/:id", s.getSignal)
		api.POST("/signals/:id/ack", s.acknowledgeSignal)
		api.GET("/stats", s.getStats)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// Run starts the event pump feeding connected WebSocket clients and
// then serves HTTP.
func (s *Server) Run(addr string) error {
	go s.Hub.Pump(s.Bus)
	return s.Router.Run(addr)
}
