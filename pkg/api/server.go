// Package api exposes a node over a small HTTP API plus a websocket
// stream of live events
package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ZentaChain/echo-node/pkg/mesh"
	"github.com/ZentaChain/echo-node/pkg/node"
	"github.com/ZentaChain/echo-node/pkg/storage"
	"github.com/ZentaChain/echo-node/pkg/transfer"
)

// Mesh is the node surface the API drives
type Mesh interface {
	Username() string
	Fingerprint() string
	Stats() node.Stats
	Peers() []mesh.PeerInfo
	ActivePeers() []string
	Transfers() []transfer.Status
	History(limit int) ([]*storage.ChatRecord, error)
	TransferHistory(limit int) ([]*storage.TransferRecord, error)
	SendText(to, content string) (uint32, error)
	SendGlobal(content string) (uint32, error)
	Announce() error
	Discover() error
	Ping(to string) error
	SendFile(ctx context.Context, path, to string) (uint32, error)
}

// Server is the HTTP API server
type Server struct {
	mesh       Mesh
	router     *gin.Engine
	config     *Config
	httpServer *http.Server
	events     *EventHub
	limiter    *RateLimiter

	// background file sends outlive their request
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// Config holds server configuration
type Config struct {
	Host         string
	Port         int
	EnableCORS   bool
	RateLimit    int // Requests per minute per client, 0 disables
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns default server configuration
func DefaultConfig() *Config {
	return &Config{
		Host:         "127.0.0.1",
		Port:         8480,
		EnableCORS:   true,
		RateLimit:    120,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// NewServer creates a new HTTP API server for m
func NewServer(m Mesh, config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}

	gin.SetMode(gin.ReleaseMode)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		mesh:   m,
		router: gin.New(),
		config: config,
		events: NewEventHub(),
		ctx:    ctx,
		cancel: cancel,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	if s.config.EnableCORS {
		s.router.Use(CORSMiddleware())
	}

	if s.config.RateLimit > 0 {
		s.limiter = NewRateLimiter(s.config.RateLimit)
		s.router.Use(RateLimitMiddleware(s.limiter))
	}

	s.router.Use(LoggingMiddleware())
	s.router.Use(gin.Recovery())
}

func (s *Server) setupRoutes() {
	v1 := s.router.Group("/api/v1")
	{
		n := v1.Group("/node")
		{
			n.GET("/info", s.handleNodeInfo)
			n.GET("/stats", s.handleNodeStats)
		}

		v1.GET("/peers", s.handlePeers)
		v1.POST("/ping", s.handlePing)
		v1.POST("/announce", s.handleAnnounce)
		v1.POST("/discover", s.handleDiscover)

		v1.GET("/messages", s.handleHistory)
		v1.POST("/messages", s.handleSendText)
		v1.POST("/global", s.handleSendGlobal)

		v1.GET("/transfers", s.handleTransfers)
		v1.POST("/files", s.handleSendFile)

		v1.GET("/events", s.events.ServeWS)
	}

	s.router.GET("/health", s.handleHealth)
}

// Handler returns the HTTP handler, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Events returns the hub that fans node events out to websocket clients
func (s *Server) Events() *EventHub {
	return s.events
}

// Start serves until ctx is done, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	srv := s.httpServer
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		log.Printf("🌐 HTTP API listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Println("🛑 Shutting down HTTP API...")
	return s.Stop()
}

// Stop shuts the server down and waits for background sends to finish
func (s *Server) Stop() error {
	s.cancel()
	s.events.Close()
	if s.limiter != nil {
		s.limiter.Stop()
	}

	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()

	var err error
	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = srv.Shutdown(ctx)
	}

	s.wg.Wait()
	return err
}
