package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mozdb/kvengine/internal/lsm"
)

type Server struct {
	store  *lsm.Store
	port   string
	router *gin.Engine
	auth   *AuthManager
}

// NewServer opens (or creates) an LSM store rooted at dataPath and wires it
// to an HTTP API listening on port.
func NewServer(dataPath, port string) (*Server, error) {
	store, err := lsm.Open(lsm.DefaultStoreConfig(dataPath))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	auth := NewAuthManager()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	s := &Server{
		store:  store,
		port:   port,
		router: router,
		auth:   auth,
	}

	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	api := s.router.Group("/api/v1")
	{
		api.GET("/health", s.healthCheck)
		api.POST("/login", s.login)

		// Protected routes
		protected := api.Group("/")
		protected.Use(s.AuthMiddleware())
		{
			protected.GET("/stats", s.getStats)

			kv := protected.Group("/kv")
			{
				kv.PUT("/:key", s.putKey)
				kv.GET("/:key", s.getKey)
				kv.DELETE("/:key", s.deleteKey)
				kv.GET("", s.listKeys)
			}
		}
	}
}

func (s *Server) Start() error {
	fmt.Printf("Starting moz-server on port %s\n", s.port)
	return http.ListenAndServe(":"+s.port, s.router)
}

// Close flushes and closes the underlying store.
func (s *Server) Close() error {
	return s.store.Close()
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "moz-server",
	})
}

func (s *Server) getStats(c *gin.Context) {
	entries, err := s.store.Scan(nil, nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, APIResponse{
			Status: "error",
			Error: &APIError{
				Code:    "STATS_ERROR",
				Message: err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusOK, APIResponse{
		Status: "success",
		Data:   gin.H{"key_count": len(entries)},
	})
}
