package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lireddit/lireddit/internal/api/graph"
	"github.com/lireddit/lireddit/internal/cache"
	"github.com/lireddit/lireddit/internal/db"
	"github.com/lireddit/lireddit/internal/posts"
	"github.com/lireddit/lireddit/internal/session"
	"github.com/lireddit/lireddit/internal/users"
	"github.com/lireddit/lireddit/internal/voting"
	"github.com/lireddit/lireddit/pkg/config"
	"github.com/lireddit/lireddit/pkg/logging"
)

// Services are the dependencies the API is built from
type Services struct {
	DB       *db.DB
	Cache    cache.Store
	Sessions *session.Manager
	Posts    *posts.Service
	Voting   *voting.Service
	Users    *users.Service
}

// Router sets up API routes
type Router struct {
	handler  *JSONRPCHandler
	services Services
	repo     *db.Repository
	cfg      config.ServerConfig
	limiter  *RateLimiter
	logger   *zap.Logger
}

// NewRouter creates a new API router
func NewRouter(services Services, cfg *config.ServerConfig) *Router {
	router := &Router{
		handler:  NewJSONRPCHandler(),
		services: services,
		repo:     db.NewRepository(services.DB.DB),
		cfg:      *cfg,
		limiter:  NewRateLimiter(cfg.RateLimitPerMinute),
		logger:   logging.WithComponent("api-router"),
	}

	router.registerMethods()

	return router
}

// SetupRoutes installs middleware and routes on engine
func (r *Router) SetupRoutes(engine *gin.Engine) {
	engine.Use(RequestLogger(logging.WithComponent("http")))
	engine.Use(cors.New(r.corsConfig()))

	engine.GET("/health", r.healthHandler)
	engine.GET("/.well-known/healthcheck.json", r.healthHandler)

	rpc := []gin.HandlerFunc{
		r.limiter.Middleware(),
		Identity(r.services.Sessions, r.logger),
		Loaders(r.repo),
		r.handler.Handle,
	}
	engine.POST("/", rpc...)
	engine.POST("/graphql", rpc...)
}

func (r *Router) corsConfig() cors.Config {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if r.cfg.CORSOrigin == "*" {
		// credentials cannot be combined with a wildcard origin
		cfg.AllowAllOrigins = true
		cfg.AllowCredentials = false
	} else {
		cfg.AllowOrigins = strings.Split(r.cfg.CORSOrigin, ",")
	}
	return cfg
}

// registerMethods registers all API methods
func (r *Router) registerMethods() {
	postAPI := graph.NewPostAPI(r.repo, r.services.Posts, r.services.Voting)
	userAPI := graph.NewUserAPI(r.services.Users, r.services.Sessions)

	// Queries
	r.handler.RegisterMethod("me", userAPI.Me)
	r.handler.RegisterMethod("user", userAPI.User)
	r.handler.RegisterMethod("posts", postAPI.Posts)
	r.handler.RegisterMethod("post", postAPI.Post)

	// Post mutations
	r.handler.RegisterMethod("createPost", postAPI.CreatePost)
	r.handler.RegisterMethod("updatePost", postAPI.UpdatePost)
	r.handler.RegisterMethod("deletePost", postAPI.DeletePost)
	r.handler.RegisterMethod("vote", postAPI.Vote)

	// Account mutations
	r.handler.RegisterMethod("register", userAPI.Register)
	r.handler.RegisterMethod("login", userAPI.Login)
	r.handler.RegisterMethod("logout", userAPI.Logout)
	r.handler.RegisterMethod("forgotPassword", userAPI.ForgotPassword)
	r.handler.RegisterMethod("changePassword", userAPI.ChangePassword)
}

// healthHandler reports database and cache status
func (r *Router) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := gin.H{"database": "OK", "cache": "OK"}

	if err := r.services.DB.Health(ctx); err != nil {
		r.logger.Warn("Database health check failed", zap.Error(err))
		checks["database"] = err.Error()
		status = http.StatusServiceUnavailable
	}
	if err := r.services.Cache.Health(ctx); err != nil {
		r.logger.Warn("Cache health check failed", zap.Error(err))
		checks["cache"] = err.Error()
		status = http.StatusServiceUnavailable
	}

	overall := "OK"
	if status != http.StatusOK {
		overall = "DEGRADED"
	}
	c.JSON(status, gin.H{
		"status":  overall,
		"service": "lireddit-api",
		"checks":  checks,
	})
}
