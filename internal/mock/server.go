// Package mock implements an in-process stand-in for the OOSE platform:
// the user/session, content, job registry, worker directory and worker
// content endpoints the SDK consumes. It is used by the package tests and by
// the oose-mock binary.
package mock

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// Defaults for Options.
const (
	DefaultUsername = "test"
	DefaultPassword = "AN_)$(X=j!TW4bkK$TU4UPhRk!Fuy)JLy@X4P5+XHy3t75)4Xs)f8+5nM7Cu*7+4"
	DefaultTTL      = time.Hour
)

// ContentSHA1 is the hash reported for content looked up by the mock.
const ContentSHA1 = "a03f181dc7dedcfb577511149b8844711efdb04f"

// Options configures a Server.
type Options struct {
	Username string
	Password string

	// SessionTTL is the lifetime of sessions issued at login.
	SessionTTL time.Duration

	// TokenHeaders lists the headers accepted as carrying the session token.
	TokenHeaders []string

	// RateLimit is the per-IP requests per second; 0 disables limiting.
	RateLimit int

	Logger *zap.Logger
}

// Worker is a worker directory record.
type Worker struct {
	Name      string `json:"name"`
	Host      string `json:"host"`
	Port      int    `json:"port"`
	Available bool   `json:"available"`
	Active    bool   `json:"active"`
}

// Server is the mock platform. All state lives in memory.
type Server struct {
	opts     Options
	hash     []byte
	sessions *sessionIssuer
	logger   *zap.Logger
	router   *gin.Engine

	mu        sync.RWMutex
	jobs      map[string]map[string]any
	workers   map[string]Worker
	content   map[string]map[string]bool
	purchases map[string]Purchase
}

// New creates a Server.
func New(opts Options) (*Server, error) {
	if opts.Username == "" {
		opts.Username = DefaultUsername
	}
	if opts.Password == "" {
		opts.Password = DefaultPassword
	}
	if opts.SessionTTL == 0 {
		opts.SessionTTL = DefaultTTL
	}
	if len(opts.TokenHeaders) == 0 {
		opts.TokenHeaders = []string{"X-OOSE-Token", "X-SHREDDER-Token"}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(opts.Password), bcrypt.MinCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate session secret: %w", err)
	}

	s := &Server{
		opts:      opts,
		hash:      hash,
		sessions:  newSessionIssuer(secret, opts.SessionTTL),
		logger:    opts.Logger,
		jobs:      make(map[string]map[string]any),
		workers:   make(map[string]Worker),
		content:   make(map[string]map[string]bool),
		purchases: make(map[string]Purchase),
	}
	s.router = s.routes()
	return s, nil
}

// Handler returns the HTTP handler serving the mock routes.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Username returns the accepted username.
func (s *Server) Username() string { return s.opts.Username }

// Password returns the accepted password.
func (s *Server) Password() string { return s.opts.Password }

func (s *Server) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	if s.opts.RateLimit > 0 {
		r.Use(rateLimiter(s.opts.RateLimit, s.opts.RateLimit*2))
	}
	r.Use(requestLogger(s.logger))

	r.POST("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "Welcome to OOSE Mock"})
	})
	r.POST("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"pong": "pong"})
	})

	r.POST("/user/login", s.login)

	auth := r.Group("/", s.validateSession)
	auth.POST("/user/logout", s.logout)
	auth.POST("/user/password/reset", s.passwordReset)
	auth.POST("/user/session/validate", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"success": "Session Valid"})
	})
	auth.POST("/user/session/update", s.sessionUpdate)
	auth.POST("/user/session/renew", s.sessionRenew)

	auth.POST("/content/detail", s.contentDetail)
	auth.POST("/content/upload", s.contentUpload)
	auth.POST("/content/retrieve", s.contentRetrieve)
	auth.POST("/content/purchase", s.contentPurchase)
	auth.POST("/content/purchase/remove", s.contentPurchaseRemove)

	auth.POST("/job/create", s.jobCreate)
	auth.POST("/job/detail", s.jobDetail)
	auth.POST("/job/update", s.jobUpdate)
	auth.POST("/job/remove", s.jobRemove)
	auth.POST("/job/content/exists", s.jobContentExists)

	auth.POST("/worker/detail", s.workerDetail)
	auth.POST("/worker/available", s.workerAvailable)
	return r
}

// fail writes an application error. Application errors are reported with a
// 200 status and an "error" field, as the platform does.
func fail(c *gin.Context, msg string) {
	c.JSON(http.StatusOK, gin.H{"error": msg})
}

func notFound(c *gin.Context, msg string) {
	c.JSON(http.StatusNotFound, gin.H{"error": msg})
}

func randomToken(n int) string {
	b := make([]byte, n/2)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}

// requestLogger logs each request with zap.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
