package mock

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const sessionKey = "mock.session"

// sessionClaims are the claims of a mock session token.
type sessionClaims struct {
	jwt.RegisteredClaims
	Username string `json:"username"`
}

// sessionRecord is the server side of an issued session.
type sessionRecord struct {
	Token   string          `json:"token"`
	Expires time.Time       `json:"expires"`
	Data    json.RawMessage `json:"data"`
	ID      int64           `json:"id"`
	IP      string          `json:"ip"`
}

// sessionIssuer signs session tokens with HS256 and tracks which are live,
// so a logged-out or renewed token is rejected before it expires.
type sessionIssuer struct {
	secret []byte
	ttl    time.Duration

	mu     sync.Mutex
	nextID int64
	active map[string]*sessionRecord
}

func newSessionIssuer(secret []byte, ttl time.Duration) *sessionIssuer {
	return &sessionIssuer{
		secret: secret,
		ttl:    ttl,
		active: make(map[string]*sessionRecord),
	}
}

// issue signs a token for username valid until expires.
func (s *sessionIssuer) issue(username, ip string, expires time.Time, data json.RawMessage) (*sessionRecord, error) {
	now := time.Now().UTC()
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			ID:        uuid.New().String(),
		},
		Username: username,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("sign session: %w", err)
	}
	if data == nil {
		data = json.RawMessage(`{}`)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	rec := &sessionRecord{
		Token:   signed,
		Expires: expires.UTC().Truncate(time.Second),
		Data:    data,
		ID:      s.nextID,
		IP:      ip,
	}
	s.active[signed] = rec
	return rec, nil
}

// verify returns the live record for token.
func (s *sessionIssuer) verify(token string) (*sessionRecord, *sessionClaims, error) {
	claims := &sessionClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return nil, nil, fmt.Errorf("verify session: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.active[token]
	if !ok {
		return nil, nil, fmt.Errorf("session revoked")
	}
	return rec, claims, nil
}

func (s *sessionIssuer) revoke(token string) {
	s.mu.Lock()
	delete(s.active, token)
	s.mu.Unlock()
}

func (s *sessionIssuer) update(token string, data json.RawMessage) *sessionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.active[token]
	if !ok {
		return nil
	}
	rec.Data = data
	cp := *rec
	return &cp
}

// ── Middleware ───────────────────────────────────────────────────────────

func (s *Server) validateSession(c *gin.Context) {
	var token string
	for _, h := range s.opts.TokenHeaders {
		if token = c.GetHeader(h); token != "" {
			break
		}
	}
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid session"})
		return
	}
	rec, claims, err := s.sessions.verify(token)
	if err != nil {
		s.logger.Debug("session rejected", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid session"})
		return
	}
	c.Set(sessionKey, rec)
	c.Set("username", claims.Username)
	c.Next()
}

func currentSession(c *gin.Context) *sessionRecord {
	v, _ := c.Get(sessionKey)
	rec, _ := v.(*sessionRecord)
	return rec
}

// ── Handlers ─────────────────────────────────────────────────────────────

func (s *Server) login(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, "Invalid request")
		return
	}
	if req.Username == "" || req.Username != s.opts.Username {
		fail(c, "No user found")
		return
	}
	if req.Password == "" || bcrypt.CompareHashAndPassword(s.hash, []byte(req.Password)) != nil {
		fail(c, "Invalid password")
		return
	}

	rec, err := s.sessions.issue(req.Username, c.ClientIP(), time.Now().Add(s.opts.SessionTTL), nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": "User logged in", "session": rec})
}

func (s *Server) logout(c *gin.Context) {
	s.sessions.revoke(currentSession(c).Token)
	c.JSON(http.StatusOK, gin.H{"success": "User logged out"})
}

func (s *Server) passwordReset(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success":  "User password reset",
		"password": s.opts.Password,
	})
}

func (s *Server) sessionUpdate(c *gin.Context) {
	var req struct {
		Data json.RawMessage `json:"data"`
	}
	_ = c.ShouldBindJSON(&req)

	rec := currentSession(c)
	if len(req.Data) > 0 && string(req.Data) != "null" {
		rec = s.sessions.update(rec.Token, req.Data)
	}
	c.JSON(http.StatusOK, rec)
}

// sessionRenew replaces the caller's session with one expiring at the
// requested time. Requests in the past or without a time get the default TTL.
func (s *Server) sessionRenew(c *gin.Context) {
	var req struct {
		Expires time.Time `json:"expires"`
	}
	_ = c.ShouldBindJSON(&req)

	expires := req.Expires
	if !expires.After(time.Now()) {
		expires = time.Now().Add(s.opts.SessionTTL)
	}

	old := currentSession(c)
	username, _ := c.Get("username")
	name, _ := username.(string)
	rec, err := s.sessions.issue(name, c.ClientIP(), expires, old.Data)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.sessions.revoke(old.Token)
	c.JSON(http.StatusOK, gin.H{"success": "Session renewed", "session": rec})
}
