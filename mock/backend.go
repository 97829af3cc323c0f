package mock

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
)

// Backend is an in-process REST backend speaking the refresh protocol the
// client expects. Serve it with httptest.NewServer(b.Handler()).
type Backend struct {
	engine *gin.Engine

	mu           sync.Mutex
	accessToken  string
	refreshToken string
	generation   int
	flaky        int

	refreshCalls atomic.Int64
	userCalls    atomic.Int64

	// FailRefresh makes the refresh endpoint reject every call.
	FailRefresh atomic.Bool
	// RotateRefresh makes the refresh endpoint issue a new refresh token too.
	RotateRefresh atomic.Bool
	// RefreshDelay holds every refresh response, in nanoseconds.
	RefreshDelay atomic.Int64
}

func NewBackend(accessToken, refreshToken string) *Backend {
	gin.SetMode(gin.TestMode)

	b := &Backend{accessToken: accessToken, refreshToken: refreshToken}
	r := gin.New()
	r.Use(gin.Recovery())

	r.POST("/web/auth/refresh/", b.handleRefresh)

	web := r.Group("/web", b.requireBearer)
	web.GET("/users/", b.handleListUsers)
	web.POST("/users/", b.handleCreateUser)
	web.GET("/flaky/", b.handleFlaky)
	web.GET("/admin/", func(c *gin.Context) {
		c.JSON(http.StatusForbidden, gin.H{"detail": "You do not have permission to perform this action."})
	})

	b.engine = r
	return b
}

func (b *Backend) Handler() http.Handler {
	return b.engine
}

// Expire invalidates the current access token server-side.
func (b *Backend) Expire() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.accessToken = fmt.Sprintf("revoked-%d", b.generation)
}

// SetFlaky makes /web/flaky/ answer 500 for the next n calls.
func (b *Backend) SetFlaky(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flaky = n
}

func (b *Backend) AccessToken() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.accessToken
}

func (b *Backend) RefreshToken() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refreshToken
}

func (b *Backend) RefreshCalls() int64 {
	return b.refreshCalls.Load()
}

func (b *Backend) UserCalls() int64 {
	return b.userCalls.Load()
}

func (b *Backend) requireBearer(c *gin.Context) {
	token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
	if !ok || token != b.AccessToken() {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"detail": "Given token not valid for any token type",
			"code":   "token_not_valid",
		})
		return
	}
	c.Next()
}

func (b *Backend) handleRefresh(c *gin.Context) {
	b.refreshCalls.Add(1)
	if d := time.Duration(b.RefreshDelay.Load()); d > 0 {
		time.Sleep(d)
	}

	var req struct {
		Refresh string `json:"refresh"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Refresh == "" {
		c.JSON(http.StatusBadRequest, gin.H{"errors": gin.H{"refresh": []string{"This field is required."}}})
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailRefresh.Load() || req.Refresh != b.refreshToken {
		c.JSON(http.StatusUnauthorized, gin.H{
			"detail": "Token is invalid or expired",
			"code":   "token_not_valid",
		})
		return
	}

	b.generation++
	b.accessToken = fmt.Sprintf("access-%d", b.generation)
	resp := gin.H{"access": b.accessToken}
	if b.RotateRefresh.Load() {
		b.refreshToken = fmt.Sprintf("refresh-%d", b.generation)
		resp["refresh"] = b.refreshToken
	}
	c.JSON(http.StatusOK, resp)
}

func (b *Backend) handleListUsers(c *gin.Context) {
	b.userCalls.Add(1)
	c.JSON(http.StatusOK, gin.H{
		"count":   1,
		"results": []gin.H{{"id": 1, "username": "admin"}},
	})
}

func (b *Backend) handleCreateUser(c *gin.Context) {
	b.userCalls.Add(1)
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "JSON parse error"})
		return
	}

	errs := gin.H{}
	if s, _ := body["username"].(string); s == "" {
		errs["username"] = []string{"This field is required."}
	}
	if s, _ := body["email"].(string); s != "" && !strings.Contains(s, "@") {
		errs["email"] = []string{"Enter a valid email address."}
	}
	if len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"errors": errs})
		return
	}
	body["id"] = 2
	c.JSON(http.StatusCreated, body)
}

func (b *Backend) handleFlaky(c *gin.Context) {
	b.mu.Lock()
	fail := b.flaky > 0
	if fail {
		b.flaky--
	}
	b.mu.Unlock()

	if fail {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "temporary failure"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
