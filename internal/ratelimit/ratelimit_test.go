package ratelimit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tuckshop-za/tuckshop/internal/auth"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newLimiter(t *testing.T, perMinute, burst int) *Limiter {
	t.Helper()
	l := New("test", Config{RequestsPerMinute: perMinute, BurstSize: burst, CleanupInterval: time.Minute})
	t.Cleanup(l.Stop)
	return l
}

func TestLimiter_BurstThenDeny(t *testing.T) {
	for _, burst := range []int{1, 3, 10} {
		t.Run(strconv.Itoa(burst), func(t *testing.T) {
			l := newLimiter(t, 60, burst)
			for i := 0; i < burst; i++ {
				require.True(t, l.Allow("ip:10.0.0.1"), "request %d within burst", i)
			}
			assert.False(t, l.Allow("ip:10.0.0.1"))
			assert.True(t, l.Allow("ip:10.0.0.2"), "other clients keep their own bucket")
		})
	}
}

func TestLimiter_Refills(t *testing.T) {
	l := newLimiter(t, 600, 1) // one token per 100ms

	require.True(t, l.Allow("k"))
	require.False(t, l.Allow("k"))
	assert.Eventually(t, func() bool { return l.Allow("k") }, time.Second, 20*time.Millisecond)
}

func TestLimiter_ForgetsIdleClients(t *testing.T) {
	l := New("test", Config{RequestsPerMinute: 60, BurstSize: 1, CleanupInterval: 20 * time.Millisecond})
	defer l.Stop()

	l.Allow("idle")
	assert.Eventually(t, func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		return len(l.clients) == 0
	}, time.Second, 10*time.Millisecond)

	l.Stop()
}

func TestMiddleware_RejectsWithRetryAfter(t *testing.T) {
	l := newLimiter(t, 60, 2)
	r := gin.New()
	r.Use(l.Middleware())
	r.POST("/v1/checkout", func(c *gin.Context) { c.Status(http.StatusCreated) })

	hit := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/checkout", nil)
		req.RemoteAddr = addr
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusCreated, hit("10.0.0.1:1234").Code)
	assert.Equal(t, http.StatusCreated, hit("10.0.0.1:1234").Code)

	w := hit("10.0.0.1:1234")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	wait, err := strconv.Atoi(w.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, wait, 1)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "rate_limit_exceeded", body["error"])

	assert.Equal(t, http.StatusCreated, hit("10.0.0.2:1234").Code)
}

func TestMiddleware_KeysByStoreWhenAuthenticated(t *testing.T) {
	l := newLimiter(t, 60, 1)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if s := c.GetHeader("X-Test-Store"); s != "" {
			c.Set(auth.ContextKeyStoreID, s)
		}
	}, l.Middleware())
	r.GET("/v1/stores/:id/access", func(c *gin.Context) { c.Status(http.StatusOK) })

	hit := func(store string) int {
		req := httptest.NewRequest(http.MethodGet, "/v1/stores/x/access", nil)
		req.RemoteAddr = "10.0.0.9:1234"
		req.Header.Set("X-Test-Store", store)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	// Two stores behind one NAT address do not share a bucket.
	assert.Equal(t, http.StatusOK, hit("store-a"))
	assert.Equal(t, http.StatusOK, hit("store-b"))
	assert.Equal(t, http.StatusTooManyRequests, hit("store-a"))
}

func TestConfigs(t *testing.T) {
	def := DefaultConfig()
	assert.Equal(t, 60, def.RequestsPerMinute)
	assert.Equal(t, 10, def.BurstSize)

	confirm := ConfirmationConfig()
	assert.Greater(t, confirm.RequestsPerMinute, 60, "a return page polls once a second")
	assert.Greater(t, confirm.BurstSize, def.BurstSize)
}
