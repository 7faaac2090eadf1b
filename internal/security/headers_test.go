package security

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func newRouter(mw gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(mw)
	router.GET("/v1/stores/abc/access", func(c *gin.Context) {
		c.String(200, "ok")
	})
	return router
}

func TestHeadersMiddleware(t *testing.T) {
	router := newRouter(HeadersMiddleware())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/v1/stores/abc/access", nil))

	headers := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "strict-origin-when-cross-origin",
	}
	for header, expected := range headers {
		if got := w.Header().Get(header); got != expected {
			t.Errorf("%s = %q, want %q", header, got, expected)
		}
	}

	csp := w.Header().Get("Content-Security-Policy")
	if !strings.Contains(csp, "frame-ancestors 'none'") {
		t.Errorf("CSP = %q, want frame-ancestors 'none'", csp)
	}
}

func TestHeadersMiddleware_HSTSBehindTLS(t *testing.T) {
	router := newRouter(HeadersMiddleware())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/v1/stores/abc/access", nil))
	if got := w.Header().Get("Strict-Transport-Security"); got != "" {
		t.Errorf("plain http got HSTS %q", got)
	}

	req := httptest.NewRequest("GET", "/v1/stores/abc/access", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if got := w.Header().Get("Strict-Transport-Security"); !strings.HasPrefix(got, "max-age=") {
		t.Errorf("Strict-Transport-Security = %q, want max-age", got)
	}
}

func TestCORSMiddleware(t *testing.T) {
	tests := []struct {
		name            string
		allowedOrigins  []string
		requestOrigin   string
		expectOrigin    bool
		expectCredsFlag bool
	}{
		{"listed origin", []string{"https://shop.tuckshop.co.za"}, "https://shop.tuckshop.co.za", true, true},
		{"wildcard", []string{"*"}, "https://anything.example", true, false},
		{"empty list allows all", nil, "https://anything.example", true, false},
		{"unlisted origin", []string{"https://shop.tuckshop.co.za"}, "https://evil.example", false, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			router := newRouter(CORSMiddleware(tc.allowedOrigins))

			req := httptest.NewRequest("GET", "/v1/stores/abc/access", nil)
			req.Header.Set("Origin", tc.requestOrigin)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if got := w.Header().Get("Access-Control-Allow-Origin") != ""; got != tc.expectOrigin {
				t.Errorf("allow-origin present = %v, want %v", got, tc.expectOrigin)
			}
			if got := w.Header().Get("Access-Control-Allow-Credentials") == "true"; got != tc.expectCredsFlag {
				t.Errorf("allow-credentials = %v, want %v", got, tc.expectCredsFlag)
			}
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	router := newRouter(CORSMiddleware([]string{"*"}))

	req := httptest.NewRequest("OPTIONS", "/v1/stores/abc/access", nil)
	req.Header.Set("Origin", "https://shop.tuckshop.co.za")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if allowed := w.Header().Get("Access-Control-Allow-Headers"); !strings.Contains(allowed, "Idempotency-Key") {
		t.Errorf("Access-Control-Allow-Headers = %q, want Idempotency-Key", allowed)
	}
}

func TestValidatePublicURL(t *testing.T) {
	orig := lookupHost
	defer func() { lookupHost = orig }()
	lookupHost = func(host string) ([]string, error) {
		switch host {
		case "tuckshop.co.za":
			return []string{"41.185.8.10"}, nil
		case "internal.example":
			return []string{"10.0.0.5"}, nil
		}
		return nil, errors.New("no such host")
	}

	tests := []struct {
		url     string
		wantErr bool
	}{
		{"https://tuckshop.co.za", false},
		{"https://tuckshop.co.za/billing", false},
		{"http://tuckshop.co.za", true},
		{"https://localhost:8080", true},
		{"https://127.0.0.1", true},
		{"https://192.168.1.10", true},
		{"https://[::ffff:10.1.2.3]", true},
		{"https://[::1]", true},
		{"https://billing.internal", true},
		{"https://internal.example", true},
		{"https://unknown.example", true},
		{"https://", true},
		{"://bad", true},
	}
	for _, tc := range tests {
		t.Run(tc.url, func(t *testing.T) {
			err := ValidatePublicURL(tc.url)
			if (err != nil) != tc.wantErr {
				t.Errorf("ValidatePublicURL(%q) error = %v, wantErr %v", tc.url, err, tc.wantErr)
			}
			if err != nil && !errors.Is(err, ErrNotPublic) {
				t.Errorf("ValidatePublicURL(%q) error = %v, want ErrNotPublic", tc.url, err)
			}
		})
	}
}
