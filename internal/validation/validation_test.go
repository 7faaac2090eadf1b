package validation

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"0821234567", "+27821234567"},
		{"082 123 4567", "+27821234567"},
		{"27821234567", "+27821234567"},
		{"+27821234567", "+27821234567"},
		{"(082) 123-4567", "+27821234567"},
		{"12345", "12345"},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.expected, NormalizePhone(tc.input), tc.input)
	}
}

func TestIsValidPhone(t *testing.T) {
	assert.True(t, IsValidPhone("+27821234567"))
	assert.False(t, IsValidPhone("+27021234567"))
	assert.False(t, IsValidPhone("0821234567"))
	assert.False(t, IsValidPhone("+4420123456"))
	assert.False(t, IsValidPhone(""))
}

func TestIsValidStoreID(t *testing.T) {
	assert.True(t, IsValidStoreID("store_123"))
	assert.True(t, IsValidStoreID("signup_abc-def"))
	assert.False(t, IsValidStoreID(""))
	assert.False(t, IsValidStoreID("store/123"))
	assert.False(t, IsValidStoreID(strings.Repeat("a", 65)))
}

func TestSanitizeString(t *testing.T) {
	tests := []struct {
		input    string
		maxLen   int
		expected string
	}{
		{"hello", 10, "hello"},
		{"  hello  ", 10, "hello"},
		{"hello world", 5, "hello"},
		{"hello\x00world", 20, "helloworld"},
	}

	for _, tc := range tests {
		result := SanitizeString(tc.input, tc.maxLen)
		if result != tc.expected {
			t.Errorf("SanitizeString(%q, %d) = %q, want %q", tc.input, tc.maxLen, result, tc.expected)
		}
	}
}

func TestValidate(t *testing.T) {
	errs := Validate(
		Required("name", "Thabo's Spaza"),
		Required("plan", ""),
		MaxLength("note", "abcdef", 3),
	)
	require.Len(t, errs, 2)
	assert.Equal(t, "plan", errs[0].Field)
	assert.Equal(t, "note", errs[1].Field)
	assert.Equal(t, "plan: is required", errs.Error())

	assert.Empty(t, Validate(Required("name", "x")))
}

func TestBindingTags(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/", func(c *gin.Context) {
		var req struct {
			Phone string `json:"phone" binding:"required,saphone"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": Describe(err)})
			return
		}
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"phone":"082 123 4567"}`)))
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"phone":"555"}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "South African phone number")
}

func TestStoreIDParamMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/stores/:id", StoreIDParamMiddleware("id"), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stores/store_1", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stores/bad%20id", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
