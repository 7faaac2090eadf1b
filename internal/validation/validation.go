// Package validation provides input validation helpers and middleware for the billing API.
package validation

import (
	"errors"
	"net/http"
	"regexp"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20

// MaxWebhookSize bounds gateway webhook bodies.
const MaxWebhookSize = 256 << 10

var (
	// South African numbers in E.164 form.
	saPhoneRegex = regexp.MustCompile(`^\+27[1-9][0-9]{8}$`)
	storeIDRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
	phoneStrip   = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "")

	registerOnce sync.Once
)

func init() {
	RegisterValidators()
}

// RegisterValidators adds the custom tags to gin's validator engine.
// Safe to call more than once.
func RegisterValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_ = v.RegisterValidation("saphone", func(fl validator.FieldLevel) bool {
			return IsValidPhone(NormalizePhone(fl.Field().String()))
		})
		_ = v.RegisterValidation("storeid", func(fl validator.FieldLevel) bool {
			return IsValidStoreID(fl.Field().String())
		})
	})
}

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// NormalizePhone rewrites local (0821234567) and bare international
// (27821234567) numbers to +27821234567. Other input is returned stripped.
func NormalizePhone(phone string) string {
	p := phoneStrip.Replace(strings.TrimSpace(phone))
	switch {
	case strings.HasPrefix(p, "+"):
		return p
	case strings.HasPrefix(p, "27") && len(p) == 11:
		return "+" + p
	case strings.HasPrefix(p, "0") && len(p) == 10:
		return "+27" + p[1:]
	}
	return p
}

// IsValidPhone checks for a normalized South African mobile or landline number.
func IsValidPhone(phone string) bool {
	return saPhoneRegex.MatchString(phone)
}

// IsValidStoreID checks store identifiers used in URLs and gateway metadata.
func IsValidStoreID(id string) bool {
	return storeIDRegex.MatchString(id)
}

// SanitizeString removes dangerous characters and limits length
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return strings.ReplaceAll(s, "\x00", "")
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate runs validators and collects their failures.
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errs ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errs = append(errs, *err)
		}
	}
	return errs
}

// Required checks if a field is non-empty
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// MaxLength checks if a field exceeds max length
func MaxLength(field, value string, max int) func() *ValidationError {
	return func() *ValidationError {
		if len(value) > max {
			return &ValidationError{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}

// StoreIDParamMiddleware rejects malformed :id params on store routes.
func StoreIDParamMiddleware(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param(param)
		if id != "" && !IsValidStoreID(id) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_store_id",
				"message": "store id must be 1-64 letters, digits, '-' or '_'",
			})
			return
		}
		c.Next()
	}
}

// Describe turns a binding error into a short client-facing message.
func Describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid request body"
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			parts = append(parts, fe.Field()+" is required")
		case "saphone":
			parts = append(parts, fe.Field()+" must be a South African phone number")
		case "oneof":
			parts = append(parts, fe.Field()+" must be one of: "+fe.Param())
		default:
			parts = append(parts, fe.Field()+" is invalid ("+fe.Tag()+")")
		}
	}
	return strings.Join(parts, "; ")
}
