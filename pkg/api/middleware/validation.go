package middleware

import (
	"net/http"
	"net/url"
	"regexp"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"taskforge/pkg/models"
)

// ValidatorConfig holds request validation limits.
type ValidatorConfig struct {
	MaxBodySize    int64
	MaxNameLength  int
	MaxTypeLength  int
	TypePattern    string // job types are machine identifiers
	MaxWebhookURL  int
	AllowedSchemes []string
}

// DefaultValidatorConfig returns production limits.
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		MaxBodySize:    1 << 20, // 1MB
		MaxNameLength:  256,
		MaxTypeLength:  128,
		TypePattern:    `^[a-zA-Z0-9_.:-]+$`,
		MaxWebhookURL:  2048,
		AllowedSchemes: []string{"http", "https"},
	}
}

// Validator checks job submissions before they reach the stores.
type Validator struct {
	config      ValidatorConfig
	typePattern *regexp.Regexp
}

func NewValidator(config ValidatorConfig) *Validator {
	return &Validator{
		config:      config,
		typePattern: regexp.MustCompile(config.TypePattern),
	}
}

// ValidateName checks the job name.
func (v *Validator) ValidateName(name string) error {
	if len(name) == 0 {
		return &ValidationError{Field: "name", Message: "name is required"}
	}
	if len(name) > v.config.MaxNameLength {
		return &ValidationError{Field: "name", Message: "name exceeds maximum length"}
	}
	return nil
}

// ValidateJobType checks the job type identifier.
func (v *Validator) ValidateJobType(jobType string) error {
	if len(jobType) == 0 {
		return &ValidationError{Field: "type", Message: "type is required"}
	}
	if len(jobType) > v.config.MaxTypeLength {
		return &ValidationError{Field: "type", Message: "type exceeds maximum length"}
	}
	if !v.typePattern.MatchString(jobType) {
		return &ValidationError{Field: "type", Message: "type contains invalid characters"}
	}
	return nil
}

// ValidatePriority checks the priority band when provided.
func (v *Validator) ValidatePriority(priority models.JobPriority) error {
	if priority == "" {
		return nil
	}
	if !priority.Valid() {
		return &ValidationError{Field: "priority", Message: "unknown priority"}
	}
	return nil
}

// ValidateWebhookURL checks the optional notification target.
func (v *Validator) ValidateWebhookURL(raw string) error {
	if raw == "" {
		return nil
	}
	if len(raw) > v.config.MaxWebhookURL {
		return &ValidationError{Field: "webhook_url", Message: "webhook URL exceeds maximum length"}
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return &ValidationError{Field: "webhook_url", Message: "webhook URL is not a valid absolute URL"}
	}
	for _, scheme := range v.config.AllowedSchemes {
		if u.Scheme == scheme {
			return nil
		}
	}
	return &ValidationError{Field: "webhook_url", Message: "webhook URL scheme must be http or https"}
}

// ValidationError represents a rejected field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// BodySizeLimitMiddleware rejects oversized request bodies.
func BodySizeLimitMiddleware(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": "request body too large",
			})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// SecurityHeadersMiddleware adds standard response hardening headers.
func SecurityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Next()
	}
}

// RequestIDMiddleware attaches a request ID, honoring one sent by the client.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(ContextRequestIDKey, requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}
