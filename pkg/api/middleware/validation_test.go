package middleware

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"taskforge/pkg/models"
)

func TestValidateName(t *testing.T) {
	v := NewValidator(DefaultValidatorConfig())

	assert.NoError(t, v.ValidateName("nightly report"))
	assert.Error(t, v.ValidateName(""))
	assert.Error(t, v.ValidateName(strings.Repeat("a", 300)))
}

func TestValidateJobType(t *testing.T) {
	v := NewValidator(DefaultValidatorConfig())

	assert.NoError(t, v.ValidateJobType("email"))
	assert.NoError(t, v.ValidateJobType("billing.invoice:generate"))
	assert.NoError(t, v.ValidateJobType("data_export-v2"))

	assert.Error(t, v.ValidateJobType(""))
	assert.Error(t, v.ValidateJobType("has spaces"))
	assert.Error(t, v.ValidateJobType("semi;colon"))
	assert.Error(t, v.ValidateJobType(strings.Repeat("x", 200)))
}

func TestValidatePriority(t *testing.T) {
	v := NewValidator(DefaultValidatorConfig())

	// Empty means default, which is fine.
	assert.NoError(t, v.ValidatePriority(""))
	assert.NoError(t, v.ValidatePriority(models.PriorityCritical))
	assert.NoError(t, v.ValidatePriority(models.PriorityLow))
	assert.Error(t, v.ValidatePriority("URGENT"))
}

func TestValidateWebhookURL(t *testing.T) {
	v := NewValidator(DefaultValidatorConfig())

	assert.NoError(t, v.ValidateWebhookURL(""))
	assert.NoError(t, v.ValidateWebhookURL("https://hooks.example.com/jobs"))
	assert.NoError(t, v.ValidateWebhookURL("http://10.0.0.5:8080/notify"))

	assert.Error(t, v.ValidateWebhookURL("ftp://example.com/x"))
	assert.Error(t, v.ValidateWebhookURL("not a url"))
	assert.Error(t, v.ValidateWebhookURL("https://"+strings.Repeat("a", 2100)+".com"))
}

func TestValidationErrorMessage(t *testing.T) {
	err := &ValidationError{Field: "type", Message: "type is required"}
	assert.Equal(t, "type: type is required", err.Error())
}
