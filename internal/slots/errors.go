package slots

import (
	"errors"
	"fmt"
)

// ErrConfiguration marks errors caused by missing or invalid org settings.
var ErrConfiguration = errors.New("configuration error")

// ConfigurationError describes which org setting prevented the computation.
// It is user-visible and must not be retried.
type ConfigurationError struct {
	TenantID string
	OrgID    string
	Field    string
	Reason   string
	Err      error
}

func (e *ConfigurationError) Error() string {
	msg := fmt.Sprintf("configuration error for %s/%s: %s: %s", e.TenantID, e.OrgID, e.Field, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrConfiguration) match any ConfigurationError.
func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

func configErr(tenantID, orgID, field, reason string, cause error) *ConfigurationError {
	return &ConfigurationError{TenantID: tenantID, OrgID: orgID, Field: field, Reason: reason, Err: cause}
}
