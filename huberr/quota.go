package huberr

import "fmt"

// QuotaError is returned on admission denial.
// EntityId is the identity the guarded entity would have had, so the caller can still address it.
type QuotaError struct {
	Kind     string
	Owner    string
	EntityId string
	Limit    int64
}

func (e *QuotaError) Error() string {
	if e.EntityId != "" {
		return fmt.Sprintf("quota exceeded: %s limit %d reached for %s (%s)", e.Kind, e.Limit, e.Owner, e.EntityId)
	}
	return fmt.Sprintf("quota exceeded: %s limit %d reached for %s", e.Kind, e.Limit, e.Owner)
}

func (e *QuotaError) Unwrap() error {
	return ErrQuotaExceeded
}
