package service

import (
	"errors"
	"fmt"
)

var (
	// ErrIncompleteEvidence marks evidence that cannot be reconciled, such as
	// a missing order number. It is permanent for that piece of evidence.
	ErrIncompleteEvidence = errors.New("incomplete evidence")
	// ErrConcurrentWrite is returned when a create lost a uniqueness race twice.
	// Callers may retry.
	ErrConcurrentWrite = errors.New("concurrent write conflict")
	// ErrUnknownStatus marks a status signal outside the known progression.
	ErrUnknownStatus = errors.New("unknown order status")
)

// MerchantConflict describes a domain owned by one merchant while the
// normalized name points at another. The domain owner wins.
type MerchantConflict struct {
	Domain        string
	DomainOwnerID string
	NameMatchID   string
	RequestedName string
}

func (c *MerchantConflict) Error() string {
	return fmt.Sprintf("merchant conflict: domain %s belongs to %s but name %q matches %s",
		c.Domain, c.DomainOwnerID, c.RequestedName, c.NameMatchID)
}

// errorsIsAny reports whether err matches any of targets.
func errorsIsAny(err error, targets ...error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}
