package models

import (
	"strings"

	"github.com/example/stockkeeper/pkg/apperr"
)

// OwnerID identifies the account every record is scoped to. It is supplied by the caller's
// identity context and passed explicitly into every store and service call.
type OwnerID string

func (o OwnerID) Valid() bool {
	return strings.TrimSpace(string(o)) != ""
}

// Require fails with a validation error when no owner was supplied.
func (o OwnerID) Require(op string) error {
	if !o.Valid() {
		return apperr.Validation(op, "owner is required")
	}
	return nil
}

func (o OwnerID) String() string {
	return string(o)
}
