/*
policy.go - Negative-stock override gating

PURPOSE:
  Decides whether an operation that would drive a balance below zero is
  rejected or permitted. Overrides are privileged, must carry a written
  justification, and tag every resulting ledger entry for audit.

SEE ALSO:
  - transfer.go: Consults the policy before any balance mutation
  - errors.go: ErrForbiddenOverride, ErrValidation
*/
package inventory

import (
	"fmt"
	"strings"
)

// NegativeStockPolicy gates allowNegative requests. The engine trusts the
// caller's privilege flag; resolving it is an external concern.
type NegativeStockPolicy struct{}

// Authorize validates an override request up front, before any allocation.
// allowNegative without elevated privilege fails with ErrForbiddenOverride;
// allowNegative without a non-empty note fails with ErrValidation.
func (NegativeStockPolicy) Authorize(caller Caller, allowNegative bool, overrideNote string) error {
	if !allowNegative {
		return nil
	}
	if !caller.Privileged {
		return fmt.Errorf("%w: caller %s lacks privilege", ErrForbiddenOverride, caller.ID)
	}
	if strings.TrimSpace(overrideNote) == "" {
		return fmt.Errorf("%w: override note is required when allowNegative is set", ErrValidation)
	}
	return nil
}
