// Package offer implements the promotional offer-claim workflow: a finite
// pool of welcome offers, claimed at most once per email, with a coupon code
// issued on claim.
package offer

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-faster/errors"

	"github.com/gemloft/storefront/internal/backend"
)

// ErrAlreadyClaimed is returned when the claim registry already holds a
// record for the email, or when the backend reports the same via its error
// message.
var ErrAlreadyClaimed = errors.New("offer already claimed")

// ValidationError rejects a claim before any network traffic happens.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid claim request: %s", e.Reason)
}

// State is a snapshot of the session's offer standing. Remaining is always
// reported post-clamp and never negative.
type State struct {
	Remaining  int
	Claimed    bool
	CouponCode string
	Declined   bool
}

// Backend is the subset of the backend client the coordinator needs. The
// ordering contract matters: CheckClaim for a claim attempt always completes
// before Subscribe is issued.
type Backend interface {
	CheckClaim(ctx context.Context, email string) (bool, error)
	Subscribe(ctx context.Context, email string) (backend.ClaimGrant, error)
}

// FlagStore persists the session's claim outcome across restarts. It is the
// durable client-storage analog: small namespaced flags, nothing more. The
// claim registry itself lives on the backend.
type FlagStore interface {
	Claimed(ctx context.Context) (claimed bool, couponCode string, err error)
	SetClaimed(ctx context.Context, couponCode string) error
	Declined(ctx context.Context) (bool, error)
	SetDeclined(ctx context.Context, declined bool) error
}

// NormalizeEmail trims surrounding whitespace and lowercases, matching how
// the backend registry keys claim records.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
