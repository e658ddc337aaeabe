package offer

import (
	"context"
	"strings"
	"sync"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/gemloft/storefront/internal/backend"
)

// Config holds the offer pool parameters.
type Config struct {
	// AllowedDomain is the mail domain suffix a claim email must carry,
	// e.g. "@gmail.com".
	AllowedDomain string
	// DefaultCoupon is the code synthesized on the local fallback path when
	// the backend offers endpoint is absent, and on auto-claim.
	DefaultCoupon string
	// PoolSize seeds the remaining counter until the backend reports an
	// authoritative value.
	PoolSize int
}

// Coordinator drives the offer state machine for one storefront session.
// It is created on session start (Hydrate), mutated by claim operations,
// and torn down by Reset. Claim attempts are serialized by a mutex; the
// check-then-subscribe sequence of a single attempt never interleaves with
// another. Across instances the backend registry is the sole arbiter, so no
// distributed coordination is attempted here.
type Coordinator struct {
	backend Backend
	store   FlagStore
	cfg     Config
	lg      *zap.Logger

	mu    sync.Mutex
	state State
}

// NewCoordinator creates a Coordinator in the unclaimed state with a full
// pool. Call Hydrate before serving traffic.
func NewCoordinator(b Backend, store FlagStore, cfg Config, lg *zap.Logger) *Coordinator {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Coordinator{
		backend: b,
		store:   store,
		cfg:     cfg,
		lg:      lg,
		state:   State{Remaining: cfg.PoolSize},
	}
}

// Hydrate loads the persisted claim outcome from the durable store. Store
// failures leave the defaults in place; a broken flag store must not take
// the storefront down.
func (c *Coordinator) Hydrate(ctx context.Context) error {
	claimed, coupon, err := c.store.Claimed(ctx)
	if err != nil {
		return errors.Wrap(err, "load claimed flag")
	}
	declined, err := c.store.Declined(ctx)
	if err != nil {
		return errors.Wrap(err, "load declined flag")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Claimed = claimed
	c.state.CouponCode = coupon
	c.state.Declined = declined
	return nil
}

// State returns a snapshot of the current offer standing.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CheckEmailClaimed queries the backend claim registry. Failures are
// fail-open by policy: a registry that cannot be reached reports "not
// claimed" and is logged, never blocking the claim flow. Do not change this
// to fail-closed without product sign-off.
func (c *Coordinator) CheckEmailClaimed(ctx context.Context, email string) bool {
	claimed, err := c.backend.CheckClaim(ctx, NormalizeEmail(email))
	if err != nil {
		c.lg.Warn("claim check failed, assuming not claimed",
			zap.Error(err))
		return false
	}
	return claimed
}

// Claim runs the full claim flow for the given email: validation, duplicate
// check, backend subscribe, and persistence. On success the returned State
// reflects the claimed coupon and updated pool counter.
//
// Error taxonomy: *ValidationError for a bad email (no network traffic has
// happened), ErrAlreadyClaimed for duplicate claims, and the backend error
// otherwise (state unchanged, caller may ask the user to retry).
func (c *Coordinator) Claim(ctx context.Context, email string) (State, error) {
	norm := NormalizeEmail(email)
	if norm == "" {
		return c.State(), &ValidationError{Reason: "email is required"}
	}
	if !strings.HasSuffix(norm, c.cfg.AllowedDomain) {
		return c.State(), &ValidationError{Reason: "email must end with " + c.cfg.AllowedDomain}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Claimed {
		return c.state, ErrAlreadyClaimed
	}

	// Registry check must complete before subscribe is issued; the two are
	// never dispatched in parallel. Local memory alone is not enough: a
	// claim from an earlier session lives only in the registry.
	if claimed, err := c.backend.CheckClaim(ctx, norm); err != nil {
		c.lg.Warn("claim check failed, assuming not claimed",
			zap.String("email", norm),
			zap.Error(err))
	} else if claimed {
		return c.state, ErrAlreadyClaimed
	}

	grant, err := c.backend.Subscribe(ctx, norm)
	switch {
	case errors.Is(err, backend.ErrEndpointAbsent):
		// Degraded mode: the deployment has no offers endpoint. The offer
		// must still be claimable, so synthesize the default coupon and
		// record the claim locally only.
		c.lg.Info("offers endpoint absent, claiming locally",
			zap.String("coupon", c.cfg.DefaultCoupon))
		c.applyClaim(ctx, c.cfg.DefaultCoupon, 0, false)
		return c.state, nil
	case err != nil:
		var statusErr *backend.StatusError
		if errors.As(err, &statusErr) &&
			strings.Contains(strings.ToLower(statusErr.Message), "already claimed") {
			return c.state, ErrAlreadyClaimed
		}
		return c.state, errors.Wrap(err, "subscribe")
	}

	coupon := grant.CouponCode
	if coupon == "" {
		coupon = c.cfg.DefaultCoupon
	}
	c.applyClaim(ctx, coupon, grant.Remaining, grant.RemainingSet)
	return c.state, nil
}

// AutoClaim performs the local-only claim issued when a user authenticates
// without having claimed yet. It bypasses email validation and the registry
// duplicate check entirely, and is idempotent.
func (c *Coordinator) AutoClaim(ctx context.Context) State {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Claimed {
		return c.state
	}
	c.applyClaim(ctx, c.cfg.DefaultCoupon, 0, false)
	return c.state
}

// Decline records that the offer UI was dismissed without claiming. The
// pool counter and claim state are untouched; the flag only lets other UI
// affordances react.
func (c *Coordinator) Decline(ctx context.Context) error {
	if err := c.store.SetDeclined(ctx, true); err != nil {
		return errors.Wrap(err, "persist declined flag")
	}
	c.mu.Lock()
	c.state.Declined = true
	c.mu.Unlock()
	return nil
}

// Reset is the session teardown hook (logout). It clears the declined flag
// only: a claim consumed a unit of a finite pool and the registry would
// reject a re-claim anyway, so the claimed flag survives.
func (c *Coordinator) Reset(ctx context.Context) error {
	if err := c.store.SetDeclined(ctx, false); err != nil {
		return errors.Wrap(err, "clear declined flag")
	}
	c.mu.Lock()
	c.state.Declined = false
	c.mu.Unlock()
	return nil
}

// applyClaim transitions to Claimed and persists the flag. When the server
// reported a pool counter it wins (clamped at zero); otherwise the local
// counter is decremented as a best-effort display value. Persistence
// failures are logged but do not undo the claim, since the registry side
// already happened. Caller must hold c.mu.
func (c *Coordinator) applyClaim(ctx context.Context, coupon string, remaining int, remainingSet bool) {
	c.state.Claimed = true
	c.state.CouponCode = coupon
	if remainingSet {
		c.state.Remaining = clampAtZero(remaining)
	} else {
		c.state.Remaining = clampAtZero(c.state.Remaining - 1)
	}

	if err := c.store.SetClaimed(ctx, coupon); err != nil {
		c.lg.Error("failed to persist claimed flag",
			zap.String("coupon", coupon),
			zap.Error(err))
	}
}

func clampAtZero(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
