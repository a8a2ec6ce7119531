package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/jmconsultingid/korapay-bridge/internal/charge"
	"github.com/jmconsultingid/korapay-bridge/internal/korapay"
	"github.com/jmconsultingid/korapay-bridge/internal/lock"
	"github.com/jmconsultingid/korapay-bridge/internal/order"
)

// Outcome classifies how a notification was applied. Every outcome except a
// store failure is acknowledged to the provider; redeliveries of the same
// notification would not change anything.
type Outcome string

const (
	// OutcomeCompleted means the order was (or already had been) marked paid.
	OutcomeCompleted Outcome = "completed"
	// OutcomeReset means a non-success status moved the order back to pending.
	OutcomeReset Outcome = "reset"
	// OutcomeUnresolvableReference means the reference did not decode.
	OutcomeUnresolvableReference Outcome = "unresolvable_reference"
	// OutcomeOrderNotFound means the decoded id matched no order.
	OutcomeOrderNotFound Outcome = "order_not_found"
	// OutcomeValidationFailed means totals or metadata did not match the order.
	OutcomeValidationFailed Outcome = "validation_failed"
	// OutcomeIgnored means the event type is not one this service handles.
	OutcomeIgnored Outcome = "ignored"
)

// statusSuccess is the data.status value that marks a paid charge.
const statusSuccess = "success"

// Locking serializes work per key. *lock.Locker implements it over Redis.
type Locking interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Reconciler applies parsed provider notifications to orders.
type Reconciler struct {
	Store   order.Store
	Locker  Locking
	LockTTL time.Duration
	Log     zerolog.Logger
}

// Process runs the state machine for one notification. The returned error is
// non-nil only for infrastructure failures (store or lock); business outcomes
// that cannot be retried are reported through the Outcome instead.
func (r *Reconciler) Process(ctx context.Context, n korapay.Notification) (Outcome, error) {
	if !n.IsHandled() {
		return OutcomeIgnored, nil
	}

	orderID, err := charge.DecodeReference(n.Data.Reference)
	if err != nil {
		r.Log.Warn().Str("reference", n.Data.Reference).Msg("webhook reference did not decode")
		return OutcomeUnresolvableReference, nil
	}

	outcome := OutcomeCompleted
	lockErr := r.Locker.WithLock(ctx, lock.OrderKey(orderID), r.LockTTL, func(ctx context.Context) error {
		var err error
		outcome, err = r.apply(ctx, orderID, n)
		return err
	})
	if lockErr != nil {
		return "", lockErr
	}
	return outcome, nil
}

func (r *Reconciler) apply(ctx context.Context, orderID int64, n korapay.Notification) (Outcome, error) {
	o, err := r.Store.Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			r.Log.Warn().Int64("order_id", orderID).Str("reference", n.Data.Reference).
				Msg("webhook references unknown order")
			return OutcomeOrderNotFound, nil
		}
		return "", err
	}

	if n.Data.Status != statusSuccess {
		return r.reset(ctx, o, n)
	}

	if err := korapay.Validate(n, o); err != nil {
		r.Log.Error().Err(err).Int64("order_id", o.ID).Str("reference", n.Data.Reference).
			Msg("webhook failed validation, order left untouched")
		if metaErr := r.Store.AttachMetadata(ctx, o.ID, "korapay_validation_failure", err.Error()); metaErr != nil {
			return "", metaErr
		}
		return OutcomeValidationFailed, nil
	}

	note := fmt.Sprintf("Korapay payment confirmed, reference %s.", n.Data.Reference)
	if err := r.Store.MarkPaid(ctx, o.ID, note); err != nil {
		return "", err
	}
	r.Log.Info().Int64("order_id", o.ID).Str("reference", n.Data.Reference).Msg("order marked paid")
	return OutcomeCompleted, nil
}

// reset moves the order back to pending so the shopper can retry payment.
func (r *Reconciler) reset(ctx context.Context, o order.Order, n korapay.Notification) (Outcome, error) {
	note := fmt.Sprintf("Korapay reported status %q for reference %s.", n.Data.Status, n.Data.Reference)
	if err := r.Store.SetStatus(ctx, o.ID, order.StatusPending, note); err != nil {
		return "", err
	}
	if err := r.Store.AttachMetadata(ctx, o.ID, "korapay_last_status", n.Data.Status); err != nil {
		return "", err
	}
	r.Log.Info().Int64("order_id", o.ID).Str("status", n.Data.Status).Msg("order reset to pending")
	return OutcomeReset, nil
}
