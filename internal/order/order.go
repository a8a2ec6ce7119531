package order

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of an order as far as payment is concerned.
type Status string

const (
	// StatusPending is the initial state before a charge has been opened.
	StatusPending Status = "pending"
	// StatusOnHold means a charge was initialized and the shopper was redirected.
	StatusOnHold Status = "on-hold"
	// StatusCompleted is the terminal success state.
	StatusCompleted Status = "completed"
	// StatusFailed is a terminal failure state, set manually by operators.
	StatusFailed Status = "failed"
)

// ErrNotFound is returned when no order exists for the requested id.
var ErrNotFound = errors.New("order: not found")

// Billing carries the customer details captured at checkout.
type Billing struct {
	FirstName string
	LastName  string
	Email     string
	Country   string
	State     string
	City      string
	Postcode  string
}

// Order is the durable order record owned by the upstream commerce system.
type Order struct {
	ID       int64
	Status   Status
	Total    decimal.Decimal
	Currency string
	Billing  Billing
}

// CustomerName joins the billing first and last name.
func (o Order) CustomerName() string {
	switch {
	case o.Billing.FirstName == "":
		return o.Billing.LastName
	case o.Billing.LastName == "":
		return o.Billing.FirstName
	default:
		return o.Billing.FirstName + " " + o.Billing.LastName
	}
}

// Store is the narrow order capability this service depends on. Implementations
// must make MarkPaid idempotent: marking an already completed order paid is a
// no-op success, never an error.
type Store interface {
	Get(ctx context.Context, id int64) (Order, error)
	MarkPaid(ctx context.Context, id int64, note string) error
	SetStatus(ctx context.Context, id int64, status Status, note string) error
	AttachMetadata(ctx context.Context, id int64, key string, value any) error
}
