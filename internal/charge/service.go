package charge

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jmconsultingid/korapay-bridge/internal/korapay"
	"github.com/jmconsultingid/korapay-bridge/internal/obs"
	"github.com/jmconsultingid/korapay-bridge/internal/order"
)

// ErrAlreadyPaid is returned when a charge is requested for a completed order.
var ErrAlreadyPaid = errors.New("charge: order already paid")

// Initiator opens a hosted checkout session with the provider.
type Initiator interface {
	InitializeCharge(ctx context.Context, charge korapay.ChargeRequest) (korapay.InitResult, error)
}

// Service drives the checkout-initiation flow: build the charge, call the
// provider, move the order to on-hold and hand back the redirect URL.
type Service struct {
	Store    order.Store
	Client   Initiator
	Settings Settings
	LiveMode bool
	Log      zerolog.Logger
}

// InitResult is what the checkout front-end needs to continue.
type InitResult struct {
	Reference   string
	CheckoutURL string
}

// Initiate opens a charge for the given order.
func (s *Service) Initiate(ctx context.Context, orderID int64) (InitResult, error) {
	tracer := otel.Tracer("charge")
	ctx, span := tracer.Start(ctx, "charge.initiate", trace.WithAttributes(
		attribute.Int64("order.id", orderID),
	))
	defer span.End()

	result, err := s.initiate(ctx, orderID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.count(resultLabel(err))
		return InitResult{}, err
	}
	s.count("redirect")
	return result, nil
}

func (s *Service) count(result string) {
	if obs.ChargeInitTotal != nil {
		obs.ChargeInitTotal.WithLabelValues(s.modeLabel(), result).Inc()
	}
}

func (s *Service) initiate(ctx context.Context, orderID int64) (InitResult, error) {
	o, err := s.Store.Get(ctx, orderID)
	if err != nil {
		return InitResult{}, err
	}
	if o.Status == order.StatusCompleted {
		return InitResult{}, ErrAlreadyPaid
	}

	req, err := Build(o, s.Settings)
	if err != nil {
		return InitResult{}, err
	}

	init, err := s.Client.InitializeCharge(ctx, req)
	if err != nil {
		s.Log.Error().Err(err).Int64("order_id", orderID).Str("reference", req.Reference).
			Msg("charge initialization failed")
		return InitResult{}, err
	}

	note := fmt.Sprintf("Awaiting Korapay payment, reference %s.", init.Reference)
	if err := s.Store.SetStatus(ctx, orderID, order.StatusOnHold, note); err != nil {
		return InitResult{}, err
	}
	if err := s.Store.AttachMetadata(ctx, orderID, "korapay_reference", init.Reference); err != nil {
		s.Log.Warn().Err(err).Int64("order_id", orderID).Msg("attach charge reference")
	}
	if err := s.Store.AttachMetadata(ctx, orderID, "korapay_notification_url", s.Settings.NotificationURL); err != nil {
		s.Log.Warn().Err(err).Int64("order_id", orderID).Msg("attach notification url")
	}

	s.Log.Info().Int64("order_id", orderID).Str("reference", init.Reference).
		Msg("charge initialized")
	return InitResult{Reference: init.Reference, CheckoutURL: init.CheckoutURL}, nil
}

func (s *Service) modeLabel() string {
	if s.LiveMode {
		return "live"
	}
	return "test"
}

func resultLabel(err error) string {
	var provErr *korapay.ProviderError
	var transErr *korapay.TransportError
	switch {
	case errors.Is(err, ErrInvalidOrder):
		return "invalid_order"
	case errors.Is(err, ErrAlreadyPaid):
		return "already_paid"
	case errors.Is(err, order.ErrNotFound):
		return "order_not_found"
	case errors.As(err, &provErr):
		return "provider_rejected"
	case errors.As(err, &transErr):
		return "transport_error"
	default:
		return "internal"
	}
}
