package charge

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/jmconsultingid/korapay-bridge/internal/common"
	"github.com/jmconsultingid/korapay-bridge/internal/korapay"
	"github.com/jmconsultingid/korapay-bridge/internal/order"
)

// Gateway describes this payment method to checkout front-ends.
type Gateway struct {
	Title             string   `json:"title"`
	Description       string   `json:"description"`
	LiveMode          bool     `json:"live_mode"`
	PublicKey         string   `json:"public_key"`
	WebhookURL        string   `json:"webhook_url"`
	AllowedCurrencies []string `json:"allowed_currencies"`
}

// Handler exposes the charge endpoints.
type Handler struct {
	Service  *Service
	Store    order.Store
	Gateway  Gateway
	Validate *validator.Validate
	Log      zerolog.Logger
}

// Routes mounts the charge routes on a chi router.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/charges", h.CreateCharge)
	r.Get("/charges/{orderID}", h.ChargeStatus)
	r.Get("/gateway", h.GatewayInfo)
}

type createChargeRequest struct {
	OrderID int64 `json:"order_id" validate:"required,gt=0"`
}

// CreateCharge opens a hosted checkout session for an order and returns the
// redirect URL.
func (h *Handler) CreateCharge(w http.ResponseWriter, r *http.Request) {
	var req createChargeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "invalid_body", "request body must be valid JSON", nil)
		return
	}
	if err := h.Validate.Struct(req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "invalid_body", "order_id must be a positive integer", nil)
		return
	}

	result, err := h.Service.Initiate(r.Context(), req.OrderID)
	if err != nil {
		h.renderInitError(w, r, req.OrderID, err)
		return
	}

	common.JSON(w, http.StatusOK, map[string]any{
		"result":       "redirect",
		"reference":    result.Reference,
		"checkout_url": result.CheckoutURL,
	})
}

func (h *Handler) renderInitError(w http.ResponseWriter, r *http.Request, orderID int64, err error) {
	appErr := classifyInitError(err)
	if appErr.HTTPStatus >= http.StatusInternalServerError {
		h.Log.Error().Err(err).Int64("order_id", orderID).Str("path", r.URL.Path).
			Msg("charge initiation failed")
	}
	common.JSONError(w, appErr.HTTPStatus, appErr.Code, appErr.Message, appErr.Details)
}

func classifyInitError(err error) *common.AppError {
	var provErr *korapay.ProviderError
	var transErr *korapay.TransportError
	switch {
	case errors.Is(err, order.ErrNotFound):
		return common.NewAppError("order_not_found", "no such order", http.StatusNotFound, err)
	case errors.Is(err, ErrInvalidOrder):
		return common.NewAppError("invalid_order", "order cannot be charged", http.StatusUnprocessableEntity, err)
	case errors.Is(err, ErrAlreadyPaid):
		return common.NewAppError("already_paid", "order is already paid", http.StatusConflict, err)
	case errors.As(err, &provErr):
		return common.NewAppError("provider_rejected", provErr.Message, http.StatusBadGateway, err)
	case errors.As(err, &transErr):
		return common.NewAppError("provider_unreachable", "payment provider could not be reached", http.StatusGatewayTimeout, err)
	default:
		return common.NewAppError("internal", "internal error", http.StatusInternalServerError, err)
	}
}

// ChargeStatus reports the payment status of an order.
func (h *Handler) ChargeStatus(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseInt(chi.URLParam(r, "orderID"), 10, 64)
	if err != nil || orderID <= 0 {
		common.JSONError(w, http.StatusBadRequest, "invalid_order_id", "order id must be a positive integer", nil)
		return
	}

	o, err := h.Store.Get(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			common.JSONError(w, http.StatusNotFound, "order_not_found", "no such order", nil)
			return
		}
		h.Log.Error().Err(err).Int64("order_id", orderID).Msg("load order")
		common.JSONError(w, http.StatusInternalServerError, "internal", "internal error", nil)
		return
	}

	common.JSON(w, http.StatusOK, map[string]any{
		"order_id":  o.ID,
		"status":    o.Status,
		"reference": EncodeReference(o.ID),
		"paid":      o.Status == order.StatusCompleted,
	})
}

// GatewayInfo returns the gateway descriptor for checkout front-ends.
func (h *Handler) GatewayInfo(w http.ResponseWriter, _ *http.Request) {
	common.JSON(w, http.StatusOK, h.Gateway)
}
