package reconcile

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/jmconsultingid/korapay-bridge/internal/charge"
	"github.com/jmconsultingid/korapay-bridge/internal/common"
	"github.com/jmconsultingid/korapay-bridge/internal/korapay"
	"github.com/jmconsultingid/korapay-bridge/internal/obs"
	"github.com/jmconsultingid/korapay-bridge/internal/order"
)

const (
	defaultMaxBodyBytes = 1 << 20
	replayKeyPrefix     = "webhook:korapay:"
)

// Webhook receives Korapay's asynchronous notifications. Except for bodies
// that cannot be parsed (400) and signature failures (401), every delivery is
// acknowledged with 200 so the provider stops redelivering; the outcome field
// in the response records what actually happened.
type Webhook struct {
	Reconciler       *Reconciler
	Secret           string
	RequireSignature bool
	Replay           *redis.Client
	ReplayTTL        time.Duration
	MaxBodyBytes     int64
	Log              zerolog.Logger
}

// Handle processes a single webhook delivery.
func (h *Webhook) Handle(w http.ResponseWriter, r *http.Request) {
	maxBytes := h.MaxBodyBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBodyBytes
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBytes))
	if err != nil {
		h.count("read_failed")
		common.JSONError(w, http.StatusBadRequest, "invalid_body", "could not read request body", nil)
		return
	}

	n, err := korapay.ParseNotification(body)
	if err != nil {
		h.count("malformed")
		h.Log.Warn().Err(err).Str("remote", common.ClientIP(r)).Msg("malformed webhook payload")
		common.JSONError(w, http.StatusBadRequest, "malformed_payload", "notification could not be parsed", nil)
		return
	}

	if h.RequireSignature {
		if err := korapay.VerifySignature(n, h.Secret, r.Header.Get(korapay.SignatureHeader)); err != nil {
			h.count("bad_signature")
			h.Log.Warn().Str("remote", common.ClientIP(r)).Str("event", n.Event).
				Msg("webhook signature rejected")
			common.JSONError(w, http.StatusUnauthorized, "bad_signature", "signature verification failed", nil)
			return
		}
	}

	if !n.IsHandled() {
		h.count(string(OutcomeIgnored))
		common.JSON(w, http.StatusOK, map[string]string{"result": string(OutcomeIgnored)})
		return
	}

	replayKey := replayKeyPrefix + common.Sha256Hex(string(body))
	if h.seenBefore(r, replayKey) {
		h.count("duplicate")
		common.JSON(w, http.StatusOK, map[string]string{"result": "duplicate"})
		return
	}

	outcome, err := h.Reconciler.Process(r.Context(), n)
	if err != nil {
		// Let the provider's redelivery through the replay guard.
		h.forget(r, replayKey)
		h.count("store_error")
		h.Log.Error().Err(err).Str("reference", n.Data.Reference).Msg("webhook processing failed")
		common.JSONError(w, http.StatusInternalServerError, "internal", "notification could not be applied", nil)
		return
	}

	if outcome == OutcomeCompleted {
		h.persistPayload(r, n, body)
	}

	h.count(string(outcome))
	common.JSON(w, http.StatusOK, map[string]string{"result": string(outcome)})
}

// seenBefore marks the delivery as seen and reports whether an identical body
// was already processed inside the replay window. Redis being down must never
// block reconciliation, so failures count as unseen.
func (h *Webhook) seenBefore(r *http.Request, key string) bool {
	if h.Replay == nil {
		return false
	}
	ttl := h.ReplayTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	ok, err := h.Replay.SetNX(r.Context(), key, 1, ttl).Result()
	if err != nil {
		h.Log.Warn().Err(err).Msg("replay check unavailable, processing anyway")
		return false
	}
	return !ok
}

func (h *Webhook) forget(r *http.Request, key string) {
	if h.Replay == nil {
		return
	}
	if err := h.Replay.Del(r.Context(), key).Err(); err != nil {
		h.Log.Warn().Err(err).Msg("release replay key")
	}
}

// persistPayload stores the raw notification on the order for audits.
func (h *Webhook) persistPayload(r *http.Request, n korapay.Notification, body []byte) {
	orderID, err := charge.DecodeReference(n.Data.Reference)
	if err != nil {
		return
	}
	if err := h.Reconciler.Store.AttachMetadata(r.Context(), orderID, "korapay_webhook_payload", string(body)); err != nil {
		if !errors.Is(err, order.ErrNotFound) {
			h.Log.Warn().Err(err).Int64("order_id", orderID).Msg("persist webhook payload")
		}
	}
}

func (h *Webhook) count(result string) {
	if obs.PaymentWebhookTotal != nil {
		obs.PaymentWebhookTotal.WithLabelValues("korapay", result).Inc()
	}
}
