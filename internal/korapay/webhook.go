package korapay

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/jmconsultingid/korapay-bridge/internal/order"
)

// SignatureHeader carries the HMAC-SHA256 of the notification's data object,
// keyed with the merchant secret key.
const SignatureHeader = "X-Korapay-Signature"

// EventChargeSuccess is the only event this service acts on.
const EventChargeSuccess = "charge.success"

// ErrMalformedPayload indicates a body that is not a well-formed notification.
var ErrMalformedPayload = errors.New("korapay: malformed webhook payload")

// ErrBadSignature indicates a signature header that does not match the body.
var ErrBadSignature = errors.New("korapay: webhook signature mismatch")

// ValidationError explains why a structurally valid notification could not be
// applied to its order.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "korapay: notification validation failed: " + e.Reason
}

// ParseNotification decodes a webhook body. The data object's raw bytes are
// preserved on the result so its signature can be verified afterwards.
func ParseNotification(body []byte) (Notification, error) {
	var envelope struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return Notification{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if envelope.Event == "" || len(envelope.Data) == 0 {
		return Notification{}, fmt.Errorf("%w: missing event or data", ErrMalformedPayload)
	}

	n := Notification{Event: envelope.Event, RawData: envelope.Data}
	if err := json.Unmarshal(envelope.Data, &n.Data); err != nil {
		return Notification{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return n, nil
}

// IsHandled reports whether this service processes the given event type.
func (n Notification) IsHandled() bool {
	return n.Event == EventChargeSuccess
}

// VerifySignature checks the header HMAC against the raw data bytes using a
// constant-time comparison. Hex case in the header is not significant.
func VerifySignature(n Notification, secretKey, header string) error {
	header = strings.ToLower(strings.TrimSpace(header))
	if header == "" {
		return ErrBadSignature
	}
	mac := hmac.New(sha256.New, []byte(secretKey))
	mac.Write(n.RawData)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(header)) {
		return ErrBadSignature
	}
	return nil
}

// Validate cross-checks a charge.success notification against the order it
// claims to pay. The metadata total must equal the order total exactly; the
// notification amount is only comparable when no settlement conversion took
// place, i.e. when the charge currency matches the order currency. The
// reference is the reconciliation index, so a metadata order id is checked
// only when the provider echoed one.
func Validate(n Notification, o order.Order) error {
	if id := n.Data.Metadata.OrderID; id != "" && id != strconv.FormatInt(o.ID, 10) {
		return &ValidationError{Reason: "metadata order id does not match order"}
	}

	totalOrder, err := decimal.NewFromString(n.Data.Metadata.TotalOrder.String())
	if err != nil {
		return &ValidationError{Reason: "metadata total_order is not a number"}
	}
	if !totalOrder.Equal(o.Total) {
		return &ValidationError{Reason: fmt.Sprintf("metadata total %s does not match order total %s", totalOrder, o.Total)}
	}

	if n.Data.Currency == o.Currency {
		amount, err := decimal.NewFromString(n.Data.Amount.String())
		if err != nil {
			return &ValidationError{Reason: "notification amount is not a number"}
		}
		if !amount.Equal(o.Total) {
			return &ValidationError{Reason: fmt.Sprintf("charged amount %s does not match order total %s", amount, o.Total)}
		}
	}
	return nil
}
