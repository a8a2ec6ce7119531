package korapay

import "encoding/json"

// Customer identifies the paying shopper on the hosted checkout page.
type Customer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// ChargeMetadata travels with the charge and is echoed back unchanged in
// webhook notifications. TotalOrder records the order total in the order's own
// currency so the notification can be checked against the order later,
// independent of any settlement conversion.
type ChargeMetadata struct {
	OrderID    string      `json:"order_id"`
	TotalOrder json.Number `json:"total_order"`
	Country    string      `json:"country,omitempty"`
	State      string      `json:"state,omitempty"`
	City       string      `json:"city,omitempty"`
	Postcode   string      `json:"postcode,omitempty"`
}

// ChargeRequest is the body sent to the charge initialization endpoint.
// Amounts are json.Number so decimals render unquoted and without float drift.
type ChargeRequest struct {
	Reference       string         `json:"reference"`
	Amount          json.Number    `json:"amount"`
	Currency        string         `json:"currency"`
	Narration       string         `json:"narration,omitempty"`
	RedirectURL     string         `json:"redirect_url,omitempty"`
	NotificationURL string         `json:"notification_url,omitempty"`
	Customer        Customer       `json:"customer"`
	Metadata        ChargeMetadata `json:"metadata"`
}

// InitResult is the useful subset of a successful charge initialization.
type InitResult struct {
	Reference   string
	CheckoutURL string
}

// NotificationData is the inner data object of a webhook notification.
type NotificationData struct {
	Reference string         `json:"reference"`
	Status    string         `json:"status"`
	Amount    json.Number    `json:"amount"`
	Currency  string         `json:"currency"`
	Metadata  ChargeMetadata `json:"metadata"`
}

// Notification is a parsed webhook event. RawData keeps the exact bytes of the
// data object as received, which is what the signature is computed over.
type Notification struct {
	Event   string           `json:"event"`
	Data    NotificationData `json:"data"`
	RawData json.RawMessage  `json:"-"`
}
