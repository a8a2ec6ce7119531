package charge

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/jmconsultingid/korapay-bridge/internal/korapay"
	"github.com/jmconsultingid/korapay-bridge/internal/order"
)

// ErrInvalidOrder is returned when an order cannot be charged as-is: a
// non-positive total or a currency outside the configured allow-list.
var ErrInvalidOrder = errors.New("charge: order not chargeable")

// Settings is the charge-building slice of configuration.
type Settings struct {
	// Currency is the settlement currency charges are denominated in.
	Currency string
	// AllowedCurrencies is the set of order currencies accepted for charging.
	AllowedCurrencies []string
	// ExchangeRate converts an order total into the settlement currency. It is
	// applied only when the order currency differs from Currency; a rate of 1
	// with matching currencies is the common no-conversion case.
	ExchangeRate decimal.Decimal
	// RedirectURL is where the shopper's browser returns after paying.
	RedirectURL string
	// NotificationURL is the webhook endpoint the provider calls back.
	NotificationURL string
	// Narration appears on the hosted checkout page.
	Narration string
}

// Build assembles the charge request for an order. It is a pure function: no
// I/O, same inputs produce the same request.
func Build(o order.Order, s Settings) (korapay.ChargeRequest, error) {
	if !o.Total.IsPositive() {
		return korapay.ChargeRequest{}, fmt.Errorf("%w: total %s is not positive", ErrInvalidOrder, o.Total)
	}
	if !currencyAllowed(o.Currency, s.AllowedCurrencies) {
		return korapay.ChargeRequest{}, fmt.Errorf("%w: currency %q not allowed", ErrInvalidOrder, o.Currency)
	}

	amount := o.Total
	currency := o.Currency
	if s.Currency != "" && s.Currency != o.Currency {
		amount = o.Total.Mul(s.ExchangeRate)
		currency = s.Currency
	}

	return korapay.ChargeRequest{
		Reference:       EncodeReference(o.ID),
		Amount:          json.Number(amount.String()),
		Currency:        currency,
		Narration:       s.Narration,
		RedirectURL:     s.RedirectURL,
		NotificationURL: s.NotificationURL,
		Customer: korapay.Customer{
			Name:  o.CustomerName(),
			Email: o.Billing.Email,
		},
		Metadata: korapay.ChargeMetadata{
			OrderID:    strconv.FormatInt(o.ID, 10),
			TotalOrder: json.Number(o.Total.String()),
			Country:    o.Billing.Country,
			State:      o.Billing.State,
			City:       o.Billing.City,
			Postcode:   o.Billing.Postcode,
		},
	}, nil
}

func currencyAllowed(currency string, allowed []string) bool {
	for _, c := range allowed {
		if c == currency {
			return true
		}
	}
	return false
}
