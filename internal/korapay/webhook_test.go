package korapay_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/jmconsultingid/korapay-bridge/internal/korapay"
	"github.com/jmconsultingid/korapay-bridge/internal/order"
)

const testSecret = "sk_test_secret"

func signedBody(t *testing.T, event, data string) (body []byte, signature string) {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write([]byte(data))
	signature = hex.EncodeToString(mac.Sum(nil))
	body = []byte(fmt.Sprintf(`{"event":%q,"data":%s}`, event, data))
	return body, signature
}

func paidOrder() order.Order {
	return order.Order{
		ID:       42,
		Status:   order.StatusOnHold,
		Total:    decimal.RequireFromString("5000.00"),
		Currency: "NGN",
	}
}

func TestParseNotification(t *testing.T) {
	body := []byte(`{"event":"charge.success","data":{"reference":"ORD-42","status":"success","amount":5000.00,"currency":"NGN","metadata":{"order_id":"42","total_order":5000.00}}}`)

	n, err := korapay.ParseNotification(body)
	require.NoError(t, err)
	require.Equal(t, "charge.success", n.Event)
	require.True(t, n.IsHandled())
	require.Equal(t, "ORD-42", n.Data.Reference)
	require.Equal(t, "42", n.Data.Metadata.OrderID)
	require.NotEmpty(t, n.RawData)
}

func TestParseNotificationMalformed(t *testing.T) {
	for name, body := range map[string]string{
		"not json":      `{{{`,
		"missing event": `{"data":{"reference":"x"}}`,
		"missing data":  `{"event":"charge.success"}`,
		"array body":    `[1,2,3]`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := korapay.ParseNotification([]byte(body))
			require.ErrorIs(t, err, korapay.ErrMalformedPayload)
		})
	}
}

func TestIsHandledIgnoresOtherEvents(t *testing.T) {
	n, err := korapay.ParseNotification([]byte(`{"event":"charge.failed","data":{"reference":"r"}}`))
	require.NoError(t, err)
	require.False(t, n.IsHandled())
}

func TestVerifySignature(t *testing.T) {
	data := `{"reference":"ORD-42","status":"success","amount":5000.00,"currency":"NGN","metadata":{"order_id":"42","total_order":5000.00}}`
	body, sig := signedBody(t, "charge.success", data)

	n, err := korapay.ParseNotification(body)
	require.NoError(t, err)

	require.NoError(t, korapay.VerifySignature(n, testSecret, sig))
	require.NoError(t, korapay.VerifySignature(n, testSecret, strings.ToUpper(sig)))
	require.ErrorIs(t, korapay.VerifySignature(n, testSecret, "deadbeef"), korapay.ErrBadSignature)
	require.ErrorIs(t, korapay.VerifySignature(n, testSecret, ""), korapay.ErrBadSignature)
	require.ErrorIs(t, korapay.VerifySignature(n, "other-secret", sig), korapay.ErrBadSignature)
}

func TestValidateAcceptsMatchingTotals(t *testing.T) {
	n, err := korapay.ParseNotification([]byte(`{"event":"charge.success","data":{"reference":"ORD-42","status":"success","amount":5000.00,"currency":"NGN","metadata":{"order_id":"42","total_order":5000.00}}}`))
	require.NoError(t, err)
	require.NoError(t, korapay.Validate(n, paidOrder()))
}

func TestValidateAcceptsTrailingZeroDifference(t *testing.T) {
	// 5000 and 5000.00 are the same value; exact decimal comparison must not
	// be string comparison.
	n, err := korapay.ParseNotification([]byte(`{"event":"charge.success","data":{"reference":"ORD-42","status":"success","amount":5000,"currency":"NGN","metadata":{"order_id":"42","total_order":5000}}}`))
	require.NoError(t, err)
	require.NoError(t, korapay.Validate(n, paidOrder()))
}

func TestValidateAcceptsSparseMetadata(t *testing.T) {
	// Some notifications echo only the total; the reference is the
	// reconciliation index and an absent order id must not block payment.
	n, err := korapay.ParseNotification([]byte(`{"event":"charge.success","data":{"reference":"ORD-42","status":"success","metadata":{"total_order":5000.00}}}`))
	require.NoError(t, err)
	require.NoError(t, korapay.Validate(n, paidOrder()))
}

func TestValidateRejectsTotalMismatch(t *testing.T) {
	n, err := korapay.ParseNotification([]byte(`{"event":"charge.success","data":{"reference":"ORD-42","status":"success","amount":4999.99,"currency":"NGN","metadata":{"order_id":"42","total_order":4999.99}}}`))
	require.NoError(t, err)

	var valErr *korapay.ValidationError
	require.ErrorAs(t, korapay.Validate(n, paidOrder()), &valErr)
}

func TestValidateRejectsOrderIDMismatch(t *testing.T) {
	n, err := korapay.ParseNotification([]byte(`{"event":"charge.success","data":{"reference":"ORD-42","status":"success","amount":5000.00,"currency":"NGN","metadata":{"order_id":"7","total_order":5000.00}}}`))
	require.NoError(t, err)

	var valErr *korapay.ValidationError
	require.ErrorAs(t, korapay.Validate(n, paidOrder()), &valErr)
}

func TestValidateSkipsAmountCheckAcrossCurrencies(t *testing.T) {
	// Settlement happened in a different currency, so the charged amount is a
	// converted figure and only the metadata total is comparable.
	n, err := korapay.ParseNotification([]byte(`{"event":"charge.success","data":{"reference":"ORD-42","status":"success","amount":31.50,"currency":"USD","metadata":{"order_id":"42","total_order":5000.00}}}`))
	require.NoError(t, err)
	require.NoError(t, korapay.Validate(n, paidOrder()))
}
