package charge

import (
	"errors"
	"strconv"
	"strings"
)

const referencePrefix = "ORD-"

// ErrMalformedReference is returned when a reference cannot be decoded back
// into an order id.
var ErrMalformedReference = errors.New("charge: malformed reference")

// EncodeReference derives the provider-facing charge reference from an order
// id. The result is left-padded with "0" to at least five characters; because
// padding is applied to the already-prefixed string, no positive order id
// actually triggers it. Kept for compatibility with existing references.
func EncodeReference(orderID int64) string {
	ref := referencePrefix + strconv.FormatInt(orderID, 10)
	for len(ref) < 5 {
		ref = "0" + ref
	}
	return ref
}

// DecodeReference recovers the order id from a charge reference. Padding
// zeros, if any, are stripped before the prefix is matched. It does not check
// that the id refers to an existing order.
func DecodeReference(reference string) (int64, error) {
	trimmed := strings.TrimLeft(strings.TrimSpace(reference), "0")
	rest, ok := strings.CutPrefix(trimmed, referencePrefix)
	if !ok {
		return 0, ErrMalformedReference
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || id < 0 {
		return 0, ErrMalformedReference
	}
	return id, nil
}
