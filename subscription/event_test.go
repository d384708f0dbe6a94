package subscription

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testEndpointSecret = "whsec_test_secret"

// signPayload produces a Stripe-Signature header for the payload, the
// same t=...,v1=... scheme the provider uses
func signPayload(payload []byte, secret string, at time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", at.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func eventPayload(eventType, object string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": "evt_test",
		"object": "event",
		"api_version": "2020-08-27",
		"created": %d,
		"type": %q,
		"data": {"object": %s}
	}`, time.Now().Unix(), eventType, object))
}

func TestNormalizeRejectsBadSignature(t *testing.T) {
	n, err := NewNormalizer(testEndpointSecret)
	require.NoError(t, err)

	payload := eventPayload("invoice.payment_succeeded", `{"id": "in_1", "customer": "cus_1"}`)

	ev, err := n.Normalize(payload, "t=12345,v1=deadbeef")
	assert.Nil(t, ev)
	assert.True(t, errors.Is(err, ErrBadSignature))
}

func TestNormalizeRejectsTamperedPayload(t *testing.T) {
	n, err := NewNormalizer(testEndpointSecret)
	require.NoError(t, err)

	payload := eventPayload("invoice.payment_succeeded", `{"id": "in_1", "customer": "cus_1"}`)
	header := signPayload(payload, testEndpointSecret, time.Now())

	tampered := eventPayload("invoice.payment_succeeded", `{"id": "in_1", "customer": "cus_attacker"}`)

	ev, err := n.Normalize(tampered, header)
	assert.Nil(t, ev)
	assert.True(t, errors.Is(err, ErrBadSignature))
}

func TestNormalizeRejectsWrongSecret(t *testing.T) {
	n, err := NewNormalizer(testEndpointSecret)
	require.NoError(t, err)

	payload := eventPayload("invoice.payment_succeeded", `{"id": "in_1", "customer": "cus_1"}`)
	header := signPayload(payload, "whsec_other_secret", time.Now())

	ev, err := n.Normalize(payload, header)
	assert.Nil(t, ev)
	assert.True(t, errors.Is(err, ErrBadSignature))
}

func TestNormalizeCheckoutCompleted(t *testing.T) {
	n, err := NewNormalizer(testEndpointSecret)
	require.NoError(t, err)

	payload := eventPayload("checkout.session.completed", `{
		"id": "cs_1",
		"customer": "cus_1",
		"subscription": "sub_1",
		"metadata": {"accountId": "u1"}
	}`)
	header := signPayload(payload, testEndpointSecret, time.Now())

	ev, err := n.Normalize(payload, header)
	require.NoError(t, err)
	assert.Equal(t, KindCheckoutCompleted, ev.Kind)
	assert.Equal(t, "checkout.session.completed", ev.ExternalType)
	assert.Equal(t, "u1", ev.AccountID)
	assert.Equal(t, "cus_1", ev.CustomerID)
	assert.Equal(t, "sub_1", ev.SubscriptionID)
}

func TestNormalizeCheckoutWithoutMetadata(t *testing.T) {
	n, err := NewNormalizer(testEndpointSecret)
	require.NoError(t, err)

	payload := eventPayload("checkout.session.completed", `{
		"id": "cs_1",
		"customer": "cus_1",
		"subscription": "sub_1"
	}`)
	header := signPayload(payload, testEndpointSecret, time.Now())

	ev, err := n.Normalize(payload, header)
	require.NoError(t, err)
	assert.Equal(t, KindCheckoutCompleted, ev.Kind)
	assert.Empty(t, ev.AccountID)
}

func TestNormalizeInvoiceEvents(t *testing.T) {
	n, err := NewNormalizer(testEndpointSecret)
	require.NoError(t, err)

	cases := []struct {
		eventType string
		kind      Kind
	}{
		{"invoice.payment_succeeded", KindPaymentSucceeded},
		{"invoice.payment_failed", KindPaymentFailed},
	}
	for _, c := range cases {
		payload := eventPayload(c.eventType, `{"id": "in_1", "customer": "cus_1"}`)
		header := signPayload(payload, testEndpointSecret, time.Now())

		ev, err := n.Normalize(payload, header)
		require.NoError(t, err)
		assert.Equal(t, c.kind, ev.Kind)
		assert.Equal(t, "cus_1", ev.CustomerID)
	}
}

func TestNormalizeSubscriptionDeleted(t *testing.T) {
	n, err := NewNormalizer(testEndpointSecret)
	require.NoError(t, err)

	payload := eventPayload("customer.subscription.deleted", `{"id": "sub_1", "customer": "cus_1"}`)
	header := signPayload(payload, testEndpointSecret, time.Now())

	ev, err := n.Normalize(payload, header)
	require.NoError(t, err)
	assert.Equal(t, KindSubscriptionDeleted, ev.Kind)
	assert.Equal(t, "sub_1", ev.SubscriptionID)
	assert.Equal(t, "cus_1", ev.CustomerID)
}

func TestNormalizeUnhandledType(t *testing.T) {
	n, err := NewNormalizer(testEndpointSecret)
	require.NoError(t, err)

	payload := eventPayload("customer.updated", `{"id": "cus_1"}`)
	header := signPayload(payload, testEndpointSecret, time.Now())

	ev, err := n.Normalize(payload, header)
	require.NoError(t, err)
	assert.Equal(t, KindIgnored, ev.Kind)
	assert.Equal(t, "customer.updated", ev.ExternalType)
}

func TestNewNormalizerRequiresSecret(t *testing.T) {
	_, err := NewNormalizer("")
	assert.Error(t, err)
}
