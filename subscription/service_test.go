package subscription

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/zllovesuki/bmc/account"
	"github.com/zllovesuki/bmc/auth"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v72"
	"go.uber.org/zap"
)

type countingApplier struct {
	applied []*Event
	err     error
}

func (c *countingApplier) Apply(ctx context.Context, ev *Event) error {
	c.applied = append(c.applied, ev)
	return c.err
}

type fakeCheckoutAPI struct {
	params *stripe.CheckoutSessionParams
	err    error
}

func (f *fakeCheckoutAPI) New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	f.params = params
	if f.err != nil {
		return nil, f.err
	}
	return &stripe.CheckoutSession{ID: "cs_test"}, nil
}

type fakePortalAPI struct {
	params *stripe.BillingPortalSessionParams
	err    error
}

func (f *fakePortalAPI) New(params *stripe.BillingPortalSessionParams) (*stripe.BillingPortalSession, error) {
	f.params = params
	if f.err != nil {
		return nil, f.err
	}
	return &stripe.BillingPortalSession{URL: "https://billing.stripe.com/session/test"}, nil
}

type serviceFixture struct {
	service  *Service
	applier  *countingApplier
	checkout *fakeCheckoutAPI
	portal   *fakePortalAPI
}

func testService(t *testing.T) serviceFixture {
	db := testDB(t)
	manager, err := NewManager(ManagerOptions{
		DB:     db,
		Logger: zap.NewNop(),
	})
	require.NoError(t, err)

	normalizer, err := NewNormalizer(testEndpointSecret)
	require.NoError(t, err)

	applier := &countingApplier{}
	checkout := &fakeCheckoutAPI{}
	portal := &fakePortalAPI{}

	service, err := NewService(ServiceOptions{
		SubscriptionManager: manager,
		Normalizer:          normalizer,
		Reconciler:          applier,
		CheckoutAPI:         checkout,
		PortalAPI:           portal,
		SiteURL:             "https://app.example.com",
		Logger:              zap.NewNop(),
	})
	require.NoError(t, err)

	return serviceFixture{
		service:  service,
		applier:  applier,
		checkout: checkout,
		portal:   portal,
	}
}

func authedRequest(method, target string, body []byte) *http.Request {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	claims := &auth.Claims{
		Email: "u1@example.com",
		ID:    "u1",
	}
	return req.WithContext(context.WithValue(req.Context(), auth.Context, claims))
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	fx := testService(t)
	handler := fx.service.WebhookHandler()

	payload := eventPayload("invoice.payment_succeeded", `{"id": "in_1", "customer": "cus_1"}`)
	req := httptest.NewRequest("POST", "/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", "t=12345,v1=deadbeef")
	w := httptest.NewRecorder()

	handler(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	// nothing may reach persisted state off an unverified payload
	assert.Empty(t, fx.applier.applied)
}

func TestWebhookAcknowledgesIgnoredEvent(t *testing.T) {
	fx := testService(t)
	handler := fx.service.WebhookHandler()

	payload := eventPayload("customer.updated", `{"id": "cus_1"}`)
	req := httptest.NewRequest("POST", "/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", signPayload(payload, testEndpointSecret, time.Now()))
	w := httptest.NewRecorder()

	handler(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, fx.applier.applied)
}

func TestWebhookAppliesHandledEvent(t *testing.T) {
	fx := testService(t)
	handler := fx.service.WebhookHandler()

	payload := eventPayload("invoice.payment_failed", `{"id": "in_1", "customer": "cus_1"}`)
	req := httptest.NewRequest("POST", "/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", signPayload(payload, testEndpointSecret, time.Now()))
	w := httptest.NewRecorder()

	handler(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, fx.applier.applied, 1)
	assert.Equal(t, KindPaymentFailed, fx.applier.applied[0].Kind)
	assert.Equal(t, "cus_1", fx.applier.applied[0].CustomerID)
}

func TestWebhookSurfacesReconcileFailure(t *testing.T) {
	fx := testService(t)
	fx.applier.err = assert.AnError
	handler := fx.service.WebhookHandler()

	payload := eventPayload("invoice.payment_succeeded", `{"id": "in_1", "customer": "cus_1"}`)
	req := httptest.NewRequest("POST", "/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", signPayload(payload, testEndpointSecret, time.Now()))
	w := httptest.NewRecorder()

	handler(w, req)

	// a 500 asks the provider to redeliver
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Len(t, fx.applier.applied, 1)
}

func TestCreateCheckout(t *testing.T) {
	fx := testService(t)

	body, _ := json.Marshal(CheckoutRequest{PriceID: "price_pro"})
	w := httptest.NewRecorder()
	fx.service.createCheckout(w, authedRequest("POST", "/checkout", body))

	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, fx.checkout.params)
	assert.Equal(t, "u1", fx.checkout.params.SubscriptionData.Metadata[metadataAccountID])
	assert.Equal(t, "u1@example.com", *fx.checkout.params.CustomerEmail)
	require.Len(t, fx.checkout.params.LineItems, 1)
	assert.Equal(t, "price_pro", *fx.checkout.params.LineItems[0].Price)

	var envelope struct {
		Result struct {
			SessionID string `json:"sessionId"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, "cs_test", envelope.Result.SessionID)
}

func TestCreateCheckoutRequiresPrice(t *testing.T) {
	fx := testService(t)

	w := httptest.NewRecorder()
	fx.service.createCheckout(w, authedRequest("POST", "/checkout", []byte(`{}`)))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Nil(t, fx.checkout.params)
}

func TestCreatePortalWithoutSubscription(t *testing.T) {
	fx := testService(t)

	w := httptest.NewRecorder()
	fx.service.createPortal(w, authedRequest("POST", "/portal", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Nil(t, fx.portal.params)
}

func TestCreatePortal(t *testing.T) {
	fx := testService(t)
	require.NoError(t, fx.service.SubscriptionManager.DB.Create(&Record{
		ID:         "sub_1",
		AccountID:  "u1",
		CustomerID: "cus_1",
		Plan:       account.PlanPro,
		Status:     StatusActive,
		StartedAt:  time.Now().UTC(),
	}).Error)

	w := httptest.NewRecorder()
	fx.service.createPortal(w, authedRequest("POST", "/portal", nil))

	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, fx.portal.params)
	assert.Equal(t, "cus_1", *fx.portal.params.Customer)
}

func TestListRecords(t *testing.T) {
	fx := testService(t)
	now := time.Now().UTC()
	for _, rec := range []Record{
		{ID: "sub_1", AccountID: "u1", CustomerID: "cus_1", Plan: account.PlanPro, Status: StatusCancelled, StartedAt: now.Add(-48 * time.Hour)},
		{ID: "sub_2", AccountID: "u1", CustomerID: "cus_1", Plan: account.PlanPremium, Status: StatusActive, StartedAt: now},
		{ID: "sub_3", AccountID: "u2", CustomerID: "cus_2", Plan: account.PlanPro, Status: StatusActive, StartedAt: now},
	} {
		require.NoError(t, fx.service.SubscriptionManager.DB.Create(&rec).Error)
	}

	w := httptest.NewRecorder()
	fx.service.listRecords(w, authedRequest("GET", "/", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var envelope struct {
		Result []Record `json:"result"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.Len(t, envelope.Result, 2)
	// newest first, scoped to the requesting account
	assert.Equal(t, "sub_2", envelope.Result[0].ID)
	assert.Equal(t, "sub_1", envelope.Result[1].ID)
}
