package budget

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/zllovesuki/bmc/account"
	"github.com/zllovesuki/bmc/auth"
	"github.com/zllovesuki/bmc/broker"
	"github.com/zllovesuki/bmc/client"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeProducer struct {
	published []*broker.BudgetApproved
	err       error
}

func (f *fakeProducer) Close() {}

func (f *fakeProducer) PublishBudgetApproved(p *broker.BudgetApproved) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, p)
	return nil
}

type serviceFixture struct {
	service  *Service
	manager  *Manager
	producer *fakeProducer
}

func testService(t *testing.T) serviceFixture {
	m := testManager(t)

	accountManager, err := account.NewManager(zap.NewNop(), m.DB)
	require.NoError(t, err)
	clientManager, err := client.NewManager(zap.NewNop(), m.DB)
	require.NoError(t, err)

	producer := &fakeProducer{}
	service, err := NewService(ServiceOptions{
		AccountManager: accountManager,
		ClientManager:  clientManager,
		BudgetManager:  m,
		Producer:       producer,
		Logger:         zap.NewNop(),
	})
	require.NoError(t, err)

	return serviceFixture{
		service:  service,
		manager:  m,
		producer: producer,
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

func createRequestBody(clientID string) []byte {
	body, _ := json.Marshal(CreateRequest{
		ClientID: clientID,
		Title:    "Website redesign",
		Items: []ItemRequest{
			{Description: "Design", Quantity: 2, UnitPriceCents: 150000},
		},
	})
	return body
}

func TestCreateBudgetEndpoint(t *testing.T) {
	fx := testService(t)
	seedAccount(t, fx.manager, "u1", account.PlanFree)
	seedClient(t, fx.manager, "c1", "u1")

	w := httptest.NewRecorder()
	fx.service.createBudget(w, authedRequest("POST", "/", createRequestBody("c1")))

	require.Equal(t, http.StatusOK, w.Code)
	var envelope struct {
		Result budgetView `json:"result"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, "Website redesign", envelope.Result.Title)
	assert.Equal(t, int64(300000), envelope.Result.TotalCents)
}

func TestCreateBudgetRejectsForeignClient(t *testing.T) {
	fx := testService(t)
	seedAccount(t, fx.manager, "u1", account.PlanFree)
	seedAccount(t, fx.manager, "u2", account.PlanFree)
	seedClient(t, fx.manager, "c2", "u2")

	w := httptest.NewRecorder()
	fx.service.createBudget(w, authedRequest("POST", "/", createRequestBody("c2")))

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateBudgetOverQuota(t *testing.T) {
	fx := testService(t)
	seedAccount(t, fx.manager, "u1", account.PlanFree)
	seedClient(t, fx.manager, "c1", "u1")
	ctx := context.Background()

	for i := 0; i < FreeMonthlyLimit; i++ {
		_, err := fx.manager.Create(ctx, createOption("u1", "c1", fmt.Sprintf("Budget %d", i)))
		require.NoError(t, err)
	}

	w := httptest.NewRecorder()
	fx.service.createBudget(w, authedRequest("POST", "/", createRequestBody("c1")))

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestCreateBudgetRejectsEmptyItems(t *testing.T) {
	fx := testService(t)
	seedAccount(t, fx.manager, "u1", account.PlanFree)
	seedClient(t, fx.manager, "c1", "u1")

	body, _ := json.Marshal(CreateRequest{
		ClientID: "c1",
		Title:    "No items",
	})
	w := httptest.NewRecorder()
	fx.service.createBudget(w, authedRequest("POST", "/", body))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestApproveEndpointPublishesOnce(t *testing.T) {
	fx := testService(t)
	seedAccount(t, fx.manager, "u1", account.PlanFree)
	seedClient(t, fx.manager, "c1", "u1")
	ctx := context.Background()

	b, err := fx.manager.Create(ctx, createOption("u1", "c1", "Pending approval"))
	require.NoError(t, err)

	router := fx.service.PublicRouter()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("POST", "/"+b.PublicID+"/approve", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, fx.producer.published, 1)
	assert.Equal(t, b.ID, fx.producer.published[0].BudgetID)
	assert.Equal(t, "u1", fx.producer.published[0].AccountID)
	assert.Equal(t, "Acme Corp", fx.producer.published[0].ClientName)

	// replaying the approval must not notify again
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("POST", "/"+b.PublicID+"/approve", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, fx.producer.published, 1)
}

func TestApproveEndpointSurvivesBrokerOutage(t *testing.T) {
	fx := testService(t)
	fx.producer.err = assert.AnError
	seedAccount(t, fx.manager, "u1", account.PlanFree)
	seedClient(t, fx.manager, "c1", "u1")
	ctx := context.Background()

	b, err := fx.manager.Create(ctx, createOption("u1", "c1", "Pending approval"))
	require.NoError(t, err)

	w := httptest.NewRecorder()
	fx.service.PublicRouter().ServeHTTP(w, httptest.NewRequest("POST", "/"+b.PublicID+"/approve", nil))

	// the approval itself still succeeds
	assert.Equal(t, http.StatusOK, w.Code)
	approved, err := fx.manager.GetByPublicID(ctx, b.PublicID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, approved.Status)
}

func TestPublicBudgetEndpoint(t *testing.T) {
	fx := testService(t)
	seedAccount(t, fx.manager, "u1", account.PlanFree)
	seedClient(t, fx.manager, "c1", "u1")
	ctx := context.Background()

	b, err := fx.manager.Create(ctx, createOption("u1", "c1", "Shared"))
	require.NoError(t, err)

	router := fx.service.PublicRouter()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/"+b.PublicID, nil))
	require.Equal(t, http.StatusOK, w.Code)

	var envelope struct {
		Result budgetView `json:"result"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, "Shared", envelope.Result.Title)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/not-a-token", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStatsEndpoint(t *testing.T) {
	fx := testService(t)
	seedAccount(t, fx.manager, "u1", account.PlanFree)
	seedClient(t, fx.manager, "c1", "u1")
	ctx := context.Background()

	_, err := fx.manager.Create(ctx, createOption("u1", "c1", "Only one"))
	require.NoError(t, err)

	w := httptest.NewRecorder()
	fx.service.getStats(w, authedRequest("GET", "/stats", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var envelope struct {
		Result Stats `json:"result"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, int64(1), envelope.Result.Total)
	assert.Equal(t, int64(FreeMonthlyLimit-1), envelope.Result.Remaining)
}
