package budget

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/zllovesuki/bmc/account"
	"github.com/zllovesuki/bmc/auth"
	"github.com/zllovesuki/bmc/broker"
	"github.com/zllovesuki/bmc/client"
	resp "github.com/zllovesuki/bmc/response"

	"github.com/go-chi/chi"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

var validate *validator.Validate = validator.New()

// ServiceOptions contains the configuration for Service router
type ServiceOptions struct {
	AccountManager *account.Manager
	ClientManager  *client.Manager
	BudgetManager  *Manager
	Producer       broker.Producer
	Logger         *zap.Logger
}

// Service is the budget API router
type Service struct {
	ServiceOptions
}

// NewService will create an instance of the budget API router
func NewService(option ServiceOptions) (*Service, error) {
	if option.AccountManager == nil {
		return nil, fmt.Errorf("nil AccountManager is invalid")
	}
	if option.ClientManager == nil {
		return nil, fmt.Errorf("nil ClientManager is invalid")
	}
	if option.BudgetManager == nil {
		return nil, fmt.Errorf("nil BudgetManager is invalid")
	}
	if option.Producer == nil {
		return nil, fmt.Errorf("nil Producer is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Service{
		ServiceOptions: option,
	}, nil
}

// ItemRequest is one line of a budget creation request
type ItemRequest struct {
	Description    string `json:"description" validate:"required"`
	Quantity       int64  `json:"quantity" validate:"required,min=1"`
	UnitPriceCents int64  `json:"unitPriceCents" validate:"min=0"`
}

// CreateRequest is the model of user request for creating a budget
type CreateRequest struct {
	ClientID    string        `json:"clientId" validate:"required"`
	Title       string        `json:"title" validate:"required"`
	Description string        `json:"description"`
	Items       []ItemRequest `json:"items" validate:"required,min=1,dive"`
}

// budgetView decorates a Budget with its aggregate for API responses
type budgetView struct {
	*Budget
	TotalCents int64 `json:"totalCents"`
}

func newBudgetView(b *Budget) budgetView {
	return budgetView{
		Budget:     b,
		TotalCents: b.TotalCents(),
	}
}

func (s *Service) createBudget(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)

	logger := s.Logger.With(zap.String("AccountID", claims.ID))

	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if err := validate.Struct(&req); err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("clientId, title, and at least one valid item are required"))
		return
	}

	// the budget must be addressed to one of the account's own clients
	c, err := s.ClientManager.Get(ctx, claims.ID, req.ClientID)
	if err != nil {
		logger.Error("Unable to query client",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}
	if c == nil {
		resp.WriteError(w, r, resp.ErrNotFound().AddMessages("Cannot find client with specific ID"))
		return
	}

	opt := CreateOption{
		AccountID:   claims.ID,
		ClientID:    req.ClientID,
		Title:       req.Title,
		Description: req.Description,
	}
	for _, item := range req.Items {
		opt.Items = append(opt.Items, ItemOption{
			Description:    item.Description,
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPriceCents,
		})
	}

	b, err := s.BudgetManager.Create(ctx, opt)
	if err != nil {
		if errors.Is(err, ErrQuotaExceeded) {
			resp.WriteError(w, r, resp.ErrQuotaExceeded())
			return
		}
		logger.Error("Unable to create budget",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}

	resp.WriteResponse(w, r, newBudgetView(b))
}

func (s *Service) listBudgets(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)
	before := r.URL.Query().Get("before")

	var parsedTime time.Time
	if before != "" {
		var err error
		parsedTime, err = time.Parse(time.RFC3339Nano, before)
		if err != nil {
			resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Invalid before param"))
			return
		}
	}

	results, err := s.BudgetManager.List(ctx, ListOption{
		AccountID: claims.ID,
		Before:    parsedTime,
		Limit:     10,
	})
	if err != nil {
		s.Logger.Error("Unable to list budgets",
			zap.String("AccountID", claims.ID),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}

	views := make([]budgetView, 0, len(results))
	for k := range results {
		views = append(views, newBudgetView(&results[k]))
	}
	resp.WriteResponse(w, r, views)
}

func (s *Service) getBudget(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)
	budgetID := chi.URLParam(r, "id")

	b, err := s.BudgetManager.Get(ctx, claims.ID, budgetID)
	if err != nil {
		s.Logger.Error("Unable to query budget",
			zap.String("AccountID", claims.ID),
			zap.String("BudgetID", budgetID),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}
	if b == nil {
		resp.WriteError(w, r, resp.ErrNotFound().AddMessages("Cannot find budget with specific ID"))
		return
	}

	resp.WriteResponse(w, r, newBudgetView(b))
}

func (s *Service) getStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)

	acct, err := s.AccountManager.GetByID(ctx, claims.ID)
	if err != nil {
		s.Logger.Error("Unable to query account",
			zap.String("AccountID", claims.ID),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}
	if acct == nil {
		resp.WriteError(w, r, resp.ErrNotFound())
		return
	}

	stats, err := s.BudgetManager.GetStats(ctx, acct)
	if err != nil {
		s.Logger.Error("Unable to compute budget stats",
			zap.String("AccountID", claims.ID),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}

	resp.WriteResponse(w, r, stats)
}

func (s *Service) getPublicBudget(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	publicID := chi.URLParam(r, "publicId")

	b, err := s.BudgetManager.GetByPublicID(ctx, publicID)
	if err != nil {
		s.Logger.Error("Unable to query budget by public id",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}
	if b == nil {
		resp.WriteError(w, r, resp.ErrNotFound().AddMessages("Cannot find budget behind this link"))
		return
	}

	resp.WriteResponse(w, r, newBudgetView(b))
}

func (s *Service) approveBudget(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	publicID := chi.URLParam(r, "publicId")

	b, transitioned, err := s.BudgetManager.Approve(ctx, publicID)
	if err != nil {
		s.Logger.Error("Unable to approve budget",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}
	if b == nil {
		resp.WriteError(w, r, resp.ErrNotFound().AddMessages("Cannot find budget behind this link"))
		return
	}

	// notification delivery is best effort and never fails the approval
	if transitioned && b.ApprovedAt != nil {
		if err := s.Producer.PublishBudgetApproved(&broker.BudgetApproved{
			BudgetID:    b.ID,
			AccountID:   b.AccountID,
			BudgetTitle: b.Title,
			ClientName:  b.Client.Name,
			ApprovedAt:  *b.ApprovedAt,
		}); err != nil {
			s.Logger.Error("Unable to publish approval notification",
				zap.String("BudgetID", b.ID),
				zap.Error(err),
			)
		}
	}

	resp.WriteResponse(w, r, newBudgetView(b))
}

// Router will return the authenticated routes under budget API
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Post("/", s.createBudget)
	r.Get("/", s.listBudgets)
	r.Get("/stats", s.getStats)
	r.Get("/{id}", s.getBudget)

	return r
}

// PublicRouter will return the unauthenticated routes for the shared
// read-only approval links
func (s *Service) PublicRouter() http.Handler {
	r := chi.NewRouter()

	r.Get("/{publicId}", s.getPublicBudget)
	r.Post("/{publicId}/approve", s.approveBudget)

	return r
}
