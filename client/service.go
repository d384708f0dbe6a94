package client

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/zllovesuki/bmc/auth"
	resp "github.com/zllovesuki/bmc/response"

	"github.com/go-chi/chi"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

var validate *validator.Validate = validator.New()

// ServiceOptions contains the configuration for Service router
type ServiceOptions struct {
	ClientManager *Manager
	Logger        *zap.Logger
}

// Service is the client API router
type Service struct {
	ServiceOptions
}

// NewService will create an instance of the client API router
func NewService(option ServiceOptions) (*Service, error) {
	if option.ClientManager == nil {
		return nil, fmt.Errorf("nil ClientManager is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Service{
		ServiceOptions: option,
	}, nil
}

// ClientRequest is the model of user request for creating or updating a client
type ClientRequest struct {
	Name  string `json:"name" validate:"required"`
	Email string `json:"email" validate:"omitempty,email"`
	Phone string `json:"phone"`
}

func (s *Service) createClient(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)

	var req ClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if err := validate.Struct(&req); err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("name is required; email must be valid when given"))
		return
	}

	c, err := s.ClientManager.Create(ctx, CreateOption{
		AccountID: claims.ID,
		Name:      req.Name,
		Email:     req.Email,
		Phone:     req.Phone,
	})
	if err != nil {
		s.Logger.Error("Unable to create client",
			zap.String("AccountID", claims.ID),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}

	resp.WriteResponse(w, r, c)
}

func (s *Service) listClients(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)

	results, err := s.ClientManager.List(ctx, claims.ID)
	if err != nil {
		s.Logger.Error("Unable to list clients",
			zap.String("AccountID", claims.ID),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}

	resp.WriteResponse(w, r, results)
}

func (s *Service) getClient(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)
	clientID := chi.URLParam(r, "id")

	c, err := s.ClientManager.Get(ctx, claims.ID, clientID)
	if err != nil {
		s.Logger.Error("Unable to query client",
			zap.String("AccountID", claims.ID),
			zap.String("ClientID", clientID),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}
	if c == nil {
		resp.WriteError(w, r, resp.ErrNotFound().AddMessages("Cannot find client with specific ID"))
		return
	}

	resp.WriteResponse(w, r, c)
}

func (s *Service) updateClient(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)
	clientID := chi.URLParam(r, "id")

	var req ClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if err := validate.Struct(&req); err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("name is required; email must be valid when given"))
		return
	}

	c, err := s.ClientManager.Update(ctx, UpdateOption{
		AccountID: claims.ID,
		ClientID:  clientID,
		Name:      req.Name,
		Email:     req.Email,
		Phone:     req.Phone,
	})
	if err != nil {
		s.Logger.Error("Unable to update client",
			zap.String("AccountID", claims.ID),
			zap.String("ClientID", clientID),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}
	if c == nil {
		resp.WriteError(w, r, resp.ErrNotFound().AddMessages("Cannot find client with specific ID"))
		return
	}

	resp.WriteResponse(w, r, c)
}

func (s *Service) deleteClient(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)
	clientID := chi.URLParam(r, "id")

	deleted, err := s.ClientManager.Delete(ctx, claims.ID, clientID)
	if err != nil {
		s.Logger.Error("Unable to delete client",
			zap.String("AccountID", claims.ID),
			zap.String("ClientID", clientID),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}
	if !deleted {
		resp.WriteError(w, r, resp.ErrNotFound().AddMessages("Cannot find client with specific ID"))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Router will return the routes under client API
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Post("/", s.createClient)
	r.Get("/", s.listClients)
	r.Get("/{id}", s.getClient)
	r.Patch("/{id}", s.updateClient)
	r.Delete("/{id}", s.deleteClient)

	return r
}
