package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hugh/go-backoffice/internal/api/dto"
	"github.com/hugh/go-backoffice/internal/api/middleware"
	"github.com/hugh/go-backoffice/internal/api/respond"
	"github.com/hugh/go-backoffice/internal/apperr"
	"github.com/hugh/go-backoffice/internal/database/models"
	"github.com/hugh/go-backoffice/internal/users"
)

// UserHandler serves user administration for admins and the owner.
type UserHandler struct {
	users  *users.Service
	logger *slog.Logger
}

func NewUserHandler(userService *users.Service, logger *slog.Logger) *UserHandler {
	return &UserHandler{users: userService, logger: logger}
}

func parseID(r *http.Request, param string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		return uuid.Nil, apperr.InvalidField(param, "Invalid id")
	}
	return id, nil
}

func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))

	result, err := h.users.List(r.Context(), users.ListParams{
		Page:    page,
		PerPage: perPage,
		Search:  q.Get("search"),
		Role:    models.Role(q.Get("role")),
	})
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}

	data := make([]dto.UserDTO, len(result.Users))
	for i := range result.Users {
		data[i] = dto.NewUserDTO(&result.Users[i])
	}
	respond.JSON(w, http.StatusOK, dto.PaginatedResponse{
		Data:       data,
		Total:      result.Total,
		Page:       result.Page,
		PerPage:    result.PerPage,
		TotalPages: result.TotalPages(),
	})
}

func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}

	user, err := h.users.Get(r.Context(), id)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	h.render(w, r, user)
}

func (h *UserHandler) render(w http.ResponseWriter, r *http.Request, user *models.User) {
	summaries, err := h.users.Audit(r.Context(), user.Audit)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, dto.NewUserDTO(user).WithAudit(user.Audit, summaries))
}

func (h *UserHandler) SetRole(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	var req dto.RoleRequest
	if !respond.Decode(w, r, &req) || !respond.Validated(w, req.Validate()) {
		return
	}

	user, err := h.users.SetRole(r.Context(), middleware.GetUser(r.Context()), id, req.Role)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	h.render(w, r, user)
}

func (h *UserHandler) Suspend(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, h.users.Suspend)
}

func (h *UserHandler) Activate(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, h.users.Activate)
}

func (h *UserHandler) toggle(w http.ResponseWriter, r *http.Request, action func(context.Context, *models.User, uuid.UUID) (*models.User, error)) {
	id, err := parseID(r, "id")
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}

	user, err := action(r.Context(), middleware.GetUser(r.Context()), id)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	h.render(w, r, user)
}

func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}

	if err := h.users.Delete(r.Context(), middleware.GetUser(r.Context()), id); err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
