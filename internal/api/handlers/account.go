package handlers

import (
	"log/slog"
	"net/http"

	"github.com/hugh/go-backoffice/internal/api/dto"
	"github.com/hugh/go-backoffice/internal/api/middleware"
	"github.com/hugh/go-backoffice/internal/api/respond"
	"github.com/hugh/go-backoffice/internal/apperr"
	"github.com/hugh/go-backoffice/internal/auth"
	"github.com/hugh/go-backoffice/internal/database/models"
	"github.com/hugh/go-backoffice/internal/files"
	"github.com/hugh/go-backoffice/internal/users"
)

// AccountHandler serves the signed-in user's own account.
type AccountHandler struct {
	auth          *auth.Service
	users         *users.Service
	files         *files.Service
	maxUpload     int64
	secureCookies bool
	logger        *slog.Logger
}

func NewAccountHandler(authService *auth.Service, userService *users.Service, fileService *files.Service, maxUpload int64, secureCookies bool, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{
		auth:          authService,
		users:         userService,
		files:         fileService,
		maxUpload:     maxUpload,
		secureCookies: secureCookies,
		logger:        logger,
	}
}

// view renders user with its photo and audit authors.
func (h *AccountHandler) view(r *http.Request, user *models.User, photo *models.File) (dto.UserDTO, error) {
	out := dto.NewUserDTO(user)
	if photo == nil && user.PhotoID != nil {
		f, err := h.files.Get(r.Context(), *user.PhotoID)
		switch {
		case err == nil:
			photo = f
		case apperr.KindOf(err) == apperr.KindNotFound:
		default:
			return out, err
		}
	}
	out.Photo = photo

	summaries, err := h.users.Audit(r.Context(), user.Audit)
	if err != nil {
		return out, err
	}
	return out.WithAudit(user.Audit, summaries), nil
}

func (h *AccountHandler) render(w http.ResponseWriter, r *http.Request, user *models.User, photo *models.File) {
	out, err := h.view(r, user, photo)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, out)
}

func (h *AccountHandler) Get(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, middleware.GetUser(r.Context()), nil)
}

func (h *AccountHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req dto.ProfileRequest
	if !respond.Decode(w, r, &req) {
		return
	}

	user, err := h.users.UpdateProfile(r.Context(), middleware.GetUser(r.Context()), req.Input())
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	h.render(w, r, user, nil)
}

// ChangePassword replaces the password and answers with a fresh session;
// every other session is revoked.
func (h *AccountHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req dto.ChangePasswordRequest
	if !respond.Decode(w, r, &req) || !respond.Validated(w, req.Validate()) {
		return
	}

	session, err := h.auth.ChangePassword(r.Context(), middleware.GetPrincipal(r.Context()), req.CurrentPassword, req.NewPassword)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	setSessionCookie(w, session, h.secureCookies)
	respond.JSON(w, http.StatusOK, dto.NewSessionResponse(session))
}

func (h *AccountHandler) RequestEmailChange(w http.ResponseWriter, r *http.Request) {
	var req dto.EmailChangeRequest
	if !respond.Decode(w, r, &req) || !respond.Validated(w, req.Validate()) {
		return
	}

	token, err := h.auth.RequestEmailChange(r.Context(), middleware.GetUser(r.Context()), req.Email, req.Password)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusAccepted, dto.TokenSentResponse{Message: "Confirmation sent to the new address", Token: token})
}

func (h *AccountHandler) UploadPhoto(w http.ResponseWriter, r *http.Request) {
	in, file, err := readUpload(w, r, h.maxUpload)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	defer file.Close()

	user, photo, err := h.users.SetPhoto(r.Context(), middleware.GetUser(r.Context()), in)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	h.render(w, r, user, photo)
}

func (h *AccountHandler) RemovePhoto(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if err := h.users.RemovePhoto(r.Context(), user); err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Delete removes the caller's own account after confirming the password.
func (h *AccountHandler) Delete(w http.ResponseWriter, r *http.Request) {
	var req dto.PasswordRequest
	if r.ContentLength != 0 && !respond.Decode(w, r, &req) {
		return
	}

	if err := h.users.DeleteAccount(r.Context(), middleware.GetUser(r.Context()), req.Password); err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	clearSessionCookie(w, h.secureCookies)
	w.WriteHeader(http.StatusNoContent)
}
