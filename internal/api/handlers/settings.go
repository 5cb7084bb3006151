package handlers

import (
	"log/slog"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/hugh/go-backoffice/internal/api/dto"
	"github.com/hugh/go-backoffice/internal/api/middleware"
	"github.com/hugh/go-backoffice/internal/api/respond"
	"github.com/hugh/go-backoffice/internal/apperr"
	"github.com/hugh/go-backoffice/internal/database/models"
	"github.com/hugh/go-backoffice/internal/files"
	"github.com/hugh/go-backoffice/internal/settings"
	"github.com/hugh/go-backoffice/internal/users"
)

type SettingsHandler struct {
	settings  *settings.Service
	ownership *settings.Ownership
	files     *files.Service
	users     *users.Service
	maxUpload int64
	logger    *slog.Logger
}

func NewSettingsHandler(settingsService *settings.Service, ownership *settings.Ownership, fileService *files.Service, userService *users.Service, maxUpload int64, logger *slog.Logger) *SettingsHandler {
	return &SettingsHandler{
		settings:  settingsService,
		ownership: ownership,
		files:     fileService,
		users:     userService,
		maxUpload: maxUpload,
		logger:    logger,
	}
}

func (h *SettingsHandler) passwordPolicy(r *http.Request) (dto.PasswordPolicyResponse, error) {
	policy, err := h.settings.PasswordPolicy(r.Context())
	if err != nil {
		return dto.PasswordPolicyResponse{}, err
	}
	return dto.PasswordPolicyResponse{
		PasswordPolicy: *policy,
		Pattern:        policy.Pattern(),
		Message:        policy.Message(),
	}, nil
}

// Public serves branding, enabled sign-in methods and the password policy
// to unauthenticated clients.
func (h *SettingsHandler) Public(w http.ResponseWriter, r *http.Request) {
	values, err := h.settings.Public(r.Context())
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	encoded, err := dto.EncodeValues(values)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	policy, err := h.passwordPolicy(r)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, dto.PublicSettingsResponse{Settings: encoded, PasswordPolicy: policy})
}

func (h *SettingsHandler) PasswordPolicy(w http.ResponseWriter, r *http.Request) {
	policy, err := h.passwordPolicy(r)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, policy)
}

// List returns every registered setting with secrets masked.
func (h *SettingsHandler) List(w http.ResponseWriter, r *http.Request) {
	all, err := h.settings.All(r.Context())
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}

	audits := make([]models.Audit, 0, len(all))
	for _, s := range all {
		audits = append(audits, models.Audit{UpdatedByID: s.UpdatedByID})
	}
	summaries, err := h.users.Audit(r.Context(), audits...)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}

	out := make([]dto.SettingDTO, 0, len(all))
	for _, s := range all {
		item, err := dto.NewSettingDTO(s, summaries)
		if err != nil {
			respond.Error(w, h.logger, err)
			return
		}
		out = append(out, item)
	}
	respond.JSON(w, http.StatusOK, out)
}

func (h *SettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req dto.UpdateSettingsRequest
	if !respond.Decode(w, r, &req) || !respond.Validated(w, req.Validate()) {
		return
	}

	names := make([]string, 0, len(req.Settings))
	for name := range req.Settings {
		names = append(names, name)
	}
	sort.Strings(names)

	invalid := make(map[string]string)
	changes := make([]settings.Change, 0, len(names))
	for _, name := range names {
		c, err := settings.ParseChange(name, req.Settings[name])
		if err != nil {
			if ae := apperr.As(err); ae != nil {
				for k, v := range ae.Fields {
					invalid[k] = v
				}
				continue
			}
			respond.Error(w, h.logger, err)
			return
		}
		changes = append(changes, c)
	}
	if !respond.Validated(w, invalid) {
		return
	}

	actor := middleware.GetUser(r.Context())
	result, err := h.settings.Update(r.Context(), &actor.ID, changes)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, dto.UpdateSettingsResponse{Updated: result.Updated, Unchanged: result.Unchanged})
}

// UploadImage stores an image and points the named image setting at it.
func (h *SettingsHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if def, ok := settings.Lookup(name); !ok || def.DataType() != models.DataTypeImage {
		respond.Error(w, h.logger, apperr.InvalidField(name, "Not an image setting"))
		return
	}

	in, file, err := readUpload(w, r, h.maxUpload)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	defer file.Close()

	actor := middleware.GetUser(r.Context())
	in.Prefix = "settings"
	in.CreatedBy = &actor.ID
	uploaded, err := h.files.Upload(r.Context(), in)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}

	if err := h.settings.SetImage(r.Context(), &actor.ID, name, uploaded.ID); err != nil {
		if delErr := h.files.Delete(r.Context(), uploaded.ID); delErr != nil {
			h.logger.Warn("failed to remove unused upload", "file_id", uploaded.ID, "error", delErr)
		}
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusCreated, uploaded)
}

func (h *SettingsHandler) Sharing(w http.ResponseWriter, r *http.Request) {
	sh, err := h.ownership.Sharing(r.Context())
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, sh)
}

func (h *SettingsHandler) UpdateSharing(w http.ResponseWriter, r *http.Request) {
	var req dto.SharingRequest
	if !respond.Decode(w, r, &req) {
		return
	}

	err := h.ownership.UpdateSharing(r.Context(), middleware.GetUser(r.Context()), req.Password, settings.Sharing{
		Mode:   req.Mode,
		Admins: req.Admins,
	})
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	h.Sharing(w, r)
}

// TransferOwnership hands the owner role to another user; the caller
// becomes an admin.
func (h *SettingsHandler) TransferOwnership(w http.ResponseWriter, r *http.Request) {
	var req dto.TransferOwnershipRequest
	if !respond.Decode(w, r, &req) || !respond.Validated(w, req.Validate()) {
		return
	}

	if err := h.ownership.TransferOwnership(r.Context(), middleware.GetUser(r.Context()), req.Password, req.UserID); err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, dto.SuccessResponse{Message: "Ownership transferred"})
}
