package dto

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/go-backoffice/internal/database/models"
	"github.com/hugh/go-backoffice/internal/settings"
	"github.com/hugh/go-backoffice/internal/users"
)

type SettingDTO struct {
	Name      string                 `json:"name"`
	DataType  models.SettingDataType `json:"data_type"`
	Value     json.RawMessage        `json:"value"`
	IsDefault bool                   `json:"is_default"`
	Secret    bool                   `json:"secret,omitempty"`
	UpdatedAt *time.Time             `json:"updated_at,omitempty"`
	UpdatedBy *users.Summary         `json:"updated_by,omitempty"`
}

// NewSettingDTO encodes the masked value of r.
func NewSettingDTO(r *settings.Resolved, summaries map[uuid.UUID]users.Summary) (SettingDTO, error) {
	out := SettingDTO{
		Name:      r.Name,
		IsDefault: r.IsDefault,
		Secret:    r.Secret,
		UpdatedAt: r.UpdatedAt,
		UpdatedBy: lookupSummary(r.UpdatedByID, summaries),
		Value:     json.RawMessage("null"),
	}
	if def, ok := settings.Lookup(r.Name); ok {
		out.DataType = def.DataType()
	}
	v := r.Masked()
	if v == nil {
		return out, nil
	}
	raw, err := settings.Encode(v)
	if err != nil {
		return out, err
	}
	out.Value = raw
	return out, nil
}

// EncodeValues converts resolved values to their JSON encoding.
func EncodeValues(values map[string]settings.Value) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(values))
	for name, v := range values {
		if v == nil {
			out[name] = json.RawMessage("null")
			continue
		}
		raw, err := settings.Encode(v)
		if err != nil {
			return nil, err
		}
		out[name] = raw
	}
	return out, nil
}

// UpdateSettingsRequest maps setting names to new values.
type UpdateSettingsRequest struct {
	Settings map[string]json.RawMessage `json:"settings"`
}

func (r UpdateSettingsRequest) Validate() map[string]string {
	if len(r.Settings) == 0 {
		return map[string]string{"settings": "At least one setting is required"}
	}
	return nil
}

type UpdateSettingsResponse struct {
	Updated   []string `json:"updated"`
	Unchanged []string `json:"unchanged"`
}

type PasswordPolicyResponse struct {
	settings.PasswordPolicy
	Pattern string `json:"pattern"`
	Message string `json:"message"`
}

type PublicSettingsResponse struct {
	Settings       map[string]json.RawMessage `json:"settings"`
	PasswordPolicy PasswordPolicyResponse     `json:"password_policy"`
}

type TransferOwnershipRequest struct {
	UserID   uuid.UUID `json:"user_id"`
	Password string    `json:"password"`
}

func (r TransferOwnershipRequest) Validate() map[string]string {
	if r.UserID == uuid.Nil {
		return map[string]string{"user_id": "User is required"}
	}
	return nil
}

type SharingRequest struct {
	Mode     string      `json:"mode"`
	Admins   []uuid.UUID `json:"admins"`
	Password string      `json:"password"`
}
