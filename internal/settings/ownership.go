package settings

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hugh/go-backoffice/internal/apperr"
	"github.com/hugh/go-backoffice/internal/database/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PasswordConfirmer re-authenticates a user before a sensitive change.
type PasswordConfirmer interface {
	ConfirmPassword(ctx context.Context, user *models.User, password string) error
}

// Ownership guards the owner pointer and the settings sharing configuration.
type Ownership struct {
	settings *Service
	confirm  PasswordConfirmer
}

func NewOwnership(settings *Service, confirm PasswordConfirmer) *Ownership {
	return &Ownership{settings: settings, confirm: confirm}
}

// Sharing is the resolved "share settings with admins" configuration.
type Sharing struct {
	Mode   string      `json:"mode"`
	Admins []uuid.UUID `json:"admins"`
}

func (o *Ownership) Sharing(ctx context.Context) (*Sharing, error) {
	resolved, err := o.settings.GetMany(ctx, ShareSettingsMode, ShareSettingsAdmins)
	if err != nil {
		return nil, err
	}
	sh := &Sharing{Mode: ShareNone, Admins: []uuid.UUID{}}
	if v, ok := resolved[0].Value.(StringValue); ok {
		sh.Mode = string(v)
	}
	if v, ok := resolved[1].Value.(ObjectIDsValue); ok && v != nil {
		sh.Admins = []uuid.UUID(v)
	}
	return sh, nil
}

// CanManage reports whether user may read and change settings.
func (o *Ownership) CanManage(ctx context.Context, user *models.User) (bool, error) {
	switch user.Role {
	case models.RoleOwner:
		return true, nil
	case models.RoleAdmin:
	default:
		return false, nil
	}

	sh, err := o.Sharing(ctx)
	if err != nil {
		return false, err
	}
	switch sh.Mode {
	case ShareAll:
		return true, nil
	case ShareList:
		for _, id := range sh.Admins {
			if id == user.ID {
				return true, nil
			}
		}
	}
	return false, nil
}

// TransferOwnership hands the owner role to targetID after confirming the
// current owner's password. The owner pointer row is locked and both roles
// are rewritten in the same transaction, so there is always one owner.
func (o *Ownership) TransferOwnership(ctx context.Context, actor *models.User, password string, targetID uuid.UUID) error {
	if actor.Role != models.RoleOwner {
		return apperr.Forbidden("Only the owner can transfer ownership")
	}
	if targetID == actor.ID {
		return apperr.InvalidField("user_id", "You already own this workspace")
	}
	if err := o.confirm.ConfirmPassword(ctx, actor, password); err != nil {
		return err
	}

	err := o.settings.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var pointer models.Setting
		q := tx
		if tx.Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		err := q.Where("name = ?", Owner).First(&pointer).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
		case err != nil:
			return fmt.Errorf("locking owner setting: %w", err)
		default:
			v, err := Decode(pointer.DataType, []byte(pointer.Value))
			if err != nil {
				return fmt.Errorf("decoding owner setting: %w", err)
			}
			if id, ok := v.(ObjectIDValue); ok && id.ID != nil && *id.ID != actor.ID {
				return apperr.Forbidden("Ownership changed concurrently")
			}
		}

		var target models.User
		if err := tx.First(&target, "id = ?", targetID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.ErrUserNotFound
			}
			return fmt.Errorf("loading target user: %w", err)
		}
		if target.IsDisabled {
			return apperr.ErrAccountDisabled
		}

		if err := tx.Model(&models.User{}).Where("id = ?", target.ID).
			Updates(map[string]interface{}{"role": models.RoleOwner, "updated_by_id": actor.ID}).Error; err != nil {
			return fmt.Errorf("promoting new owner: %w", err)
		}
		if err := tx.Model(&models.User{}).Where("id = ?", actor.ID).
			Updates(map[string]interface{}{"role": models.RoleAdmin, "updated_by_id": actor.ID}).Error; err != nil {
			return fmt.Errorf("demoting previous owner: %w", err)
		}
		return o.settings.AssignOwner(tx, target.ID, &actor.ID)
	})
	if err != nil {
		return err
	}

	actor.Role = models.RoleAdmin
	o.settings.logger.Info("ownership transferred", "from", actor.ID, "to", targetID)
	return nil
}

// UpdateSharing changes who besides the owner may manage settings. Every
// listed id must belong to an admin.
func (o *Ownership) UpdateSharing(ctx context.Context, actor *models.User, password string, sh Sharing) error {
	if actor.Role != models.RoleOwner {
		return apperr.Forbidden("Only the owner can change settings sharing")
	}
	switch sh.Mode {
	case ShareNone, ShareAll, ShareList:
	default:
		return apperr.InvalidField("mode", "Mode must be one of none, all, list")
	}
	if err := o.confirm.ConfirmPassword(ctx, actor, password); err != nil {
		return err
	}

	admins := sh.Admins
	if admins == nil {
		admins = []uuid.UUID{}
	}
	if len(admins) > 0 {
		var count int64
		if err := o.settings.db.WithContext(ctx).Model(&models.User{}).
			Where("id IN ? AND role = ?", admins, models.RoleAdmin).
			Count(&count).Error; err != nil {
			return fmt.Errorf("checking admins: %w", err)
		}
		if int(count) != len(dedupe(admins)) {
			return apperr.InvalidField("admins", "Every listed user must be an admin")
		}
	}

	return o.settings.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := o.settings.upsert(tx, ShareSettingsMode, StringValue(sh.Mode), &actor.ID); err != nil {
			return fmt.Errorf("updating sharing mode: %w", err)
		}
		if err := o.settings.upsert(tx, ShareSettingsAdmins, ObjectIDsValue(dedupe(admins)), &actor.ID); err != nil {
			return fmt.Errorf("updating sharing admins: %w", err)
		}
		return nil
	})
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
