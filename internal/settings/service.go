package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/go-backoffice/internal/apperr"
	"github.com/hugh/go-backoffice/internal/database/models"
	"github.com/hugh/go-backoffice/pkg/crypto"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Mask replaces secret values in listings. Writing it back is a no-op.
const Mask = "********"

// FileRemover deletes files superseded by an image setting.
type FileRemover interface {
	Delete(ctx context.Context, id uuid.UUID) error
}

type Service struct {
	db        *gorm.DB
	encryptor *crypto.Encryptor
	files     FileRemover
	logger    *slog.Logger
}

// NewService creates the settings service. encryptor and files may be nil:
// secrets are then stored in plaintext and superseded images are kept.
func NewService(db *gorm.DB, encryptor *crypto.Encryptor, files FileRemover, logger *slog.Logger) *Service {
	return &Service{db: db, encryptor: encryptor, files: files, logger: logger}
}

// Resolved is a setting after default fallback.
type Resolved struct {
	Name        string
	Value       Value
	IsDefault   bool
	Secret      bool
	UpdatedByID *uuid.UUID
	UpdatedAt   *time.Time
}

// Change is a single proposed setting value.
type Change struct {
	Name  string
	Value Value
}

type UpdateResult struct {
	Updated   []string
	Unchanged []string
}

// ParseChange decodes raw JSON for name using the registered data type.
func ParseChange(name string, raw json.RawMessage) (Change, error) {
	def, ok := Lookup(name)
	if !ok {
		return Change{}, apperr.InvalidField(name, "Unknown setting")
	}
	v, err := Decode(def.DataType(), raw)
	if err != nil {
		return Change{}, apperr.InvalidField(name, fmt.Sprintf("Expected a %s value", def.DataType()))
	}
	return Change{Name: name, Value: v}, nil
}

// Get resolves a single setting. It returns nil when the name is neither
// persisted nor registered.
func (s *Service) Get(ctx context.Context, name string) (*Resolved, error) {
	resolved, err := s.GetMany(ctx, name)
	if err != nil {
		return nil, err
	}
	return resolved[0], nil
}

// GetMany resolves names in order; each element falls back independently.
func (s *Service) GetMany(ctx context.Context, names ...string) ([]*Resolved, error) {
	return s.getMany(s.db.WithContext(ctx), names)
}

func (s *Service) getMany(db *gorm.DB, names []string) ([]*Resolved, error) {
	out := make([]*Resolved, len(names))
	if len(names) == 0 {
		return out, nil
	}

	var rows []models.Setting
	if err := db.Where("name IN ?", names).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("loading settings: %w", err)
	}
	byName := make(map[string]*models.Setting, len(rows))
	for i := range rows {
		byName[rows[i].Name] = &rows[i]
	}

	for i, name := range names {
		def, known := Lookup(name)
		if row, ok := byName[name]; ok {
			r, err := s.fromRow(row, def, known)
			if err == nil {
				out[i] = r
				continue
			}
			s.logger.Warn("ignoring unreadable setting", "name", name, "error", err)
		}
		if known {
			out[i] = &Resolved{Name: name, Value: def.Default, IsDefault: true, Secret: def.Secret}
		}
	}
	return out, nil
}

func (s *Service) fromRow(row *models.Setting, def Definition, known bool) (*Resolved, error) {
	if known && row.DataType != def.DataType() {
		return nil, fmt.Errorf("stored as %s, registered as %s", row.DataType, def.DataType())
	}
	v, err := Decode(row.DataType, []byte(row.Value))
	if err != nil {
		return nil, err
	}
	if sv, ok := v.(StringValue); ok && crypto.IsSealed(string(sv)) {
		if s.encryptor == nil {
			return nil, errors.New("sealed value without encryptor")
		}
		plain, err := s.encryptor.Open(string(sv))
		if err != nil {
			return nil, fmt.Errorf("opening sealed value: %w", err)
		}
		v = StringValue(plain)
	}
	updatedAt := row.UpdatedAt
	return &Resolved{
		Name:        row.Name,
		Value:       v,
		Secret:      known && def.Secret,
		UpdatedByID: row.UpdatedByID,
		UpdatedAt:   &updatedAt,
	}, nil
}

// All resolves every registered setting.
func (s *Service) All(ctx context.Context) ([]*Resolved, error) {
	defs := Definitions()
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Name
	}
	return s.GetMany(ctx, names...)
}

// Public resolves the settings exposed to unauthenticated clients.
func (s *Service) Public(ctx context.Context) (map[string]Value, error) {
	var names []string
	for _, d := range Definitions() {
		if d.Public {
			names = append(names, d.Name)
		}
	}
	resolved, err := s.GetMany(ctx, names...)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Value, len(resolved))
	for _, r := range resolved {
		out[r.Name] = r.Value
	}
	return out, nil
}

// Masked returns the value safe for listing.
func (r *Resolved) Masked() Value {
	if sv, ok := r.Value.(StringValue); ok && r.Secret && sv != "" {
		return StringValue(Mask)
	}
	return r.Value
}

// Update applies changes, skipping those equal to the resolved value. Each
// remaining change is upserted on its own: a failed write does not undo the
// others and all write errors are returned joined.
func (s *Service) Update(ctx context.Context, actorID *uuid.UUID, changes []Change) (*UpdateResult, error) {
	invalid := make(map[string]string)
	names := make([]string, 0, len(changes))
	for _, c := range changes {
		def, ok := Lookup(c.Name)
		switch {
		case !ok:
			invalid[c.Name] = "Unknown setting"
		case def.Protected:
			invalid[c.Name] = "Setting cannot be changed here"
		case c.Value == nil || c.Value.DataType() != def.DataType():
			invalid[c.Name] = fmt.Sprintf("Expected a %s value", def.DataType())
		}
		names = append(names, c.Name)
	}
	if len(invalid) > 0 {
		return nil, apperr.InvalidInput(invalid)
	}

	current, err := s.GetMany(ctx, names...)
	if err != nil {
		return nil, err
	}

	result := &UpdateResult{}
	var errs []error
	for i, c := range changes {
		prev := current[i]
		if unchanged(prev, c.Value) {
			result.Unchanged = append(result.Unchanged, c.Name)
			continue
		}
		if err := s.upsert(s.db.WithContext(ctx), c.Name, c.Value, actorID); err != nil {
			errs = append(errs, fmt.Errorf("updating %s: %w", c.Name, err))
			continue
		}
		result.Updated = append(result.Updated, c.Name)
		s.releaseImage(ctx, prev, c.Value)
	}

	if len(result.Updated) > 0 {
		s.logger.Info("settings updated", "names", result.Updated, "actor_id", actorID)
	}
	return result, errors.Join(errs...)
}

func unchanged(prev *Resolved, next Value) bool {
	if prev == nil {
		return false
	}
	if sv, ok := next.(StringValue); ok && prev.Secret && sv == Mask {
		return true
	}
	return Equal(prev.Value, next)
}

// releaseImage deletes the file an image setting pointed at before it was
// replaced.
func (s *Service) releaseImage(ctx context.Context, prev *Resolved, next Value) {
	if s.files == nil || prev == nil {
		return
	}
	old, ok := prev.Value.(ImageValue)
	if !ok || old.FileID == nil {
		return
	}
	if nv, ok := next.(ImageValue); ok && nv.FileID != nil && *nv.FileID == *old.FileID {
		return
	}
	if err := s.files.Delete(ctx, *old.FileID); err != nil {
		s.logger.Warn("failed to delete superseded image", "setting", prev.Name, "file_id", *old.FileID, "error", err)
	}
}

// SetImage points an image setting at an uploaded file.
func (s *Service) SetImage(ctx context.Context, actorID *uuid.UUID, name string, fileID uuid.UUID) error {
	def, ok := Lookup(name)
	if !ok || def.DataType() != models.DataTypeImage {
		return apperr.InvalidField(name, "Not an image setting")
	}
	_, err := s.Update(ctx, actorID, []Change{{Name: name, Value: ImageValue{FileID: &fileID}}})
	return err
}

// upsert writes a single setting row, replacing value and type if present.
func (s *Service) upsert(db *gorm.DB, name string, v Value, actorID *uuid.UUID) error {
	if def, ok := Lookup(name); ok && def.Secret && s.encryptor != nil {
		if sv, ok := v.(StringValue); ok && sv != "" {
			sealed, err := s.encryptor.Seal(string(sv))
			if err != nil {
				return fmt.Errorf("sealing value: %w", err)
			}
			v = StringValue(sealed)
		}
	}

	encoded, err := Encode(v)
	if err != nil {
		return err
	}

	row := models.Setting{
		Audit:    models.Audit{CreatedByID: actorID, UpdatedByID: actorID},
		Name:     name,
		DataType: v.DataType(),
		Value:    string(encoded),
	}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"data_type", "value", "updated_by_id", "updated_at"}),
	}).Create(&row).Error
}

// AssignOwner records ownerID as the owner pointer inside tx. Used by the
// first sign-up and by ownership transfer.
func (s *Service) AssignOwner(tx *gorm.DB, ownerID uuid.UUID, actorID *uuid.UUID) error {
	return s.upsert(tx, Owner, ObjectIDValue{ID: &ownerID}, actorID)
}

func (s *Service) Bool(ctx context.Context, name string) (bool, error) {
	r, err := s.Get(ctx, name)
	if err != nil {
		return false, err
	}
	if r == nil {
		return false, apperr.NotFound("Setting")
	}
	v, ok := r.Value.(BooleanValue)
	if !ok {
		return false, fmt.Errorf("setting %s is %s, not boolean", name, r.Value.DataType())
	}
	return bool(v), nil
}

func (s *Service) String(ctx context.Context, name string) (string, error) {
	r, err := s.Get(ctx, name)
	if err != nil {
		return "", err
	}
	if r == nil {
		return "", apperr.NotFound("Setting")
	}
	v, ok := r.Value.(StringValue)
	if !ok {
		return "", fmt.Errorf("setting %s is %s, not string", name, r.Value.DataType())
	}
	return string(v), nil
}

// OwnerID returns the owner pointer, or nil before the first sign-up.
func (s *Service) OwnerID(ctx context.Context) (*uuid.UUID, error) {
	r, err := s.Get(ctx, Owner)
	if err != nil {
		return nil, err
	}
	v, ok := r.Value.(ObjectIDValue)
	if !ok {
		return nil, nil
	}
	return v.ID, nil
}
