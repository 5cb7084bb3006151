package settings

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/go-backoffice/internal/database/models"
)

// Value is the tagged union of setting payloads. The set of variants is
// closed: every implementation lives in this file and Decode is the one
// place that maps a data type tag back to a variant.
type Value interface {
	DataType() models.SettingDataType
	isValue()
}

type StringValue string

type NumberValue float64

type BooleanValue bool

// DateValue is nullable; a nil Time means "unset".
type DateValue struct{ Time *time.Time }

// ObjectIDValue references another record, e.g. the owner user.
type ObjectIDValue struct{ ID *uuid.UUID }

type ObjectIDsValue []uuid.UUID

// ImageValue references a File; nil means no image.
type ImageValue struct{ FileID *uuid.UUID }

func (StringValue) DataType() models.SettingDataType    { return models.DataTypeString }
func (NumberValue) DataType() models.SettingDataType    { return models.DataTypeNumber }
func (BooleanValue) DataType() models.SettingDataType   { return models.DataTypeBoolean }
func (DateValue) DataType() models.SettingDataType      { return models.DataTypeDate }
func (ObjectIDValue) DataType() models.SettingDataType  { return models.DataTypeObjectID }
func (ObjectIDsValue) DataType() models.SettingDataType { return models.DataTypeObjectIDs }
func (ImageValue) DataType() models.SettingDataType     { return models.DataTypeImage }

func (StringValue) isValue()    {}
func (NumberValue) isValue()    {}
func (BooleanValue) isValue()   {}
func (DateValue) isValue()      {}
func (ObjectIDValue) isValue()  {}
func (ObjectIDsValue) isValue() {}
func (ImageValue) isValue()     {}

// Encode returns the JSON form stored in models.Setting.Value.
func Encode(v Value) ([]byte, error) {
	switch v := v.(type) {
	case StringValue:
		return json.Marshal(string(v))
	case NumberValue:
		return json.Marshal(float64(v))
	case BooleanValue:
		return json.Marshal(bool(v))
	case DateValue:
		if v.Time == nil {
			return []byte("null"), nil
		}
		return json.Marshal(v.Time.UTC().Format(time.RFC3339Nano))
	case ObjectIDValue:
		return json.Marshal(v.ID)
	case ObjectIDsValue:
		if v == nil {
			return []byte("[]"), nil
		}
		return json.Marshal([]uuid.UUID(v))
	case ImageValue:
		return json.Marshal(v.FileID)
	default:
		return nil, fmt.Errorf("unsupported setting value %T", v)
	}
}

// Decode parses raw JSON into the variant selected by dataType.
func Decode(dataType models.SettingDataType, raw []byte) (Value, error) {
	switch dataType {
	case models.DataTypeString:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("decoding string: %w", err)
		}
		return StringValue(s), nil
	case models.DataTypeNumber:
		var n float64
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, fmt.Errorf("decoding number: %w", err)
		}
		return NumberValue(n), nil
	case models.DataTypeBoolean:
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, fmt.Errorf("decoding boolean: %w", err)
		}
		return BooleanValue(b), nil
	case models.DataTypeDate:
		var s *string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("decoding date: %w", err)
		}
		if s == nil {
			return DateValue{}, nil
		}
		t, err := time.Parse(time.RFC3339Nano, *s)
		if err != nil {
			return nil, fmt.Errorf("decoding date: %w", err)
		}
		return DateValue{Time: &t}, nil
	case models.DataTypeObjectID:
		var id *uuid.UUID
		if err := json.Unmarshal(raw, &id); err != nil {
			return nil, fmt.Errorf("decoding object id: %w", err)
		}
		return ObjectIDValue{ID: id}, nil
	case models.DataTypeObjectIDs:
		var ids []uuid.UUID
		if err := json.Unmarshal(raw, &ids); err != nil {
			return nil, fmt.Errorf("decoding object ids: %w", err)
		}
		return ObjectIDsValue(ids), nil
	case models.DataTypeImage:
		var id *uuid.UUID
		if err := json.Unmarshal(raw, &id); err != nil {
			return nil, fmt.Errorf("decoding image: %w", err)
		}
		return ImageValue{FileID: id}, nil
	default:
		return nil, fmt.Errorf("unknown data type %q", dataType)
	}
}

// Equal reports whether a and b have the same tag and the same encoding.
func Equal(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.DataType() != b.DataType() {
		return false
	}
	ea, err := Encode(a)
	if err != nil {
		return false
	}
	eb, err := Encode(b)
	if err != nil {
		return false
	}
	return string(ea) == string(eb)
}
