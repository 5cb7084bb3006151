package models

// SettingDataType tags the shape of Setting.Value.
type SettingDataType string

const (
	DataTypeString    SettingDataType = "string"
	DataTypeNumber    SettingDataType = "number"
	DataTypeBoolean   SettingDataType = "boolean"
	DataTypeDate      SettingDataType = "date"
	DataTypeObjectID  SettingDataType = "object_id"
	DataTypeObjectIDs SettingDataType = "object_id_array"
	DataTypeImage     SettingDataType = "image"
)

// Setting is a named singleton configuration value. Value holds the JSON
// encoding of the variant selected by DataType.
type Setting struct {
	Base
	Audit
	Name     string          `gorm:"uniqueIndex;not null" json:"name"`
	DataType SettingDataType `gorm:"not null" json:"data_type"`
	Value    string          `gorm:"type:text" json:"value"`
}

func (Setting) TableName() string {
	return "settings"
}
