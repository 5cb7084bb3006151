package models

import "time"

type File struct {
	Base
	Audit
	Key          string    `gorm:"uniqueIndex;not null" json:"key"`
	URL          string    `json:"url"`
	URLExpiresAt time.Time `json:"url_expires_at"`
	MimeType     string    `json:"mime_type"`
	Size         int64     `json:"size"`
	OriginalName string    `json:"original_name"`
	CustomName   string    `json:"custom_name,omitempty"`
}

func (File) TableName() string {
	return "files"
}
