package models

import (
	"database/sql"
	"time"

	"gorm.io/gorm"
)

// Subscriber is one provider player known locally. ExternalID is the merge key.
type Subscriber struct {
	ID         string         `gorm:"primaryKey;size:36"`
	ExternalID string         `gorm:"uniqueIndex;not null"`
	Contact    sql.NullString `gorm:"index"`
	CreatedAt  time.Time
	UpdatedAt  time.Time

	Groups []Group `gorm:"many2many:subscriber_groups;"`
}

type Subscribers []Subscriber

func (s *Subscriber) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = newID()
	}
	return nil
}

func (s *Subscriber) HasContact() bool {
	return s.Contact.Valid && s.Contact.String != ""
}
