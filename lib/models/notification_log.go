package models

import (
	"database/sql"
	"time"

	"gorm.io/gorm"
)

// NotificationLog records one dispatch. SCHEDULED rows carry ScheduledAt, SENT rows SentAt.
type NotificationLog struct {
	ID                     string `gorm:"primaryKey;size:36"`
	Title                  string `gorm:"not null"`
	Message                string `gorm:"not null"`
	URL                    string
	ImageURL               string
	Status                 NotificationStatus `gorm:"index;not null"`
	ScheduledAt            sql.NullTime
	SentAt                 sql.NullTime `gorm:"index"`
	ProviderNotificationID string       `gorm:"index"`
	Recipients             int
	Delivered              int
	Failed                 int
	CreatedByID            uint      `gorm:"index"`
	CreatedAt              time.Time `gorm:"index"`
	UpdatedAt              time.Time

	CreatedBy User
	Groups    []Group `gorm:"many2many:notification_log_groups;"`
}

type NotificationLogs []NotificationLog

func (n *NotificationLog) BeforeCreate(tx *gorm.DB) error {
	if n.ID == "" {
		n.ID = newID()
	}
	return nil
}
