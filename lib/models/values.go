package models

import (
	"github.com/google/uuid"
)

const DefaultGroupName = "All Subscribers"

const DefaultGroupDescription = "Default group containing every subscriber"

type NotificationStatus string

const (
	StatusScheduled NotificationStatus = "SCHEDULED"
	StatusSent      NotificationStatus = "SENT"
	StatusFailed    NotificationStatus = "FAILED"
	StatusPending   NotificationStatus = "PENDING"
	StatusCancelled NotificationStatus = "CANCELLED"
)

func (s NotificationStatus) Valid() bool {
	switch s {
	case StatusScheduled, StatusSent, StatusFailed, StatusPending, StatusCancelled:
		return true
	}
	return false
}

func newID() string {
	return uuid.NewString()
}
