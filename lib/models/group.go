package models

import (
	"time"

	"gorm.io/gorm"
)

type Group struct {
	ID          string `gorm:"primaryKey;size:36"`
	Name        string `gorm:"uniqueIndex;not null"`
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time

	Subscribers []Subscriber `gorm:"many2many:subscriber_groups;"`
}

type Groups []Group

func (g *Group) BeforeCreate(tx *gorm.DB) error {
	if g.ID == "" {
		g.ID = newID()
	}
	return nil
}

func (g *Group) IsDefault() bool {
	return g.Name == DefaultGroupName
}

// GroupWithCount is a group row plus its member count, as listed on the admin pages.
type GroupWithCount struct {
	Group
	MemberCount int64
}
