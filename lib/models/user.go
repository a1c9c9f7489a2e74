package models

import (
	"gorm.io/gorm"
)

// User is an authenticated operator. Rows are created the first time an actor dispatches.
type User struct {
	gorm.Model
	Username string `gorm:"unique;not null"`
	Role     string `gorm:"not null"`
}
