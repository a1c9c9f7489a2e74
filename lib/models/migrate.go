package models

import "gorm.io/gorm"

// AutoMigrate creates or updates every table, join tables included.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&User{}, &Group{}, &Subscriber{}, &NotificationLog{})
}
