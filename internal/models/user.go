package models

import "time"

// User represents a customer account stored in the database.
type User struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Username string `gorm:"type:text;not null;uniqueIndex"` // Unique login name.
	Email    string `gorm:"type:text"`                      // Optional contact email.
	Phone    string `gorm:"type:text"`                      // Optional phone for code delivery.
	Password string `gorm:"type:text;not null"`             // Hashed password.

	Disabled bool `gorm:"not null;default:false"` // Blocks sign-in and card operations.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
