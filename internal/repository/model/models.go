package model

import "time"

type Profile struct {
	UID         string    `gorm:"size:128;primaryKey"`
	Email       *string   `gorm:"size:255;index"`
	DisplayName string    `gorm:"size:255"`
	PhotoURL    string    `gorm:"size:1024"`
	Role        string    `gorm:"size:32"`
	CreatedAt   time.Time `gorm:"not null"`
}

type Credential struct {
	UID          string    `gorm:"size:128;primaryKey"`
	Email        *string   `gorm:"size:255;uniqueIndex:idx_credentials_email,where:email IS NOT NULL"`
	PasswordHash string    `gorm:"size:255"`
	DisplayName  string    `gorm:"size:255"`
	PhotoURL     string    `gorm:"size:1024"`
	Federated    bool      `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}
