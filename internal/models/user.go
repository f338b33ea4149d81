package models

import "time"

// User is a registered account
type User struct {
	ID        int64     `gorm:"primaryKey;autoIncrement;column:id"`
	Username  string    `gorm:"type:varchar(255);not null;uniqueIndex:users_username_key;column:username"`
	Email     string    `gorm:"type:varchar(255);not null;uniqueIndex:users_email_key;column:email"`
	Password  string    `gorm:"type:varchar(255);not null;column:password"`
	CreatedAt time.Time `gorm:"not null;column:created_at"`
	UpdatedAt time.Time `gorm:"not null;column:updated_at"`
}

// TableName specifies the table name for User
func (User) TableName() string {
	return "users"
}
