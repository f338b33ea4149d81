package models

import (
	"time"

	"gorm.io/gorm"
)

// Post is a text post; Points is the cached sum of its votes
type Post struct {
	ID        int64     `gorm:"primaryKey;autoIncrement;index:posts_created_at_id_idx,priority:2,sort:desc;column:id"`
	Title     string    `gorm:"type:varchar(300);not null;column:title"`
	Text      string    `gorm:"type:text;not null;column:text"`
	Points    int64     `gorm:"not null;default:0;column:points"`
	CreatorID int64     `gorm:"not null;index;column:creator_id"`
	CreatedAt time.Time `gorm:"not null;index:posts_created_at_id_idx,priority:1,sort:desc;column:created_at"`
	UpdatedAt time.Time `gorm:"not null;column:updated_at"`

	// Relationships
	Creator *User `gorm:"foreignKey:CreatorID;references:ID;constraint:OnDelete:CASCADE"`
}

// TableName specifies the table name for Post
func (Post) TableName() string {
	return "posts"
}

// BeforeCreate truncates the creation time to milliseconds so an epoch-ms
// cursor addresses a post exactly.
func (p *Post) BeforeCreate(tx *gorm.DB) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = tx.NowFunc()
	}
	p.CreatedAt = p.CreatedAt.UTC().Truncate(time.Millisecond)
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}
	return nil
}
