package models

import "time"

// Vote values
const (
	Upvote   int16 = 1
	Downvote int16 = -1
)

// Vote is one user's vote on one post. The composite primary key keeps at
// most one row per (user, post).
type Vote struct {
	UserID    int64     `gorm:"primaryKey;autoIncrement:false;column:user_id"`
	PostID    int64     `gorm:"primaryKey;autoIncrement:false;index;column:post_id"`
	Value     int16     `gorm:"type:smallint;not null;check:votes_value_check,value IN (-1, 1);column:value"`
	CreatedAt time.Time `gorm:"not null;column:created_at"`
	UpdatedAt time.Time `gorm:"not null;column:updated_at"`

	// Relationships
	User *User `gorm:"foreignKey:UserID;references:ID;constraint:OnDelete:CASCADE"`
	Post *Post `gorm:"foreignKey:PostID;references:ID;constraint:OnDelete:CASCADE"`
}

// TableName specifies the table name for Vote
func (Vote) TableName() string {
	return "votes"
}

// ValidVoteValue reports whether v is an up or down vote
func ValidVoteValue(v int) bool {
	return v == int(Upvote) || v == int(Downvote)
}
