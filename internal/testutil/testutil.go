package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/lireddit/lireddit/internal/db"
	"github.com/lireddit/lireddit/internal/models"
	"github.com/lireddit/lireddit/pkg/config"
)

// SetupTestDB opens a private in-memory sqlite database with the full schema
func SetupTestDB(t *testing.T) *db.DB {
	t.Helper()

	database, err := db.New(&config.DatabaseConfig{URL: "sqlite://:memory:"}, "ERROR")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := database.Migrate(context.Background()); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	return database
}

// CreateTestUser inserts a user with a throwaway password hash
func CreateTestUser(t *testing.T, database *db.DB, username string) *models.User {
	t.Helper()

	user := &models.User{
		Username: username,
		Email:    username + "@example.com",
		Password: "not-a-real-hash",
	}
	if err := database.Create(user).Error; err != nil {
		t.Fatalf("Failed to create user %s: %v", username, err)
	}
	return user
}

// CreateTestPost inserts a post by creatorID created at createdAt (zero means now)
func CreateTestPost(t *testing.T, database *db.DB, creatorID int64, title string, createdAt time.Time) *models.Post {
	t.Helper()

	post := &models.Post{
		Title:     title,
		Text:      "text of " + title,
		CreatorID: creatorID,
		CreatedAt: createdAt,
	}
	if err := database.Create(post).Error; err != nil {
		t.Fatalf("Failed to create post %s: %v", title, err)
	}
	return post
}

// CreateTestVote inserts a vote row directly, bypassing the voting service
func CreateTestVote(t *testing.T, database *db.DB, userID, postID int64, value int16) {
	t.Helper()

	if err := database.Create(&models.Vote{UserID: userID, PostID: postID, Value: value}).Error; err != nil {
		t.Fatalf("Failed to create vote: %v", err)
	}
}

// PostPoints reads the cached score of postID
func PostPoints(t *testing.T, database *db.DB, postID int64) int64 {
	t.Helper()

	var post models.Post
	if err := database.First(&post, postID).Error; err != nil {
		t.Fatalf("Failed to load post %d: %v", postID, err)
	}
	return post.Points
}
