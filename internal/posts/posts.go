package posts

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/lireddit/lireddit/internal/db"
	"github.com/lireddit/lireddit/internal/models"
	"github.com/lireddit/lireddit/pkg/telemetry"
)

const (
	// MaxPageSize caps the number of posts returned per page
	MaxPageSize = 50
	// SnippetLength is the number of characters kept by Snippet
	SnippetLength = 50
)

// ErrUnauthorized is returned when a mutation is attempted without a caller identity
var ErrUnauthorized = errors.New("not authenticated")

// Page is one page of the newest-first feed
type Page struct {
	Posts   []models.Post
	HasMore bool
	// Cursor continues after the last post; empty when Posts is empty
	Cursor string
}

// Service implements post CRUD and the feed
type Service struct {
	posts  *db.PostRepository
	logger *zap.Logger
}

// NewService creates a post service
func NewService(repo *db.Repository, logger *zap.Logger) *Service {
	return &Service{
		posts:  db.NewPostRepository(repo),
		logger: logger,
	}
}

// Get returns post id, or nil if it does not exist
func (s *Service) Get(ctx context.Context, id int64) (*models.Post, error) {
	return s.posts.GetByID(ctx, id)
}

// Create stores a new post owned by userID. Title and text are plain text
// and are stored as given.
func (s *Service) Create(ctx context.Context, userID int64, title, text string) (*models.Post, error) {
	if userID == 0 {
		return nil, ErrUnauthorized
	}

	post := &models.Post{
		Title:     title,
		Text:      text,
		CreatorID: userID,
	}
	if err := s.posts.Create(ctx, post); err != nil {
		return nil, fmt.Errorf("failed to create post: %w", err)
	}

	s.logger.Debug("Post created", zap.Int64("post_id", post.ID), zap.Int64("creator_id", userID))
	return post, nil
}

// Update changes title and text of a post owned by userID. It returns nil
// when the post does not exist or belongs to someone else.
func (s *Service) Update(ctx context.Context, userID, id int64, title, text string) (*models.Post, error) {
	if userID == 0 {
		return nil, ErrUnauthorized
	}

	n, err := s.posts.UpdateOwned(ctx, id, userID, title, text)
	if err != nil {
		return nil, fmt.Errorf("failed to update post: %w", err)
	}
	if n == 0 {
		return nil, nil
	}
	return s.posts.GetByID(ctx, id)
}

// Delete removes a post owned by userID along with its votes. It reports
// whether a post was deleted.
func (s *Service) Delete(ctx context.Context, userID, id int64) (bool, error) {
	if userID == 0 {
		return false, ErrUnauthorized
	}

	n, err := s.posts.DeleteOwned(ctx, id, userID)
	if err != nil {
		return false, fmt.Errorf("failed to delete post: %w", err)
	}
	return n > 0, nil
}

// List returns up to limit posts, newest first, strictly older than cursor.
// An empty cursor starts at the newest post.
func (s *Service) List(ctx context.Context, limit int, cursor string) (*Page, error) {
	ctx, span := telemetry.StartSpan(ctx, "posts.List")
	defer span.End()

	limit = ClampLimit(limit)
	span.SetAttributes(attribute.Int("limit", limit), attribute.String("cursor", cursor))

	var c *Cursor
	if cursor != "" {
		var err error
		if c, err = DecodeCursor(cursor); err != nil {
			return nil, err
		}
	}

	var (
		rows []models.Post
		err  error
	)
	if c == nil {
		rows, err = s.posts.ListNewest(ctx, nil, 0, limit+1)
	} else {
		rows, err = s.posts.ListNewest(ctx, &c.CreatedAt, c.ID, limit+1)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}

	page := &Page{Posts: rows, HasMore: len(rows) == limit+1}
	if page.HasMore {
		page.Posts = rows[:limit]
	}
	if n := len(page.Posts); n > 0 {
		last := page.Posts[n-1]
		page.Cursor = EncodeCursor(last.CreatedAt, last.ID)
	}
	return page, nil
}

// ClampLimit bounds a requested page size to [1, MaxPageSize]
func ClampLimit(limit int) int {
	if limit < 1 {
		return 1
	}
	if limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}

// Snippet returns the first SnippetLength characters of text
func Snippet(text string) string {
	runes := []rune(text)
	if len(runes) <= SnippetLength {
		return text
	}
	return string(runes[:SnippetLength])
}
