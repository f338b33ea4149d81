package objects

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/lireddit/lireddit/internal/loader"
	"github.com/lireddit/lireddit/internal/models"
	"github.com/lireddit/lireddit/internal/posts"
)

// PostObject is the API representation of a post
type PostObject struct {
	ID          int64       `json:"id"`
	Title       string      `json:"title"`
	Text        string      `json:"text"`
	TextSnippet string      `json:"textSnippet"`
	Points      int64       `json:"points"`
	CreatorID   int64       `json:"creatorId"`
	Creator     *UserObject `json:"creator"`
	// VoteStatus is the caller's vote, null when logged out or not voted
	VoteStatus *int   `json:"voteStatus"`
	CreatedAt  string `json:"createdAt"`
	UpdatedAt  string `json:"updatedAt"`
}

// PaginatedPosts is one page of the feed
type PaginatedPosts struct {
	Posts   []*PostObject `json:"posts"`
	HasMore bool          `json:"hasMore"`
	Cursor  *string       `json:"cursor"`
}

// UserObject is the API representation of a user
type UserObject struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

// NewUser converts a user. The email is only shown to the user themself.
func NewUser(u *models.User, viewerID int64) *UserObject {
	if u == nil {
		return nil
	}
	obj := &UserObject{
		ID:        u.ID,
		Username:  u.Username,
		CreatedAt: epochMillis(u.CreatedAt),
		UpdatedAt: epochMillis(u.UpdatedAt),
	}
	if viewerID != 0 && viewerID == u.ID {
		obj.Email = u.Email
	}
	return obj
}

// LoadPosts converts posts, resolving every creator and the viewer's vote
// status through the request loaders so a page costs one user query and
// one vote query.
func LoadPosts(ctx context.Context, l *loader.Loaders, rows []models.Post, viewerID int64) ([]*PostObject, error) {
	type pending struct {
		creator loader.Thunk[int64, *models.User]
		vote    *loader.Thunk[loader.VoteKey, int16]
	}

	waits := make([]pending, len(rows))
	for i := range rows {
		waits[i].creator = l.Users.Load(rows[i].CreatorID)
		if viewerID != 0 {
			th := l.Votes.Load(loader.VoteKey{UserID: viewerID, PostID: rows[i].ID})
			waits[i].vote = &th
		}
	}

	if err := l.Dispatch(ctx); err != nil {
		return nil, fmt.Errorf("failed to load post relations: %w", err)
	}

	out := make([]*PostObject, 0, len(rows))
	for i := range rows {
		obj := newPost(&rows[i])

		creator, _, err := waits[i].creator.Get(ctx)
		if err != nil {
			return nil, err
		}
		obj.Creator = NewUser(creator, viewerID)

		if waits[i].vote != nil {
			value, found, err := waits[i].vote.Get(ctx)
			if err != nil {
				return nil, err
			}
			if found {
				v := int(value)
				obj.VoteStatus = &v
			}
		}
		out = append(out, obj)
	}
	return out, nil
}

// LoadPost converts a single post; nil stays nil
func LoadPost(ctx context.Context, l *loader.Loaders, post *models.Post, viewerID int64) (*PostObject, error) {
	if post == nil {
		return nil, nil
	}
	objs, err := LoadPosts(ctx, l, []models.Post{*post}, viewerID)
	if err != nil {
		return nil, err
	}
	return objs[0], nil
}

// NewPaginatedPosts converts a feed page
func NewPaginatedPosts(ctx context.Context, l *loader.Loaders, page *posts.Page, viewerID int64) (*PaginatedPosts, error) {
	objs, err := LoadPosts(ctx, l, page.Posts, viewerID)
	if err != nil {
		return nil, err
	}
	out := &PaginatedPosts{Posts: objs, HasMore: page.HasMore}
	if page.Cursor != "" {
		cursor := page.Cursor
		out.Cursor = &cursor
	}
	return out, nil
}

func newPost(p *models.Post) *PostObject {
	return &PostObject{
		ID:          p.ID,
		Title:       p.Title,
		Text:        p.Text,
		TextSnippet: posts.Snippet(p.Text),
		Points:      p.Points,
		CreatorID:   p.CreatorID,
		CreatedAt:   epochMillis(p.CreatedAt),
		UpdatedAt:   epochMillis(p.UpdatedAt),
	}
}

func epochMillis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}
