package loader

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/lireddit/lireddit/internal/db"
	"github.com/lireddit/lireddit/internal/models"
)

// VoteKey identifies one user's vote on one post
type VoteKey struct {
	UserID int64
	PostID int64
}

// Loaders holds the request-scoped loaders
type Loaders struct {
	Users *Loader[int64, *models.User]
	Votes *Loader[VoteKey, int16]
}

// NewLoaders creates a fresh set of loaders for one request
func NewLoaders(repo *db.Repository) *Loaders {
	return &Loaders{
		Users: New(userBatch(db.NewUserRepository(repo))),
		Votes: New(voteBatch(db.NewVoteRepository(repo))),
	}
}

// Dispatch flushes every loader concurrently
func (l *Loaders) Dispatch(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return l.Users.Dispatch(ctx) })
	g.Go(func() error { return l.Votes.Dispatch(ctx) })
	return g.Wait()
}

func userBatch(users *db.UserRepository) BatchFunc[int64, *models.User] {
	return func(ctx context.Context, ids []int64) (map[int64]*models.User, error) {
		rows, err := users.GetByIDs(ctx, ids)
		if err != nil {
			return nil, err
		}
		out := make(map[int64]*models.User, len(rows))
		for i := range rows {
			out[rows[i].ID] = &rows[i]
		}
		return out, nil
	}
}

func voteBatch(votes *db.VoteRepository) BatchFunc[VoteKey, int16] {
	return func(ctx context.Context, keys []VoteKey) (map[VoteKey]int16, error) {
		wanted := make(map[VoteKey]bool, len(keys))
		var userIDs, postIDs []int64
		seenUser := make(map[int64]bool)
		seenPost := make(map[int64]bool)
		for _, k := range keys {
			wanted[k] = true
			if !seenUser[k.UserID] {
				seenUser[k.UserID] = true
				userIDs = append(userIDs, k.UserID)
			}
			if !seenPost[k.PostID] {
				seenPost[k.PostID] = true
				postIDs = append(postIDs, k.PostID)
			}
		}

		rows, err := votes.GetByUsersAndPosts(ctx, userIDs, postIDs)
		if err != nil {
			return nil, err
		}
		out := make(map[VoteKey]int16, len(rows))
		for _, v := range rows {
			k := VoteKey{UserID: v.UserID, PostID: v.PostID}
			if wanted[k] {
				out[k] = v.Value
			}
		}
		return out, nil
	}
}

type contextKey struct{}

// WithLoaders attaches loaders to ctx
func WithLoaders(ctx context.Context, l *Loaders) context.Context {
	return context.WithValue(ctx, contextKey{}, l)
}

// FromContext returns the loaders attached to ctx, or nil
func FromContext(ctx context.Context) *Loaders {
	l, _ := ctx.Value(contextKey{}).(*Loaders)
	return l
}
