package graph

import (
	"encoding/json"

	"github.com/gin-gonic/gin"

	"github.com/lireddit/lireddit/internal/api/objects"
	"github.com/lireddit/lireddit/internal/db"
	"github.com/lireddit/lireddit/internal/loader"
	"github.com/lireddit/lireddit/internal/posts"
	"github.com/lireddit/lireddit/internal/voting"
)

// PostAPI provides the post queries and mutations
type PostAPI struct {
	repo   *db.Repository
	posts  *posts.Service
	voting *voting.Service
}

// NewPostAPI creates a new post API
func NewPostAPI(repo *db.Repository, postService *posts.Service, votingService *voting.Service) *PostAPI {
	return &PostAPI{repo: repo, posts: postService, voting: votingService}
}

type postsParams struct {
	Limit  int    `json:"limit"`
	Cursor string `json:"cursor"`
}

// Posts handles posts(limit, cursor)
func (a *PostAPI) Posts(c *gin.Context, params json.RawMessage) (interface{}, error) {
	var p postsParams
	if err := bindParams(params, &p); err != nil {
		return nil, err
	}

	ctx := c.Request.Context()
	page, err := a.posts.List(ctx, p.Limit, p.Cursor)
	if err != nil {
		return nil, err
	}
	return objects.NewPaginatedPosts(ctx, loadersFor(c, a.repo), page, viewerID(c))
}

type idParams struct {
	ID int64 `json:"id" validate:"required,gt=0"`
}

// Post handles post(id)
func (a *PostAPI) Post(c *gin.Context, params json.RawMessage) (interface{}, error) {
	var p idParams
	if err := bindParams(params, &p); err != nil {
		return nil, err
	}

	ctx := c.Request.Context()
	post, err := a.posts.Get(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	return objects.LoadPost(ctx, loadersFor(c, a.repo), post, viewerID(c))
}

type postInput struct {
	Title string `json:"title" validate:"required,max=300"`
	Text  string `json:"text" validate:"required"`
}

type createPostParams struct {
	Input postInput `json:"input"`
}

// CreatePost handles createPost(input: {title, text})
func (a *PostAPI) CreatePost(c *gin.Context, params json.RawMessage) (interface{}, error) {
	userID, err := requireAuth(c)
	if err != nil {
		return nil, err
	}
	var p createPostParams
	if err := bindParams(params, &p); err != nil {
		return nil, err
	}

	ctx := c.Request.Context()
	post, err := a.posts.Create(ctx, userID, p.Input.Title, p.Input.Text)
	if err != nil {
		return nil, err
	}
	return objects.LoadPost(ctx, loadersFor(c, a.repo), post, userID)
}

type updatePostParams struct {
	ID    int64  `json:"id" validate:"required,gt=0"`
	Title string `json:"title" validate:"required,max=300"`
	Text  string `json:"text" validate:"required"`
}

// UpdatePost handles updatePost(id, title, text). It returns null when the
// post is missing or owned by someone else.
func (a *PostAPI) UpdatePost(c *gin.Context, params json.RawMessage) (interface{}, error) {
	userID, err := requireAuth(c)
	if err != nil {
		return nil, err
	}
	var p updatePostParams
	if err := bindParams(params, &p); err != nil {
		return nil, err
	}

	ctx := c.Request.Context()
	post, err := a.posts.Update(ctx, userID, p.ID, p.Title, p.Text)
	if err != nil {
		return nil, err
	}
	return objects.LoadPost(ctx, loadersFor(c, a.repo), post, userID)
}

// DeletePost handles deletePost(id)
func (a *PostAPI) DeletePost(c *gin.Context, params json.RawMessage) (interface{}, error) {
	userID, err := requireAuth(c)
	if err != nil {
		return nil, err
	}
	var p idParams
	if err := bindParams(params, &p); err != nil {
		return nil, err
	}

	return a.posts.Delete(c.Request.Context(), userID, p.ID)
}

type voteParams struct {
	PostID int64 `json:"postId" validate:"required,gt=0"`
	Value  int   `json:"value" validate:"required,oneof=1 -1"`
}

// Vote handles vote(postId, value)
func (a *PostAPI) Vote(c *gin.Context, params json.RawMessage) (interface{}, error) {
	userID, err := requireAuth(c)
	if err != nil {
		return nil, err
	}
	var p voteParams
	if err := bindParams(params, &p); err != nil {
		return nil, err
	}

	if _, err := a.voting.CastVote(c.Request.Context(), userID, p.PostID, p.Value); err != nil {
		return nil, err
	}
	// later calls in the same batch must see the new vote
	if l := loader.FromContext(c.Request.Context()); l != nil {
		l.Votes.Clear(loader.VoteKey{UserID: userID, PostID: p.PostID})
	}
	return true, nil
}
