package graph

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/lireddit/lireddit/internal/db"
	"github.com/lireddit/lireddit/internal/loader"
	"github.com/lireddit/lireddit/internal/session"
)

// ErrNotAuthenticated is returned by methods that need a logged in caller
var ErrNotAuthenticated = errors.New("not authenticated")

// ParamsError wraps a failure to decode or validate method params
type ParamsError struct {
	Err error
}

func (e *ParamsError) Error() string { return e.Err.Error() }

func (e *ParamsError) Unwrap() error { return e.Err }

var validate = validator.New()

// bindParams decodes named params into dst and validates its struct tags.
// Missing params decode as an empty object.
func bindParams(params json.RawMessage, dst interface{}) error {
	trimmed := bytes.TrimSpace(params)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		trimmed = []byte("{}")
	}
	if err := json.Unmarshal(trimmed, dst); err != nil {
		return &ParamsError{Err: err}
	}
	if err := validate.Struct(dst); err != nil {
		return &ParamsError{Err: err}
	}
	return nil
}

func viewerID(c *gin.Context) int64 {
	return session.UserIDFrom(c.Request.Context())
}

func requireAuth(c *gin.Context) (int64, error) {
	id := viewerID(c)
	if id == 0 {
		return 0, ErrNotAuthenticated
	}
	return id, nil
}

// loadersFor returns the request's loaders, or fresh ones when the handler
// runs outside the loader middleware
func loadersFor(c *gin.Context, repo *db.Repository) *loader.Loaders {
	if l := loader.FromContext(c.Request.Context()); l != nil {
		return l
	}
	return loader.NewLoaders(repo)
}
