package graph

import (
	"encoding/json"

	"github.com/gin-gonic/gin"

	"github.com/lireddit/lireddit/internal/api/objects"
	"github.com/lireddit/lireddit/internal/session"
	"github.com/lireddit/lireddit/internal/users"
)

// UserResponse is returned by register, login and changePassword
type UserResponse struct {
	Errors []users.FieldError  `json:"errors"`
	User   *objects.UserObject `json:"user"`
}

// UserAPI provides the account queries and mutations
type UserAPI struct {
	users    *users.Service
	sessions *session.Manager
}

// NewUserAPI creates a new user API
func NewUserAPI(userService *users.Service, sessions *session.Manager) *UserAPI {
	return &UserAPI{users: userService, sessions: sessions}
}

// Me handles me
func (a *UserAPI) Me(c *gin.Context, _ json.RawMessage) (interface{}, error) {
	id := viewerID(c)
	user, err := a.users.Me(c.Request.Context(), id)
	if err != nil || user == nil {
		return nil, err
	}
	return objects.NewUser(user, id), nil
}

// User handles user(id)
func (a *UserAPI) User(c *gin.Context, params json.RawMessage) (interface{}, error) {
	var p idParams
	if err := bindParams(params, &p); err != nil {
		return nil, err
	}

	user, err := a.users.Get(c.Request.Context(), p.ID)
	if err != nil || user == nil {
		return nil, err
	}
	return objects.NewUser(user, viewerID(c)), nil
}

type registerParams struct {
	Options users.RegisterInput `json:"options"`
}

// Register handles register(options: {username, email, password})
func (a *UserAPI) Register(c *gin.Context, params json.RawMessage) (interface{}, error) {
	var p registerParams
	if err := bindParams(params, &p); err != nil {
		return nil, err
	}

	res, err := a.users.Register(c.Request.Context(), p.Options)
	if err != nil {
		return nil, err
	}
	return a.respond(c, res), nil
}

type loginParams struct {
	UsernameOrEmail string `json:"usernameOrEmail"`
	Password        string `json:"password"`
}

// Login handles login(usernameOrEmail, password)
func (a *UserAPI) Login(c *gin.Context, params json.RawMessage) (interface{}, error) {
	var p loginParams
	if err := bindParams(params, &p); err != nil {
		return nil, err
	}

	res, err := a.users.Login(c.Request.Context(), p.UsernameOrEmail, p.Password)
	if err != nil {
		return nil, err
	}
	return a.respond(c, res), nil
}

// Logout handles logout
func (a *UserAPI) Logout(c *gin.Context, _ json.RawMessage) (interface{}, error) {
	ok := a.users.Logout(c.Request.Context(), a.sessions.TokenFromRequest(c.Request))
	a.sessions.ClearCookie(c.Writer)
	return ok, nil
}

type forgotPasswordParams struct {
	Email string `json:"email" validate:"required"`
}

// ForgotPassword handles forgotPassword(email)
func (a *UserAPI) ForgotPassword(c *gin.Context, params json.RawMessage) (interface{}, error) {
	var p forgotPasswordParams
	if err := bindParams(params, &p); err != nil {
		return nil, err
	}
	return a.users.ForgotPassword(c.Request.Context(), p.Email)
}

type changePasswordParams struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"newPassword"`
}

// ChangePassword handles changePassword(token, newPassword)
func (a *UserAPI) ChangePassword(c *gin.Context, params json.RawMessage) (interface{}, error) {
	var p changePasswordParams
	if err := bindParams(params, &p); err != nil {
		return nil, err
	}

	res, err := a.users.ChangePassword(c.Request.Context(), p.Token, p.NewPassword)
	if err != nil {
		return nil, err
	}
	return a.respond(c, res), nil
}

// respond sets the session cookie on success and converts the result
func (a *UserAPI) respond(c *gin.Context, res *users.AuthResult) *UserResponse {
	if res.User == nil {
		return &UserResponse{Errors: res.Errors}
	}
	a.sessions.SetCookie(c.Writer, res.SessionToken)
	return &UserResponse{User: objects.NewUser(res.User, res.User.ID)}
}
