package users

import "strings"

// MaxPasswordBytes is the longest password bcrypt can hash
const MaxPasswordBytes = 72

// FieldError is a validation failure attached to one input field
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// RegisterInput holds the registration form
type RegisterInput struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ValidateRegister returns the first problem with in, or nil
func ValidateRegister(in RegisterInput) []FieldError {
	if !strings.Contains(in.Email, "@") {
		return []FieldError{{Field: "email", Message: "invalid email"}}
	}
	if len(in.Username) <= 2 {
		return []FieldError{{Field: "username", Message: "length must be greater than 2"}}
	}
	if strings.Contains(in.Username, "@") {
		return []FieldError{{Field: "username", Message: "cannot include an @"}}
	}
	if errs := validatePassword("password", in.Password); errs != nil {
		return errs
	}
	return nil
}

func validatePassword(field, password string) []FieldError {
	if len(password) <= 3 {
		return []FieldError{{Field: field, Message: "length must be greater than 3"}}
	}
	if len(password) > MaxPasswordBytes {
		return []FieldError{{Field: field, Message: "length must be at most 72 bytes"}}
	}
	return nil
}
