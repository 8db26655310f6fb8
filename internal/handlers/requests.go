package handlers

import (
	"github.com/go-playground/validator/v10"
)

// CustomValidator wraps the go-playground/validator library to implement Echo's Validator interface.
type CustomValidator struct {
	validator *validator.Validate
}

// NewValidator creates a new CustomValidator.
func NewValidator() *CustomValidator {
	return &CustomValidator{validator: validator.New()}
}

// Validate implements the echo.Validator interface.
func (cv *CustomValidator) Validate(i interface{}) error {
	return cv.validator.Struct(i)
}

// RegisterRequest is the DTO for account creation.
type RegisterRequest struct {
	Nickname string `json:"nickname" form:"nickname" validate:"required,min=2,max=32"`
	Email    string `json:"email" form:"email" validate:"required,email"`
	Password string `json:"password" form:"password" validate:"required,min=8,max=128"`
}

// LoginRequest is the DTO for session issuance.
type LoginRequest struct {
	Email    string `json:"email" form:"email" validate:"required,email"`
	Password string `json:"password" form:"password" validate:"required"`
}

// PostMessageRequest is the DTO for the message-post endpoint.
type PostMessageRequest struct {
	Content string `json:"content" form:"content" validate:"required,max=2000"`
	Type    string `json:"type" form:"type" validate:"omitempty,oneof=chat emote"`
	Style   string `json:"style" form:"style" validate:"omitempty,max=200"`
}

// StatusRequest is the DTO for an explicit presence status change.
type StatusRequest struct {
	Status string `json:"status" form:"status" validate:"required,oneof=online away busy offline"`
}
