package dto

// RegisterRequest is the body of POST /api/auth/register.
type RegisterRequest struct {
	Username    string `json:"username" validate:"required,min=3,max=30"`
	Password    string `json:"password" validate:"required,min=8,max=20"`
	DisplayName string `json:"display_name,omitempty" validate:"max=20"`
	Email       string `json:"email,omitempty" validate:"omitempty,email,max=50"`
}

// LoginRequest is the body of POST /api/auth/login.
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// TokenRequest is the body of POST /api/auth/token: it mints a bearer
// access token for non-browser clients of the already logged-in user.
type TokenRequest struct {
	Name string `json:"name,omitempty" validate:"max=30"`
}
