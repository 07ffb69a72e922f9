package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/fracture-records/internal/middleware"
	"github.com/iliyamo/fracture-records/internal/service"
)

// AuthHandler serves registration, login and password management.
type AuthHandler struct {
	auth         *service.AuthService
	secureCookie bool
}

// NewAuthHandler builds an AuthHandler. secureCookie marks the session
// cookie Secure, which production deployments behind TLS need.
func NewAuthHandler(auth *service.AuthService, secureCookie bool) *AuthHandler {
	return &AuthHandler{auth: auth, secureCookie: secureCookie}
}

type registerReq struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type changePasswordReq struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type forgotPasswordReq struct {
	Email string `json:"email"`
}

type resetPasswordReq struct {
	Token       string `json:"token"`
	ResetToken  string `json:"resetToken"`
	NewPassword string `json:"newPassword"`
	Password    string `json:"password"`
}

func (h *AuthHandler) Register(c echo.Context) error {
	var req registerReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := withTimeout(c)
	defer cancel()
	u, err := h.auth.Register(ctx, req.Name, req.Email, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, echo.Map{"message": "user registered", "user": u})
}

// Login sets the HTTP-only session cookie. The token itself never appears
// in the body.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := withTimeout(c)
	defer cancel()
	u, token, err := h.auth.Login(ctx, req.Email, req.Password)
	if err != nil {
		return err
	}
	c.SetCookie(h.cookie(token, 0))
	return c.JSON(http.StatusOK, echo.Map{"message": "login successful", "user": u})
}

func (h *AuthHandler) Logout(c echo.Context) error {
	c.SetCookie(h.cookie("", -1))
	return message(c, http.StatusOK, "logged out")
}

func (h *AuthHandler) cookie(value string, maxAge int) *http.Cookie {
	ck := &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
	}
	if maxAge < 0 {
		ck.Expires = time.Unix(0, 0)
	}
	return ck
}

// Profile returns the session user.
func (h *AuthHandler) Profile(c echo.Context) error {
	u, err := caller(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, u)
}

func (h *AuthHandler) ChangePassword(c echo.Context) error {
	u, err := caller(c)
	if err != nil {
		return err
	}
	var req changePasswordReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := withTimeout(c)
	defer cancel()
	if err := h.auth.ChangePassword(ctx, u.ID, req.CurrentPassword, req.NewPassword); err != nil {
		return err
	}
	return message(c, http.StatusOK, "password changed")
}

func (h *AuthHandler) ForgotPassword(c echo.Context) error {
	var req forgotPasswordReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := withTimeout(c)
	defer cancel()
	if err := h.auth.ForgotPassword(ctx, req.Email); err != nil {
		return err
	}
	return message(c, http.StatusOK, "password reset email sent")
}

func (h *AuthHandler) ResetPassword(c echo.Context) error {
	var req resetPasswordReq
	if err := bind(c, &req); err != nil {
		return err
	}
	if req.Token == "" {
		req.Token = req.ResetToken
	}
	if req.NewPassword == "" {
		req.NewPassword = req.Password
	}
	ctx, cancel := withTimeout(c)
	defer cancel()
	if err := h.auth.ResetPassword(ctx, req.Token, req.NewPassword); err != nil {
		return err
	}
	return message(c, http.StatusOK, "password has been reset")
}
