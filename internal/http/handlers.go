package http

import (
	"context"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tazhibayda/auth-api/internal/auth"
	"github.com/tazhibayda/auth-api/internal/domain"
	"github.com/tazhibayda/auth-api/internal/security"
)

const (
	cookieName   = "token"
	cookieMaxAge = int(security.SessionTTL / time.Second)
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// GoogleFlow is the browser half of the Google sign-in: state handling and
// the consent URL. The code exchange goes through auth.Service.
type GoogleFlow interface {
	NewState() string
	MakeState(raw string) string
	VerifyState(got string) bool
	AuthURL(state string) string
}

type Handler struct {
	Auth   *auth.Service
	Google GoogleFlow
	Keys   *security.KeyManager
	Store  Pinger

	ClientURL       string
	Production      bool
	TokenInRedirect bool
}

func NewHandler(svc *auth.Service, store Pinger, clientURL string, production bool) *Handler {
	return &Handler{
		Auth:       svc,
		Store:      store,
		ClientURL:  strings.TrimRight(clientURL, "/"),
		Production: production,
	}
}

type registerResp struct {
	Message string `json:"message"`
}

// Register godoc
// @Summary Register a local account
// @Tags auth
// @Accept json,mpfd
// @Produce json
// @Param payload body auth.RegisterInput true "register"
// @Success 201 {object} messageResp
// @Failure 400 {object} messageResp
// @Router /api/auth/register [post]
func (h *Handler) Register(c *gin.Context) {
	var in auth.RegisterInput
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		var (
			file multipart.File
			err  error
		)
		in, file, err = bindRegisterForm(c)
		if err != nil {
			badRequest(c, "invalid form")
			return
		}
		if file != nil {
			defer file.Close()
		}
	} else if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "invalid json")
		return
	}

	if _, err := h.Auth.Register(c.Request.Context(), in); err != nil {
		fail(c, err, http.StatusBadRequest)
		return
	}
	c.JSON(http.StatusCreated, registerResp{
		Message: "Registration successful. Please check your email to verify your account.",
	})
}

func bindRegisterForm(c *gin.Context) (auth.RegisterInput, multipart.File, error) {
	in := auth.RegisterInput{
		Name:            c.PostForm("name"),
		Lastname:        c.PostForm("lastname"),
		Email:           c.PostForm("email"),
		Password:        c.PostForm("password"),
		ConfirmPassword: c.PostForm("confirmPassword"),
	}
	fh, err := c.FormFile("image")
	if err == http.ErrMissingFile {
		return in, nil, nil
	}
	if err != nil {
		return in, nil, err
	}
	f, err := fh.Open()
	if err != nil {
		return in, nil, err
	}
	in.Image = &auth.Upload{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        fh.Size,
		Body:        f,
	}
	return in, f, nil
}

// VerifyEmail godoc
// @Summary Confirm an email address
// @Tags auth
// @Produce json
// @Param token path string true "verification token"
// @Success 200 {object} messageResp
// @Failure 400 {object} messageResp
// @Router /api/auth/verify/{token} [get]
func (h *Handler) VerifyEmail(c *gin.Context) {
	if err := h.Auth.VerifyEmail(c.Request.Context(), c.Param("token")); err != nil {
		fail(c, err, http.StatusBadRequest)
		return
	}
	c.JSON(http.StatusOK, messageResp{Message: "Email verified successfully"})
}

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResp struct {
	Message string         `json:"message"`
	User    domain.Summary `json:"user"`
	Token   string         `json:"token"`
}

// Login godoc
// @Summary Sign in with email and password
// @Tags auth
// @Accept json
// @Produce json
// @Param payload body loginReq true "login"
// @Success 200 {object} loginResp
// @Failure 400 {object} messageResp
// @Failure 401 {object} messageResp
// @Router /api/auth/login [post]
func (h *Handler) Login(c *gin.Context) {
	var in loginReq
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "invalid json")
		return
	}
	sess, err := h.Auth.Login(c.Request.Context(), in.Email, in.Password)
	if err != nil {
		fail(c, err, http.StatusBadRequest)
		return
	}
	h.setSessionCookie(c, sess.Token)
	c.JSON(http.StatusOK, loginResp{
		Message: "Login successful",
		User:    sess.Account.Summary(),
		Token:   sess.Token,
	})
}

func (h *Handler) setSessionCookie(c *gin.Context, token string) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(cookieName, token, cookieMaxAge, "/", "", h.Production, true)
}

type emailReq struct {
	Email string `json:"email"`
}

// RequestPasswordReset godoc
// @Summary Email a password reset link
// @Tags auth
// @Accept json
// @Produce json
// @Param payload body emailReq true "email"
// @Success 200 {object} messageResp
// @Failure 404 {object} messageResp
// @Router /api/auth/password-reset-request [post]
func (h *Handler) RequestPasswordReset(c *gin.Context) {
	var in emailReq
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "invalid json")
		return
	}
	if err := h.Auth.RequestPasswordReset(c.Request.Context(), in.Email); err != nil {
		fail(c, err, http.StatusNotFound)
		return
	}
	c.JSON(http.StatusOK, messageResp{Message: "Password reset email sent"})
}

type resetReq struct {
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

// ResetPassword godoc
// @Summary Set a new password with a reset token
// @Tags auth
// @Accept json
// @Produce json
// @Param token path string true "reset token"
// @Param payload body resetReq true "new password"
// @Success 200 {object} messageResp
// @Failure 400 {object} messageResp
// @Router /api/auth/reset-password/{token} [post]
func (h *Handler) ResetPassword(c *gin.Context) {
	var in resetReq
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "invalid json")
		return
	}
	err := h.Auth.ResetPassword(c.Request.Context(), c.Param("token"), in.Password, in.ConfirmPassword)
	if err != nil {
		fail(c, err, http.StatusBadRequest)
		return
	}
	c.JSON(http.StatusOK, messageResp{Message: "Password has been reset"})
}

// ResendVerification godoc
// @Summary Send a new verification email
// @Tags auth
// @Accept json
// @Produce json
// @Param payload body emailReq true "email"
// @Success 200 {object} messageResp
// @Failure 400 {object} messageResp
// @Failure 404 {object} messageResp
// @Router /api/auth/resend-verification [post]
func (h *Handler) ResendVerification(c *gin.Context) {
	var in emailReq
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "invalid json")
		return
	}
	if err := h.Auth.ResendVerification(c.Request.Context(), in.Email); err != nil {
		fail(c, err, http.StatusNotFound)
		return
	}
	c.JSON(http.StatusOK, messageResp{Message: "Verification email resent"})
}

// Me godoc
// @Summary Current account
// @Tags auth
// @Security BearerAuth
// @Produce json
// @Success 200 {object} domain.Account
// @Failure 401 {object} messageResp
// @Router /api/auth/me [get]
func (h *Handler) Me(c *gin.Context) {
	c.JSON(http.StatusOK, currentAccount(c))
}

// Admin godoc
// @Summary Admin-only probe
// @Tags auth
// @Security BearerAuth
// @Produce json
// @Success 200 {object} messageResp
// @Failure 403 {object} messageResp
// @Router /api/auth/admin [get]
func (h *Handler) Admin(c *gin.Context) {
	c.JSON(http.StatusOK, messageResp{Message: "Welcome, " + currentAccount(c).DisplayName})
}

// Logout godoc
// @Summary Clear the session cookie
// @Tags auth
// @Produce json
// @Success 200 {object} messageResp
// @Router /api/auth/logout [post]
func (h *Handler) Logout(c *gin.Context) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(cookieName, "", -1, "/", "", h.Production, true)
	c.JSON(http.StatusOK, messageResp{Message: "Logged out"})
}

func (h *Handler) Healthz(c *gin.Context) {
	if err := h.Store.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) JWKS(c *gin.Context) {
	c.JSON(http.StatusOK, h.Keys.JWKS())
}
