package http

import (
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
)

const (
	stateCookie = "oauth_state"
	stateMaxAge = 600
)

// GoogleStart godoc
// @Summary Redirect to Google consent
// @Tags oauth
// @Success 302
// @Router /api/auth/google [get]
func (h *Handler) GoogleStart(c *gin.Context) {
	state := h.Google.MakeState(h.Google.NewState())
	// Lax: the callback arrives as a cross-site top-level navigation.
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(stateCookie, state, stateMaxAge, "/api/auth/google", "", h.Production, true)
	c.Redirect(http.StatusFound, h.Google.AuthURL(state))
}

// GoogleCallback godoc
// @Summary Finish Google sign-in
// @Tags oauth
// @Param code query string true "authorization code"
// @Param state query string true "signed state"
// @Success 302
// @Failure 400 {object} messageResp
// @Router /api/auth/google/callback [get]
func (h *Handler) GoogleCallback(c *gin.Context) {
	state := c.Query("state")
	cookie, _ := c.Cookie(stateCookie)
	if state == "" || state != cookie || !h.Google.VerifyState(state) {
		badRequest(c, "invalid oauth state")
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(stateCookie, "", -1, "/api/auth/google", "", h.Production, true)

	code := c.Query("code")
	if code == "" {
		badRequest(c, "missing authorization code")
		return
	}
	sess, err := h.Auth.ExternalSignIn(c.Request.Context(), code)
	if err != nil {
		fail(c, err, http.StatusBadRequest)
		return
	}
	h.setSessionCookie(c, sess.Token)

	target := h.ClientURL + "/home"
	if h.TokenInRedirect {
		target = h.ClientURL + "/login?token=" + url.QueryEscape(sess.Token)
	}
	c.Redirect(http.StatusFound, target)
}
