package handlers

import (
	"io"
	"net/http"
	"strings"

	"toeicprep/config"
	"toeicprep/respond"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

const (
	googleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"
	oauthStateCookie  = "oauth_state"
)

func newGoogleOAuth(cfg config.AuthConfig) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
		Scopes:       []string{"openid", "email", "profile"},
		Endpoint:     endpoints.Google,
	}
}

func (h *Handler) GoogleLogin(c *gin.Context) {
	if h.oauth == nil {
		respond.Error(c, http.StatusNotFound, "Google login is not configured")
		return
	}
	state := uuid.NewString()
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(oauthStateCookie, state, 600, "/", "", h.Config.Auth.CookieSecure, true)
	c.Redirect(http.StatusFound, h.oauth.AuthCodeURL(state))
}

func (h *Handler) GoogleCallback(c *gin.Context) {
	if h.oauth == nil {
		respond.Error(c, http.StatusNotFound, "Google login is not configured")
		return
	}

	state, err := c.Cookie(oauthStateCookie)
	if err != nil || state == "" || state != c.Query("state") {
		respond.Error(c, http.StatusBadRequest, "Invalid OAuth state")
		return
	}
	c.SetCookie(oauthStateCookie, "", -1, "/", "", h.Config.Auth.CookieSecure, true)

	code := c.Query("code")
	if code == "" {
		respond.Error(c, http.StatusBadRequest, "Missing authorization code")
		return
	}

	ctx := c.Request.Context()
	token, err := h.oauth.Exchange(ctx, code)
	if err != nil {
		h.Logger.Warn("oauth exchange failed", zap.Error(err))
		respond.Error(c, http.StatusBadGateway, "OAuth provider unavailable")
		return
	}

	resp, err := h.oauth.Client(ctx, token).Get(h.userInfoURL)
	if err != nil {
		h.Logger.Warn("oauth userinfo failed", zap.Error(err))
		respond.Error(c, http.StatusBadGateway, "OAuth provider unavailable")
		return
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil || resp.StatusCode != http.StatusOK {
		h.Logger.Warn("oauth userinfo rejected", zap.Int("status", resp.StatusCode), zap.Error(err))
		respond.Error(c, http.StatusBadGateway, "OAuth provider unavailable")
		return
	}

	info := gjson.ParseBytes(body)
	sub := info.Get("sub").String()
	email := strings.ToLower(info.Get("email").String())
	if sub == "" || email == "" {
		respond.Error(c, http.StatusBadGateway, "OAuth provider returned an incomplete profile")
		return
	}
	if !info.Get("email_verified").Bool() {
		respond.Error(c, http.StatusForbidden, "Google account email is not verified")
		return
	}

	user, err := h.Users.UpsertGoogleUser(ctx, sub, email, info.Get("name").String())
	if err != nil {
		h.serverError(c, "Database error", err)
		return
	}
	if !user.IsActive {
		respond.Error(c, http.StatusForbidden, "Account is disabled")
		return
	}
	if err := h.Users.TouchLogin(ctx, user.ID); err != nil {
		h.Logger.Warn("touch login failed", zap.String("user_id", user.ID), zap.Error(err))
	}

	if _, ok := h.issue(c, user); !ok {
		return
	}
	c.Redirect(http.StatusFound, strings.TrimRight(h.Config.Auth.FrontendURL, "/")+"/auth/callback")
}
