package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/rs/xid"

	"github.com/sakif/mentor-app/internal/apperror"
	"github.com/sakif/mentor-app/internal/auth"
	"github.com/sakif/mentor-app/internal/service"
)

const stateCookie = "oauth_state"

// GitHubOAuth is the part of *auth.GitHubProvider the callback needs.
type GitHubOAuth interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*auth.GitHubUser, error)
}

// AuthHandler serves sign-up, sign-in (password and GitHub), logout and /api/me.
type AuthHandler struct {
	auth   *service.AuthService
	github GitHubOAuth // nil when GitHub sign-in isn't configured
	tokens *auth.TokenService
	logger *slog.Logger
}

func NewAuthHandler(
	authService *service.AuthService,
	github GitHubOAuth,
	tokens *auth.TokenService,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		auth:   authService,
		github: github,
		tokens: tokens,
		logger: logger,
	}
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandleRegister creates a password account.
//
// HTTP: POST /api/auth/register
// BODY: {"username": "...", "email": "...", "password": "..."}
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.auth.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		h.fail(w, "register", err)
		return
	}
	h.respondWithToken(w, http.StatusCreated, result)
}

// HandleLogin signs in with email and password.
//
// HTTP: POST /api/auth/login
// BODY: {"email": "...", "password": "..."}
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(w, "login", err)
		return
	}
	h.respondWithToken(w, http.StatusOK, result)
}

// respondWithToken returns the token in the body for API clients and also
// sets it as the HttpOnly cookie for browsers.
func (h *AuthHandler) respondWithToken(w http.ResponseWriter, status int, result *service.AuthResult) {
	h.setTokenCookie(w, result.Token)
	writeJSON(w, status, envelope{
		"success": true,
		"token":   result.Token,
		"user":    result.User,
	})
}

// HandleGitHubLogin redirects to GitHub's consent page.
//
// HTTP: GET /auth/github/login
//
// The random state goes into a short-lived cookie and is checked on the
// callback, which proves the callback belongs to a login this server started.
func (h *AuthHandler) HandleGitHubLogin(w http.ResponseWriter, r *http.Request) {
	state := xid.New().String()

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, h.github.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleGitHubCallback completes the GitHub login and redirects to the app.
//
// HTTP: GET /auth/github/callback?code=xxx&state=yyy
func (h *AuthHandler) HandleGitHubCallback(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(stateCookie)
	if err != nil || cookie.Value == "" || r.URL.Query().Get("state") != cookie.Value {
		h.logger.Warn("auth callback: state mismatch")
		writeError(w, apperror.ValidationFailed("state", "invalid OAuth state"))
		return
	}

	// Single use.
	http.SetCookie(w, &http.Cookie{Name: stateCookie, Value: "", Path: "/", MaxAge: -1})

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.logger.Info("auth callback: user denied authorization", slog.String("error", errParam))
		http.Redirect(w, r, "/?auth=denied", http.StatusSeeOther)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, apperror.ValidationFailed("code", "missing OAuth code"))
		return
	}

	ghUser, err := h.github.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("auth callback: GitHub exchange failed", slog.String("error", err.Error()))
		writeError(w, apperror.Unauthorized("GitHub authentication failed"))
		return
	}

	result, err := h.auth.LoginOrRegisterGitHub(r.Context(), ghUser)
	if err != nil {
		h.fail(w, "github callback", err)
		return
	}

	h.setTokenCookie(w, result.Token)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// HandleLogout deletes the token cookie.
//
// HTTP: POST /auth/logout
//
// Tokens are stateless, so one that was copied elsewhere stays valid until
// it expires.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeData(w, http.StatusOK, nil, envelope{"message": "logged out"})
}

// HandleMe returns the signed-in user.
//
// HTTP: GET /api/me (RequireAuth)
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	user, err := h.auth.GetUserByID(r.Context(), userID)
	if err != nil {
		h.fail(w, "me", err)
		return
	}
	writeData(w, http.StatusOK, user, nil)
}

func (h *AuthHandler) setTokenCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.tokens.TTL().Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// fail logs unexpected errors before writing the response. Domain errors
// (bad input, wrong password) are normal traffic and aren't logged.
func (h *AuthHandler) fail(w http.ResponseWriter, op string, err error) {
	logUnexpected(h.logger, op, err)
	writeError(w, err)
}
