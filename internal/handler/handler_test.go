package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/sakif/mentor-app/internal/auth"
	"github.com/sakif/mentor-app/internal/model"
	"github.com/sakif/mentor-app/internal/repository/sqlite"
	"github.com/sakif/mentor-app/internal/service"
)

// testEnv runs the real services on an in-memory database behind a router
// laid out like the production one.
type testEnv struct {
	db     *sqlite.DB
	tokens *auth.TokenService
	github *fakeGitHub
	router http.Handler
}

// fakeGitHub stands in for the OAuth provider.
type fakeGitHub struct {
	user *auth.GitHubUser
	err  error
}

func (f *fakeGitHub) AuthURL(state string) string {
	return "https://github.example/authorize?state=" + state
}

func (f *fakeGitHub) Exchange(_ context.Context, code string) (*auth.GitHubUser, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.user, nil
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tokens, err := auth.NewTokenService("handler-test-secret-32-chars!!!!", time.Hour)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	authSvc := service.NewAuthService(db, tokens, auth.NewPasswordServiceForTest(bcrypt.MinCost), logger)
	gameSvc := service.NewGamificationService(db, logger)

	gh := &fakeGitHub{}
	ah := NewAuthHandler(authSvc, gh, tokens, logger)
	gm := NewGamificationHandler(gameSvc, logger)
	hh := NewHealthHandler(db, logger)

	r := chi.NewRouter()
	r.Get("/auth/github/login", ah.HandleGitHubLogin)
	r.Get("/auth/github/callback", ah.HandleGitHubCallback)
	r.Post("/auth/logout", ah.HandleLogout)
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", hh.HandleHealth)
		r.Post("/auth/register", ah.HandleRegister)
		r.Post("/auth/login", ah.HandleLogin)
		r.Get("/gamification/leaderboard", gm.HandleLeaderboard)
		r.Get("/gamification/badges", gm.HandleBadges)
		r.Get("/gamification/achievements", gm.HandleAchievements)
		r.Get("/gamification/levels", gm.HandleLevels)
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(tokens))
			r.Get("/me", ah.HandleMe)
			r.Get("/gamification/profile", gm.HandleProfile)
			r.Put("/gamification/achievements/{id}/progress", gm.HandleUpdateProgress)
			r.Post("/gamification/badges/{id}/award", gm.HandleAwardBadge)
		})
	})

	return &testEnv{db: db, tokens: tokens, github: gh, router: r}
}

// do sends a request with an optional JSON body and bearer token.
func (e *testEnv) do(t *testing.T, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

// newUser creates a user directly in the database and returns it with a token.
func (e *testEnv) newUser(t *testing.T, username string, role model.Role) (*model.User, string) {
	t.Helper()
	ctx := context.Background()
	u := &model.User{Username: username, Email: username + "@example.com"}
	require.NoError(t, e.db.CreateUser(ctx, u))
	if role != model.RoleStudent {
		require.NoError(t, e.db.SetUserRole(ctx, u.Email, role))
		u.Role = role
	}
	token, err := e.tokens.Generate(u.ID)
	require.NoError(t, err)
	return u, token
}

// seedCatalog loads a three-level ladder, one badge and two achievements.
func (e *testEnv) seedCatalog(t *testing.T) (badge *model.Badge, withBadge, plain *model.Achievement) {
	t.Helper()
	ctx := context.Background()
	for _, l := range []model.Level{
		{Level: 1, XPRequired: 0, Title: "Newcomer"},
		{Level: 2, XPRequired: 100, Title: "Learner"},
		{Level: 3, XPRequired: 300, Title: "Contributor"},
	} {
		require.NoError(t, e.db.UpsertLevel(ctx, &l))
	}

	badge = &model.Badge{
		Name:     "Finisher",
		Icon:     "flag",
		Category: model.BadgeAchievement,
		Rarity:   model.RarityRare,
		XPReward: model.DefaultBadgeXPReward,
	}
	require.NoError(t, e.db.UpsertBadge(ctx, badge))

	withBadge = &model.Achievement{
		Name:          "Finish 3 tasks",
		Category:      model.AchievementProductivity,
		MaxProgress:   3,
		XPReward:      120,
		BadgeRewardID: badge.ID,
	}
	require.NoError(t, e.db.UpsertAchievement(ctx, withBadge))

	plain = &model.Achievement{
		Name:        "Say hello",
		Category:    model.AchievementBeginner,
		MaxProgress: 1,
		XPReward:    10,
	}
	require.NoError(t, e.db.UpsertAchievement(ctx, plain))
	return badge, withBadge, plain
}

// apiResponse covers every field any endpoint puts in its envelope.
type apiResponse struct {
	Success    bool                `json:"success"`
	Data       json.RawMessage     `json:"data"`
	Error      string              `json:"error"`
	Message    string              `json:"message"`
	Field      string              `json:"field"`
	Token      string              `json:"token"`
	User       *model.User         `json:"user"`
	Count      int                 `json:"count"`
	LevelUp    bool                `json:"levelUp"`
	XPAwarded  int                 `json:"xpAwarded"`
	Pagination *service.Pagination `json:"pagination"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) apiResponse {
	t.Helper()
	var resp apiResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), "body: %s", rec.Body.String())
	return resp
}

func decodeData(t *testing.T, resp apiResponse, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(resp.Data, v))
}

func findCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

var errBoom = errors.New("boom")
