package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/mentor-app/internal/apperror"
	"github.com/sakif/mentor-app/internal/auth"
	"github.com/sakif/mentor-app/internal/service"
)

// GamificationHandler serves /api/gamification.
type GamificationHandler struct {
	svc    *service.GamificationService
	logger *slog.Logger
}

func NewGamificationHandler(svc *service.GamificationService, logger *slog.Logger) *GamificationHandler {
	return &GamificationHandler{svc: svc, logger: logger}
}

// HandleProfile returns the caller's level, XP, badges, achievements and rank.
//
// HTTP: GET /api/gamification/profile (RequireAuth)
func (h *GamificationHandler) HandleProfile(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	profile, err := h.svc.GetProfile(r.Context(), userID)
	if err != nil {
		h.fail(w, "profile", err)
		return
	}
	writeData(w, http.StatusOK, profile, nil)
}

// HandleLeaderboard returns one page of the XP leaderboard.
//
// HTTP: GET /api/gamification/leaderboard?limit=10&page=1&timeframe=all-time
//
// Missing or non-numeric limit/page fall back to the service defaults.
func (h *GamificationHandler) HandleLeaderboard(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	page, _ := strconv.Atoi(q.Get("page"))

	lb, err := h.svc.GetLeaderboard(r.Context(), limit, page, q.Get("timeframe"))
	if err != nil {
		h.fail(w, "leaderboard", err)
		return
	}
	writeData(w, http.StatusOK, lb.Entries, envelope{"pagination": lb.Pagination})
}

// HandleBadges lists the badge catalog.
//
// HTTP: GET /api/gamification/badges
func (h *GamificationHandler) HandleBadges(w http.ResponseWriter, r *http.Request) {
	badges, err := h.svc.ListBadges(r.Context())
	if err != nil {
		h.fail(w, "list badges", err)
		return
	}
	writeData(w, http.StatusOK, badges, envelope{"count": len(badges)})
}

// HandleAchievements lists the achievement catalog.
//
// HTTP: GET /api/gamification/achievements
func (h *GamificationHandler) HandleAchievements(w http.ResponseWriter, r *http.Request) {
	achievements, err := h.svc.ListAchievements(r.Context())
	if err != nil {
		h.fail(w, "list achievements", err)
		return
	}
	writeData(w, http.StatusOK, achievements, envelope{"count": len(achievements)})
}

// HandleLevels lists the XP ladder.
//
// HTTP: GET /api/gamification/levels
func (h *GamificationHandler) HandleLevels(w http.ResponseWriter, r *http.Request) {
	levels, err := h.svc.ListLevels(r.Context())
	if err != nil {
		h.fail(w, "list levels", err)
		return
	}
	writeData(w, http.StatusOK, levels, envelope{"count": len(levels)})
}

// progressRequest keeps progress raw so that a missing field, null, a
// quoted string and a fractional value can each be told apart from a real
// integer.
type progressRequest struct {
	Progress json.RawMessage `json:"progress"`
}

// HandleUpdateProgress records a progress report for the caller.
//
// HTTP: PUT /api/gamification/achievements/{id}/progress (RequireAuth)
// BODY: {"progress": 3}
func (h *GamificationHandler) HandleUpdateProgress(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	var req progressRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	progress, err := parseProgress(req.Progress)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := h.svc.UpdateProgress(r.Context(), userID, chi.URLParam(r, "id"), progress)
	if err != nil {
		h.fail(w, "update progress", err)
		return
	}
	writeData(w, http.StatusOK, result, envelope{
		"levelUp":   result.LevelUp,
		"xpAwarded": result.XPAwarded,
	})
}

// parseProgress returns nil for a missing or null value and the service
// reports it as required. Anything else must be a bare JSON integer.
func parseProgress(raw json.RawMessage) (*int, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	n, err := strconv.Atoi(string(raw))
	if err != nil {
		return nil, apperror.ValidationFailed("progress", "progress must be a whole number")
	}
	return &n, nil
}

type awardRequest struct {
	UserID string `json:"userId"`
}

// HandleAwardBadge grants a badge to a user. Admins only.
//
// HTTP: POST /api/gamification/badges/{id}/award (RequireAuth)
// BODY: {"userId": "..."}
func (h *GamificationHandler) HandleAwardBadge(w http.ResponseWriter, r *http.Request) {
	actorID, _ := auth.UserIDFromContext(r.Context())

	var req awardRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	award, err := h.svc.AwardBadge(r.Context(), actorID, chi.URLParam(r, "id"), req.UserID)
	if err != nil {
		h.fail(w, "award badge", err)
		return
	}
	writeData(w, http.StatusOK, award, envelope{
		"levelUp":   award.LevelUp,
		"xpAwarded": award.XPAwarded,
	})
}

func (h *GamificationHandler) fail(w http.ResponseWriter, op string, err error) {
	logUnexpected(h.logger, op, err)
	writeError(w, err)
}

// logUnexpected logs errors that will become a 500.
func logUnexpected(logger *slog.Logger, op string, err error) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return
	}
	logger.Error("request failed", slog.String("op", op), slog.String("error", err.Error()))
}
