package service

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/sakif/mentor-app/internal/apperror"
	"github.com/sakif/mentor-app/internal/model"
	"github.com/sakif/mentor-app/internal/repository"
)

// fakeStore is an in-memory repository.GamificationStore. It hands out
// copies so a test can't change stored state by mutating a returned value,
// the same way a real database wouldn't.
type fakeStore struct {
	mu           sync.Mutex
	users        map[string]*model.User
	achievements map[string]model.Achievement
	badges       map[string]model.Badge
	levels       []model.Level
	progress     map[string]model.UserAchievement // keyed by userID/achievementID
	grants       map[string]model.UserBadge       // keyed by userID/badgeID
	nextID       int

	// set to simulate a database failure
	createUserErr error
	updateUserErr error
	saveProgErr   error
}

var _ repository.GamificationStore = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:        make(map[string]*model.User),
		achievements: make(map[string]model.Achievement),
		badges:       make(map[string]model.Badge),
		progress:     make(map[string]model.UserAchievement),
		grants:       make(map[string]model.UserBadge),
		levels: []model.Level{
			{Level: 1, XPRequired: 0, Title: "Newcomer"},
			{Level: 2, XPRequired: 100, Title: "Learner"},
			{Level: 3, XPRequired: 300, Title: "Contributor"},
		},
	}
}

func (f *fakeStore) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

func pairKey(a, b string) string { return a + "/" + b }

// ---- seeding helpers -------------------------------------------------------

func (f *fakeStore) addUser(username string, role model.Role, xp int) *model.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now().UTC()
	u := &model.User{
		ID:        f.id("user"),
		Username:  username,
		Role:      role,
		Level:     1,
		XP:        xp,
		CreatedAt: now,
		UpdatedAt: now,
	}
	f.users[u.ID] = u
	c := *u
	return &c
}

func (f *fakeStore) addAchievement(maxProgress, xpReward int, badgeID string) model.Achievement {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := model.Achievement{
		ID:            f.id("ach"),
		Name:          "achievement",
		Category:      model.AchievementBeginner,
		MaxProgress:   maxProgress,
		XPReward:      xpReward,
		BadgeRewardID: badgeID,
	}
	f.achievements[a.ID] = a
	return a
}

func (f *fakeStore) addBadge(name string, xpReward int) model.Badge {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := model.Badge{
		ID:       f.id("badge"),
		Name:     name,
		Category: model.BadgeAchievement,
		Rarity:   model.RarityCommon,
		XPReward: xpReward,
	}
	f.badges[b.ID] = b
	return b
}

func (f *fakeStore) user(id string) model.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.users[id]
}

func (f *fakeStore) grantCount(userID, badgeID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.grants[pairKey(userID, badgeID)]; ok {
		return 1
	}
	return 0
}

// ---- UserRepository --------------------------------------------------------

func (f *fakeStore) CreateUser(_ context.Context, user *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createUserErr != nil {
		return f.createUserErr
	}
	for _, u := range f.users {
		if u.Username == user.Username || (user.Email != "" && u.Email == user.Email) {
			return apperror.Conflict("user", user.Username)
		}
	}
	user.ID = f.id("user")
	user.Level, user.XP = 1, 0
	if user.Role == "" {
		user.Role = model.RoleStudent
	}
	c := *user
	f.users[user.ID] = &c
	return nil
}

func (f *fakeStore) UpsertGitHubUser(ctx context.Context, user *model.User) error {
	f.mu.Lock()
	for _, u := range f.users {
		if u.GitHubID == user.GitHubID {
			u.Username, u.Email, u.AvatarURL = user.Username, user.Email, user.AvatarURL
			*user = *u
			f.mu.Unlock()
			return nil
		}
	}
	f.mu.Unlock()
	return f.CreateUser(ctx, user)
}

func (f *fakeStore) GetUserByID(_ context.Context, id string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, apperror.NotFound("user", id)
	}
	c := *u
	return &c, nil
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			c := *u
			return &c, nil
		}
	}
	return nil, apperror.NotFound("user", email)
}

func (f *fakeStore) UpdateUserProgress(_ context.Context, user *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateUserErr != nil {
		return f.updateUserErr
	}
	u, ok := f.users[user.ID]
	if !ok {
		return apperror.NotFound("user", user.ID)
	}
	user.UpdatedAt = time.Now().UTC()
	u.Level, u.XP, u.UpdatedAt = user.Level, user.XP, user.UpdatedAt
	return nil
}

func (f *fakeStore) SetUserRole(_ context.Context, email string, role model.Role) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			u.Role = role
			return nil
		}
	}
	return apperror.NotFound("user", email)
}

// ---- CatalogRepository -----------------------------------------------------

func (f *fakeStore) GetAchievement(_ context.Context, id string) (*model.Achievement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.achievements[id]
	if !ok {
		return nil, apperror.NotFound("achievement", id)
	}
	return &a, nil
}

func (f *fakeStore) ListAchievements(_ context.Context) ([]model.Achievement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Achievement, 0, len(f.achievements))
	for _, a := range f.achievements {
		out = append(out, a)
	}
	return out, nil
}

func (f *fakeStore) GetBadge(_ context.Context, id string) (*model.Badge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.badges[id]
	if !ok {
		return nil, apperror.NotFound("badge", id)
	}
	return &b, nil
}

func (f *fakeStore) ListBadges(_ context.Context) ([]model.Badge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Badge, 0, len(f.badges))
	for _, b := range f.badges {
		out = append(out, b)
	}
	return out, nil
}

func (f *fakeStore) ListLevels(_ context.Context) ([]model.Level, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.levels), nil
}

// ---- ProgressRepository ----------------------------------------------------

func (f *fakeStore) GetUserAchievement(_ context.Context, userID, achievementID string) (*model.UserAchievement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ua, ok := f.progress[pairKey(userID, achievementID)]
	if !ok {
		return nil, apperror.NotFound("user achievement", achievementID)
	}
	return &ua, nil
}

func (f *fakeStore) SaveUserAchievement(_ context.Context, ua *model.UserAchievement) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveProgErr != nil {
		return f.saveProgErr
	}
	key := pairKey(ua.UserID, ua.AchievementID)
	if ua.ID == "" {
		if _, exists := f.progress[key]; exists {
			return apperror.Conflict("user achievement", ua.AchievementID)
		}
		ua.ID = f.id("ua")
	}
	f.progress[key] = *ua
	return nil
}

func (f *fakeStore) ListAchievementProgress(_ context.Context, userID string) ([]model.AchievementProgress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []model.AchievementProgress{}
	for _, ua := range f.progress {
		if ua.UserID != userID {
			continue
		}
		a := f.achievements[ua.AchievementID]
		out = append(out, model.AchievementProgress{
			ID:            a.ID,
			Name:          a.Name,
			Progress:      ua.Progress,
			MaxProgress:   a.MaxProgress,
			Completed:     ua.Completed,
			DateCompleted: ua.DateCompleted,
			XPReward:      a.XPReward,
		})
	}
	return out, nil
}

func (f *fakeStore) CountCompletedAchievements(_ context.Context, userID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, ua := range f.progress {
		if ua.UserID == userID && ua.Completed {
			n++
		}
	}
	return n, nil
}

// ---- BadgeGrantRepository --------------------------------------------------

func (f *fakeStore) HasUserBadge(_ context.Context, userID, badgeID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.grants[pairKey(userID, badgeID)]
	return ok, nil
}

func (f *fakeStore) GrantBadge(_ context.Context, ub *model.UserBadge) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := pairKey(ub.UserID, ub.BadgeID)
	if _, ok := f.grants[key]; ok {
		return apperror.Conflict("user badge", ub.BadgeID)
	}
	ub.ID = f.id("ub")
	f.grants[key] = *ub
	return nil
}

func (f *fakeStore) ListEarnedBadges(_ context.Context, userID string) ([]model.EarnedBadge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []model.EarnedBadge{}
	for _, ub := range f.grants {
		if ub.UserID == userID {
			out = append(out, model.EarnedBadge{Badge: f.badges[ub.BadgeID], DateEarned: ub.DateEarned})
		}
	}
	return out, nil
}

func (f *fakeStore) CountUserBadges(_ context.Context, userID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, ub := range f.grants {
		if ub.UserID == userID {
			n++
		}
	}
	return n, nil
}

// ---- LeaderboardRepository -------------------------------------------------

// sortedUsers returns users active since `since`, in leaderboard order.
// Callers must hold f.mu.
func (f *fakeStore) sortedUsers(since time.Time) []model.User {
	out := make([]model.User, 0, len(f.users))
	for _, u := range f.users {
		if since.IsZero() || !u.UpdatedAt.Before(since) {
			out = append(out, *u)
		}
	}
	slices.SortFunc(out, func(a, b model.User) int {
		if c := cmp.Compare(b.XP, a.XP); c != 0 {
			return c
		}
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

func (f *fakeStore) ListUsersByXP(_ context.Context, q repository.LeaderboardQuery) ([]model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	users := f.sortedUsers(q.Since)
	if q.Offset >= len(users) {
		return []model.User{}, nil
	}
	users = users[q.Offset:]
	if q.Limit > 0 && q.Limit < len(users) {
		users = users[:q.Limit]
	}
	return users, nil
}

func (f *fakeStore) CountUsers(_ context.Context, since time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sortedUsers(since)), nil
}

func (f *fakeStore) RankByXP(_ context.Context, userID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, u := range f.sortedUsers(time.Time{}) {
		if u.ID == userID {
			return i + 1, nil
		}
	}
	return 0, apperror.NotFound("user", userID)
}
