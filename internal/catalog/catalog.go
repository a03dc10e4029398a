// Package catalog loads the gamification catalog (levels, badges and
// achievements) from YAML and writes it to the database.
//
// Applying a catalog is idempotent: levels upsert by number, badges and
// achievements by name, so re-running it never changes an existing ID.
package catalog

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/sakif/mentor-app/internal/model"
	"github.com/sakif/mentor-app/internal/repository"
)

// Catalog is the top-level YAML document.
type Catalog struct {
	Levels       []LevelDef       `yaml:"levels"`
	Badges       []BadgeDef       `yaml:"badges"`
	Achievements []AchievementDef `yaml:"achievements"`
}

type LevelDef struct {
	Level      int    `yaml:"level"`
	XPRequired int    `yaml:"xpRequired"`
	Title      string `yaml:"title"`
}

// BadgeDef is a badge definition. Key is how achievements refer to it; it
// never reaches the database.
type BadgeDef struct {
	Key         string `yaml:"key"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Icon        string `yaml:"icon"`
	Category    string `yaml:"category"`
	Rarity      string `yaml:"rarity"`
	XPReward    *int   `yaml:"xpReward"`
}

type AchievementDef struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Category    string `yaml:"category"`
	MaxProgress int    `yaml:"maxProgress"`
	XPReward    int    `yaml:"xpReward"`
	Badge       string `yaml:"badge"`
}

// Summary counts what Apply wrote.
type Summary struct {
	Levels       int
	Badges       int
	Achievements int
}

// Load reads and validates the catalog at path.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes and validates a catalog document. Unknown keys are errors so
// that a typo like "xpReword" doesn't silently become zero.
func Parse(data []byte) (*Catalog, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var c Catalog
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decoding: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate reports every problem in the catalog at once.
func (c *Catalog) Validate() error {
	var errs []error

	seenLevel := make(map[int]bool)
	hasFirst := false
	for i, l := range c.Levels {
		switch {
		case l.Level < 1:
			errs = append(errs, fmt.Errorf("levels[%d]: level must be at least 1", i))
		case seenLevel[l.Level]:
			errs = append(errs, fmt.Errorf("levels[%d]: duplicate level %d", i, l.Level))
		}
		seenLevel[l.Level] = true
		if l.XPRequired < 0 {
			errs = append(errs, fmt.Errorf("levels[%d]: xpRequired must not be negative", i))
		}
		if l.Level == 1 {
			hasFirst = true
			if l.XPRequired != 0 {
				errs = append(errs, errors.New("level 1 must require 0 XP"))
			}
		}
	}
	if len(c.Levels) > 0 && !hasFirst {
		errs = append(errs, errors.New("levels must include level 1"))
	}
	if err := checkLadder(c.Levels); err != nil {
		errs = append(errs, err)
	}

	badgeKeys := make(map[string]bool)
	badgeNames := make(map[string]bool)
	for i, b := range c.Badges {
		if b.Key == "" {
			errs = append(errs, fmt.Errorf("badges[%d]: key is required", i))
		} else if badgeKeys[b.Key] {
			errs = append(errs, fmt.Errorf("badges[%d]: duplicate key %q", i, b.Key))
		}
		badgeKeys[b.Key] = true

		if b.Name == "" {
			errs = append(errs, fmt.Errorf("badges[%d]: name is required", i))
		} else if badgeNames[b.Name] {
			errs = append(errs, fmt.Errorf("badges[%d]: duplicate name %q", i, b.Name))
		}
		badgeNames[b.Name] = true

		if !model.BadgeCategory(b.Category).Valid() {
			errs = append(errs, fmt.Errorf("badges[%d]: unknown category %q", i, b.Category))
		}
		if model.Rarity(b.Rarity).Rank() < 0 {
			errs = append(errs, fmt.Errorf("badges[%d]: unknown rarity %q", i, b.Rarity))
		}
		if b.XPReward != nil && *b.XPReward < 0 {
			errs = append(errs, fmt.Errorf("badges[%d]: xpReward must not be negative", i))
		}
	}

	achievementNames := make(map[string]bool)
	for i, a := range c.Achievements {
		if a.Name == "" {
			errs = append(errs, fmt.Errorf("achievements[%d]: name is required", i))
		} else if achievementNames[a.Name] {
			errs = append(errs, fmt.Errorf("achievements[%d]: duplicate name %q", i, a.Name))
		}
		achievementNames[a.Name] = true

		if !model.AchievementCategory(a.Category).Valid() {
			errs = append(errs, fmt.Errorf("achievements[%d]: unknown category %q", i, a.Category))
		}
		if a.MaxProgress < 1 {
			errs = append(errs, fmt.Errorf("achievements[%d]: maxProgress must be at least 1", i))
		}
		if a.XPReward < 0 {
			errs = append(errs, fmt.Errorf("achievements[%d]: xpReward must not be negative", i))
		}
		if a.Badge != "" && !badgeKeys[a.Badge] {
			errs = append(errs, fmt.Errorf("achievements[%d]: unknown badge %q", i, a.Badge))
		}
	}

	return errors.Join(errs...)
}

// checkLadder requires XP thresholds to rise strictly with the level number.
func checkLadder(levels []LevelDef) error {
	sorted := slices.Clone(levels)
	slices.SortFunc(sorted, func(a, b LevelDef) int { return cmp.Compare(a.Level, b.Level) })
	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1], sorted[i]
		if cur.Level != prev.Level && cur.XPRequired <= prev.XPRequired {
			return fmt.Errorf("level %d requires %d XP, not more than level %d (%d XP)",
				cur.Level, cur.XPRequired, prev.Level, prev.XPRequired)
		}
	}
	return nil
}

// Apply writes the catalog through w. Badges go first so achievements can
// reference their IDs.
func (c *Catalog) Apply(ctx context.Context, w repository.CatalogWriter) (Summary, error) {
	var sum Summary

	for _, l := range c.Levels {
		level := model.Level{Level: l.Level, XPRequired: l.XPRequired, Title: l.Title}
		if err := w.UpsertLevel(ctx, &level); err != nil {
			return sum, fmt.Errorf("catalog: level %d: %w", l.Level, err)
		}
		sum.Levels++
	}

	badgeIDs := make(map[string]string, len(c.Badges))
	for _, b := range c.Badges {
		xp := model.DefaultBadgeXPReward
		if b.XPReward != nil {
			xp = *b.XPReward
		}
		badge := model.Badge{
			Name:        b.Name,
			Description: b.Description,
			Icon:        b.Icon,
			Category:    model.BadgeCategory(b.Category),
			Rarity:      model.Rarity(b.Rarity),
			XPReward:    xp,
		}
		if err := w.UpsertBadge(ctx, &badge); err != nil {
			return sum, fmt.Errorf("catalog: badge %q: %w", b.Name, err)
		}
		badgeIDs[b.Key] = badge.ID
		sum.Badges++
	}

	for _, a := range c.Achievements {
		achievement := model.Achievement{
			Name:          a.Name,
			Description:   a.Description,
			Category:      model.AchievementCategory(a.Category),
			MaxProgress:   a.MaxProgress,
			XPReward:      a.XPReward,
			BadgeRewardID: badgeIDs[a.Badge],
		}
		if err := w.UpsertAchievement(ctx, &achievement); err != nil {
			return sum, fmt.Errorf("catalog: achievement %q: %w", a.Name, err)
		}
		sum.Achievements++
	}

	return sum, nil
}
