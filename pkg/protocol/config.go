package protocol

import (
	"fmt"
	"time"
)

// Automation holds the per-feature automation toggles.
type Automation struct {
	Farm        bool       `json:"farm" toml:"farm"`
	FarmPush    bool       `json:"farm_push" toml:"farm_push"`
	LandUpgrade bool       `json:"land_upgrade" toml:"land_upgrade"`
	Friend      bool       `json:"friend" toml:"friend"`
	FriendSteal bool       `json:"friend_steal" toml:"friend_steal"`
	FriendHelp  bool       `json:"friend_help" toml:"friend_help"`
	FriendBad   bool       `json:"friend_bad" toml:"friend_bad"`
	Task        bool       `json:"task" toml:"task"`
	Sell        bool       `json:"sell" toml:"sell"`
	Fertilizer  Fertilizer `json:"fertilizer" toml:"fertilizer"`
}

// Fertilizer selects which fertilizer the farm cycle applies.
type Fertilizer string

// Fertilizer values.
const (
	FertilizerNone    Fertilizer = "none"
	FertilizerNormal  Fertilizer = "normal"
	FertilizerOrganic Fertilizer = "organic"
	FertilizerBoth    Fertilizer = "both"
)

// Valid reports whether f is a known fertilizer mode.
func (f Fertilizer) Valid() bool {
	switch f {
	case FertilizerNone, FertilizerNormal, FertilizerOrganic, FertilizerBoth:
		return true
	default:
		return false
	}
}

// DefaultAutomation is applied when the store has no automation settings.
func DefaultAutomation() Automation {
	return Automation{
		Farm:        true,
		FarmPush:    true,
		LandUpgrade: true,
		Friend:      true,
		FriendSteal: true,
		FriendHelp:  true,
		Task:        true,
		Sell:        true,
		Fertilizer:  FertilizerBoth,
	}
}

// Set updates the toggle named key. Boolean flags take a bool; "fertilizer"
// takes a Fertilizer name.
func (a *Automation) Set(key string, value any) error {
	if key == "fertilizer" {
		s, ok := value.(string)
		if !ok || !Fertilizer(s).Valid() {
			return fmt.Errorf("%w: fertilizer %v", ErrInvalidSetting, value)
		}
		a.Fertilizer = Fertilizer(s)
		return nil
	}

	flag := a.flag(key)
	if flag == nil {
		return fmt.Errorf("%w: unknown automation key %q", ErrInvalidSetting, key)
	}
	b, ok := value.(bool)
	if !ok {
		return fmt.Errorf("%w: automation %s wants a boolean, got %v", ErrInvalidSetting, key, value)
	}
	*flag = b
	return nil
}

func (a *Automation) flag(key string) *bool {
	switch key {
	case "farm":
		return &a.Farm
	case "farm_push":
		return &a.FarmPush
	case "land_upgrade":
		return &a.LandUpgrade
	case "friend":
		return &a.Friend
	case "friend_steal":
		return &a.FriendSteal
	case "friend_help":
		return &a.FriendHelp
	case "friend_bad":
		return &a.FriendBad
	case "task":
		return &a.Task
	case "sell":
		return &a.Sell
	default:
		return nil
	}
}

// PlantingStrategy selects how the farm cycle picks a seed.
type PlantingStrategy string

// Planting strategies.
const (
	StrategyPreferred PlantingStrategy = "preferred" // PreferredSeedID, falling back to level
	StrategyLevel     PlantingStrategy = "level"     // highest unlocked seed
	StrategyExp       PlantingStrategy = "exp"       // best experience per hour
	StrategyProfit    PlantingStrategy = "profit"    // best gold per hour
)

// Valid reports whether s is a known strategy.
func (s PlantingStrategy) Valid() bool {
	switch s {
	case StrategyPreferred, StrategyLevel, StrategyExp, StrategyProfit:
		return true
	default:
		return false
	}
}

// Interval defaults and floor.
const (
	DefaultFarmInterval   = 2 * time.Second
	DefaultFriendInterval = 10 * time.Second
	MinInterval           = time.Second
)

// Intervals are the periodic task cadences, in whole seconds.
type Intervals struct {
	Farm   int `json:"farm" toml:"farm"`
	Friend int `json:"friend" toml:"friend"`
}

// DefaultIntervals returns the farm/friend cadences used when unset.
func DefaultIntervals() Intervals {
	return Intervals{
		Farm:   int(DefaultFarmInterval / time.Second),
		Friend: int(DefaultFriendInterval / time.Second),
	}
}

// Set updates the interval named kind ("farm" or "friend").
func (iv *Intervals) Set(kind string, seconds int) error {
	if seconds < 1 {
		return fmt.Errorf("%w: interval must be at least 1s, got %d", ErrInvalidSetting, seconds)
	}
	switch kind {
	case "farm":
		iv.Farm = seconds
	case "friend":
		iv.Friend = seconds
	default:
		return fmt.Errorf("%w: unknown interval %q", ErrInvalidSetting, kind)
	}
	return nil
}

// FarmEvery returns the farm cadence, defaulted and floored at MinInterval.
func (iv Intervals) FarmEvery() time.Duration {
	return secondsOr(iv.Farm, DefaultFarmInterval)
}

// FriendEvery returns the friend cadence, defaulted and floored at MinInterval.
func (iv Intervals) FriendEvery() time.Duration {
	return secondsOr(iv.Friend, DefaultFriendInterval)
}

func secondsOr(n int, def time.Duration) time.Duration {
	if n <= 0 {
		return def
	}
	return max(time.Duration(n)*time.Second, MinInterval)
}

// QuietHours is a daily local-time window during which friend visits pause.
// The window may wrap midnight (e.g. 23:00–07:00).
type QuietHours struct {
	Enabled bool   `json:"enabled" toml:"enabled"`
	Start   string `json:"start" toml:"start"`
	End     string `json:"end" toml:"end"`
}

// DefaultQuietHours returns a disabled 23:00–07:00 window.
func DefaultQuietHours() QuietHours {
	return QuietHours{Start: "23:00", End: "07:00"}
}

// Validate checks that Start and End are HH:MM.
func (q QuietHours) Validate() error {
	if _, err := minuteOfDay(q.Start); err != nil {
		return fmt.Errorf("%w: quiet hours start: %w", ErrInvalidSetting, err)
	}
	if _, err := minuteOfDay(q.End); err != nil {
		return fmt.Errorf("%w: quiet hours end: %w", ErrInvalidSetting, err)
	}
	return nil
}

// Contains reports whether t falls inside an enabled window. An invalid or
// empty (start == end) window never matches.
func (q QuietHours) Contains(t time.Time) bool {
	if !q.Enabled {
		return false
	}
	start, err := minuteOfDay(q.Start)
	if err != nil {
		return false
	}
	end, err := minuteOfDay(q.End)
	if err != nil || start == end {
		return false
	}
	m := t.Hour()*60 + t.Minute()
	if start < end {
		return m >= start && m < end
	}
	return m >= start || m < end
}

func minuteOfDay(hhmm string) (int, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", hhmm, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Settings is the user-editable configuration persisted by the supervisor.
type Settings struct {
	Automation       Automation       `json:"automation" toml:"automation"`
	PlantingStrategy PlantingStrategy `json:"planting_strategy" toml:"planting_strategy"`
	PreferredSeedID  int64            `json:"preferred_seed_id" toml:"preferred_seed_id"`
	Intervals        Intervals        `json:"intervals" toml:"intervals"`
	FriendQuietHours QuietHours       `json:"friend_quiet_hours" toml:"friend_quiet_hours"`
}

// DefaultSettings returns the settings of a fresh installation.
func DefaultSettings() Settings {
	return Settings{
		Automation:       DefaultAutomation(),
		PlantingStrategy: StrategyPreferred,
		Intervals:        DefaultIntervals(),
		FriendQuietHours: DefaultQuietHours(),
	}
}

// ConfigSnapshot is the complete configuration pushed to workers. Workers
// never apply a snapshot whose Revision is lower than one already applied.
type ConfigSnapshot struct {
	Settings
	Revision uint64 `json:"revision" toml:"revision"`
}
