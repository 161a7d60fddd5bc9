// Package game defines the boundary between a worker and the remote game:
// the Session a worker drives, the values it exchanges, and the warehouse
// logic that sells harvested fruit on top of any Session.
package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"croft/pkg/protocol"
)

// ErrKicked is returned by Session calls made after the server ended the
// session.
var ErrKicked = errors.New("session kicked by server")

// Session is one authenticated connection to the game server. Implementations
// must be safe for concurrent use: the scheduler and API calls share it.
type Session interface {
	// Connect dials and logs in. It blocks until the session is ready or
	// login fails.
	Connect(ctx context.Context) error
	Connected() bool
	User() User
	// Kicked delivers the reason once when the server forcibly ends the
	// session.
	Kicked() <-chan string
	Configure(cfg protocol.Settings)

	CheckFarm(ctx context.Context) (FarmReport, error)
	CheckFriends(ctx context.Context) (FriendReport, error)

	Lands(ctx context.Context) ([]Land, error)
	Friends(ctx context.Context) ([]Friend, error)
	FriendLands(ctx context.Context, gid int64) ([]Land, error)
	DoFriendOp(ctx context.Context, gid int64, op FriendOp) (OpResult, error)
	Seeds(ctx context.Context) ([]Seed, error)
	Tasks(ctx context.Context) ([]Task, error)
	ClaimTask(ctx context.Context, id int64) (OpResult, error)
	DoFarmOp(ctx context.Context, op FarmOp) (OpResult, error)
	PlantRankings(sortBy RankBy) ([]PlantRank, error)
	Limits() map[string]protocol.OpLimit

	Bag(ctx context.Context) ([]Item, error)
	SellItems(ctx context.Context, items []Item) (SellReply, error)

	// Reconnect replaces the login credential and re-establishes the
	// connection in the background.
	Reconnect(ctx context.Context, code string) error
	Close() error
}

// Factory opens a Session for the account in start. Operation counters and
// gold/exp movements are recorded into stats.
type Factory func(start protocol.StartPayload, stats *Stats, logger *slog.Logger) (Session, error)

// User is the player's headline state as last reported by the server.
type User struct {
	Name     string               `json:"name"`
	Level    int                  `json:"level"`
	Gold     int64                `json:"gold"`
	Exp      int64                `json:"exp"`
	Platform string               `json:"platform"`
	Progress protocol.ExpProgress `json:"exp_progress"`
}

// FarmReport summarizes one farm cycle.
type FarmReport struct {
	Harvested int
	Planted   int
	Tended    int
}

// FriendReport summarizes one friend cycle.
type FriendReport struct {
	Visited int
	Stolen  int
	Helped  int
}

// Land is one plot, on the player's farm or a friend's.
type Land struct {
	ID        int64  `json:"id"`
	Unlocked  bool   `json:"unlocked"`
	Level     int    `json:"level"`
	SeedID    int64  `json:"seed_id,omitempty"`
	CropName  string `json:"crop_name,omitempty"`
	Phase     string `json:"phase"`
	MatureIn  int64  `json:"mature_in_sec"`
	NeedWater bool   `json:"need_water"`
	NeedWeed  bool   `json:"need_weed"`
	NeedBug   bool   `json:"need_bug"`
	Stealable bool   `json:"stealable"`
}

// Friend is an entry of the friend list.
type Friend struct {
	GID      int64  `json:"gid"`
	Name     string `json:"name"`
	Level    int    `json:"level"`
	CanSteal bool   `json:"can_steal"`
	CanHelp  bool   `json:"can_help"`
}

// Seed is a plantable seed from the shop.
type Seed struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	RequiredLevel int    `json:"required_level"`
	Price         int64  `json:"price"`
	Unlocked      bool   `json:"unlocked"`
}

// Task is a daily or growth task.
type Task struct {
	ID        int64  `json:"id"`
	Desc      string `json:"desc"`
	Progress  int    `json:"progress"`
	Total     int    `json:"total"`
	Claimable bool   `json:"claimable"`
	Claimed   bool   `json:"claimed"`
}

// OpResult reports a manual operation.
type OpResult struct {
	Op    string `json:"op"`
	Count int    `json:"count"`
	Msg   string `json:"msg,omitempty"`
}

// PlantRank is one row of the planting analytics table.
type PlantRank struct {
	SeedID         int64   `json:"seed_id"`
	Name           string  `json:"name"`
	Level          int     `json:"level"`
	ExpPerHour     float64 `json:"exp_per_hour"`
	FertExpPerHour float64 `json:"fert_exp_per_hour"`
	ProfitPerHour  float64 `json:"profit_per_hour"`
}

// Item is a warehouse entry. UID identifies the stack to the server; a zero
// UID cannot be sold.
type Item struct {
	ID    int64  `json:"id"`
	Count int64  `json:"count"`
	UID   int64  `json:"uid"`
	Fruit bool   `json:"fruit"`
	Name  string `json:"name,omitempty"`
}

// SellReply is the server answer to a sell request. Depending on protocol
// version the gold appears in GetItems (amount gained) or in Items or
// SellItems (either the new total or the amount gained).
type SellReply struct {
	GetItems  []Item `json:"get_items,omitempty"`
	Items     []Item `json:"items,omitempty"`
	SellItems []Item `json:"sell_items,omitempty"`
}

// FarmOp is a manual operation over the player's own farm.
type FarmOp string

// Farm operations.
const (
	FarmHarvest FarmOp = "harvest"
	FarmClear   FarmOp = "clear"
	FarmPlant   FarmOp = "plant"
	FarmUpgrade FarmOp = "upgrade"
	FarmAll     FarmOp = "all"
)

// ParseFarmOp validates s as a FarmOp.
func ParseFarmOp(s string) (FarmOp, error) {
	switch op := FarmOp(s); op {
	case FarmHarvest, FarmClear, FarmPlant, FarmUpgrade, FarmAll:
		return op, nil
	default:
		return "", fmt.Errorf("unknown farm op %q", s)
	}
}

// FriendOp is an operation on a friend's farm.
type FriendOp string

// Friend operations.
const (
	FriendSteal FriendOp = "steal"
	FriendWater FriendOp = "water"
	FriendWeed  FriendOp = "weed"
	FriendBug   FriendOp = "bug"
	FriendBad   FriendOp = "bad"
)

// ParseFriendOp validates s as a FriendOp.
func ParseFriendOp(s string) (FriendOp, error) {
	switch op := FriendOp(s); op {
	case FriendSteal, FriendWater, FriendWeed, FriendBug, FriendBad:
		return op, nil
	default:
		return "", fmt.Errorf("unknown friend op %q", s)
	}
}

// RankBy orders plant analytics.
type RankBy string

// Analytics orderings.
const (
	RankByExp     RankBy = "exp"
	RankByFertExp RankBy = "fert"
	RankByProfit  RankBy = "profit"
	RankByLevel   RankBy = "level"
)

// ParseRankBy validates s, defaulting an empty value to RankByExp.
func ParseRankBy(s string) (RankBy, error) {
	if s == "" {
		return RankByExp, nil
	}
	switch r := RankBy(s); r {
	case RankByExp, RankByFertExp, RankByProfit, RankByLevel:
		return r, nil
	default:
		return "", fmt.Errorf("unknown analytics order %q", s)
	}
}
