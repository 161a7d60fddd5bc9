// Package sim is an in-memory game.Session. It grows crops against a clock,
// keeps a warehouse and a friend list, and can be kicked on demand, which
// makes it a stand-in for the remote server in demos and tests.
package sim

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"croft/pkg/game"
	"croft/pkg/protocol"
)

// Daily caps on friend operations.
const (
	stealLimit = 60
	helpLimit  = 30
)

// Options tune a simulated session.
type Options struct {
	Lands      int
	Friends    int
	StartGold  int64
	LoginDelay time.Duration
	// Latency is added to every server round trip.
	Latency time.Duration
	Now     func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Lands <= 0 {
		o.Lands = 12
	}
	if o.Friends <= 0 {
		o.Friends = 6
	}
	if o.StartGold <= 0 {
		o.StartGold = 1000
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

type plot struct {
	game.Land
	seed      seedDef
	plantedAt time.Time
}

type friend struct {
	game.Friend
	lands []plot
}

// Session is a simulated game.Session.
type Session struct {
	opts   Options
	stats  *game.Stats
	logger *slog.Logger
	rng    *rand.Rand

	mu        sync.Mutex
	start     protocol.StartPayload
	cfg       protocol.Settings
	connected bool
	closed    bool
	user      game.User
	plots     []plot
	friends   []friend
	bag       map[int64]game.Item // keyed by UID
	nextUID   int64
	tasks     []game.Task
	used      map[string]int

	kicked   chan string
	kickOnce sync.Once
}

// New returns a Factory producing simulated sessions with opts.
func New(opts Options) game.Factory {
	return func(start protocol.StartPayload, stats *game.Stats, logger *slog.Logger) (game.Session, error) {
		return NewSession(start, stats, logger, opts), nil
	}
}

// NewSession creates a disconnected simulated session. The account id seeds
// the friend list so a given account always sees the same world.
func NewSession(start protocol.StartPayload, stats *game.Stats, logger *slog.Logger, opts Options) *Session {
	opts = opts.withDefaults()
	h := fnv.New64a()
	_, _ = h.Write([]byte(start.AccountID))
	seed := h.Sum64()

	s := &Session{
		opts:    opts,
		stats:   stats,
		logger:  logger,
		rng:     rand.New(rand.NewPCG(seed, seed>>1)), //nolint:gosec // simulation only
		start:   start,
		cfg:     protocol.DefaultSettings(),
		bag:     make(map[int64]game.Item),
		nextUID: 1,
		used:    make(map[string]int),
		kicked:  make(chan string, 1),
	}
	for i := range opts.Lands {
		s.plots = append(s.plots, plot{Land: game.Land{ID: int64(i + 1), Unlocked: i < opts.Lands*2/3, Level: 1, Phase: "empty"}})
	}
	now := opts.Now()
	for i := range opts.Friends {
		f := friend{Friend: game.Friend{GID: int64(1000 + i), Name: fmt.Sprintf("neighbour-%d", i+1), Level: 1 + s.rng.IntN(15)}}
		for j := range 4 {
			d := catalog[s.rng.IntN(len(catalog))]
			f.lands = append(f.lands, plot{
				Land:      game.Land{ID: int64(j + 1), Unlocked: true, Level: 1, SeedID: d.ID, CropName: d.Name},
				seed:      d,
				plantedAt: now.Add(-time.Duration(s.rng.Int64N(int64(2 * d.Grow)))),
			})
		}
		s.friends = append(s.friends, f)
	}
	s.tasks = []game.Task{
		{ID: 1, Desc: "Harvest 10 crops", Total: 10},
		{ID: 2, Desc: "Help friends 5 times", Total: 5},
		{ID: 3, Desc: "Sell fruit once", Total: 1},
	}
	return s
}

var errClosed = errors.New("session closed")

// roundTrip simulates a server request and fails when the session is not
// usable.
func (s *Session) roundTrip(ctx context.Context) error {
	if s.opts.Latency > 0 {
		t := time.NewTimer(s.opts.Latency)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return fmt.Errorf("sim request: %w", ctx.Err())
		case <-t.C:
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		return errClosed
	case !s.connected:
		return protocol.ErrNotLoggedIn
	}
	return nil
}

// Connect logs in after LoginDelay. An empty credential is rejected.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	code := s.start.Credential
	s.mu.Unlock()
	if code == "" {
		return errors.New("login: empty credential")
	}

	if s.opts.LoginDelay > 0 {
		t := time.NewTimer(s.opts.LoginDelay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return fmt.Errorf("login: %w", ctx.Err())
		case <-t.C:
		}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errClosed
	}
	s.connected = true
	if s.user.Name == "" {
		s.user = game.User{Name: s.start.Name, Level: 1, Gold: s.opts.StartGold, Platform: s.start.Platform}
		s.user.Progress = protocol.ExpProgress{Level: 1, Needed: expToNext(1)}
	}
	gold, exp := s.user.Gold, s.user.Exp
	s.mu.Unlock()

	s.stats.Baseline(gold, exp)
	s.logger.Info("logged in", "tag", "system", "module", "session", "event", "login", "result", "ok")
	return nil
}

// Connected reports whether the session is logged in.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected && !s.closed
}

// User returns the player state.
func (s *Session) User() game.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// Kicked implements game.Session.
func (s *Session) Kicked() <-chan string { return s.kicked }

// Kick ends the session from the server side.
func (s *Session) Kick(reason string) {
	s.kickOnce.Do(func() {
		s.mu.Lock()
		s.connected = false
		s.mu.Unlock()
		s.kicked <- reason
	})
}

// Drop loses the connection without a kick, as a network failure would.
func (s *Session) Drop() {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
}

// Configure applies the settings used by the automation cycles.
func (s *Session) Configure(cfg protocol.Settings) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

// Reconnect swaps the credential and logs in again.
func (s *Session) Reconnect(ctx context.Context, code string) error {
	s.mu.Lock()
	if code != "" {
		s.start.Credential = code
	}
	s.connected = false
	s.mu.Unlock()
	return s.Connect(ctx)
}

// Close ends the session.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	s.connected = false
	s.mu.Unlock()
	return nil
}

// Limits returns today's friend operation usage.
func (s *Session) Limits() map[string]protocol.OpLimit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]protocol.OpLimit{
		"steal":     {Used: s.used["steal"], Limit: stealLimit},
		"helpWater": {Used: s.used["helpWater"], Limit: helpLimit},
		"helpWeed":  {Used: s.used["helpWeed"], Limit: helpLimit},
		"helpBug":   {Used: s.used["helpBug"], Limit: helpLimit},
	}
}

// refreshLocked advances crop phases to now.
func (s *Session) refreshLocked(plots []plot) {
	now := s.opts.Now()
	for i := range plots {
		p := &plots[i]
		if p.SeedID == 0 {
			p.Phase, p.MatureIn, p.Stealable = "empty", 0, false
			continue
		}
		ready := p.plantedAt.Add(p.seed.Grow)
		if now.Before(ready) {
			p.Phase = "growing"
			p.MatureIn = int64(ready.Sub(now).Seconds())
			p.Stealable = false
		} else {
			p.Phase = "mature"
			p.MatureIn = 0
			p.Stealable = true
		}
	}
}

// gainLocked adds gold and exp and reports the new totals to stats.
func (s *Session) gainLocked(gold, exp int64) {
	s.user.Gold += gold
	s.user.Exp += exp
	level, cur, need := levelFor(s.user.Exp)
	s.user.Level = level
	s.user.Progress = protocol.ExpProgress{Level: level, Current: cur, Needed: need}
	s.stats.Observe(s.user.Gold, s.user.Exp)
}

func (s *Session) storeFruitLocked(d seedDef, n int64) {
	for uid, it := range s.bag {
		if it.ID == d.FruitID {
			it.Count += n
			s.bag[uid] = it
			return
		}
	}
	s.bag[s.nextUID] = game.Item{ID: d.FruitID, Count: n, UID: s.nextUID, Fruit: true, Name: d.Name}
	s.nextUID++
}

func (s *Session) progressTaskLocked(id int64, n int) {
	for i := range s.tasks {
		t := &s.tasks[i]
		if t.ID == id && !t.Claimed {
			t.Progress = min(t.Progress+n, t.Total)
			t.Claimable = t.Progress >= t.Total
		}
	}
}

func (s *Session) chooseSeedLocked() (seedDef, bool) {
	var best seedDef
	found := false
	if s.cfg.PlantingStrategy == protocol.StrategyPreferred && s.cfg.PreferredSeedID != 0 {
		if d, ok := seedByID(s.cfg.PreferredSeedID); ok && d.Level <= s.user.Level {
			return d, true
		}
	}
	for _, d := range catalog {
		if d.Level > s.user.Level || d.Price > s.user.Gold {
			continue
		}
		if !found {
			best, found = d, true
			continue
		}
		switch s.cfg.PlantingStrategy {
		case protocol.StrategyExp:
			if d.expPerHour() > best.expPerHour() {
				best = d
			}
		case protocol.StrategyProfit:
			if d.profitPerHour() > best.profitPerHour() {
				best = d
			}
		default:
			if d.Level > best.Level {
				best = d
			}
		}
	}
	return best, found
}

func (s *Session) harvestLocked() int {
	s.refreshLocked(s.plots)
	n := 0
	for i := range s.plots {
		p := &s.plots[i]
		if p.Phase != "mature" {
			continue
		}
		s.storeFruitLocked(p.seed, p.seed.Yield)
		s.gainLocked(0, p.seed.Exp)
		p.Land = game.Land{ID: p.ID, Unlocked: p.Unlocked, Level: p.Level, Phase: "empty"}
		p.seed = seedDef{}
		n++
	}
	s.stats.RecordOperation("harvest", n)
	s.progressTaskLocked(1, n)
	return n
}

func (s *Session) plantLocked() int {
	n := 0
	for i := range s.plots {
		p := &s.plots[i]
		if !p.Unlocked || p.SeedID != 0 {
			continue
		}
		d, ok := s.chooseSeedLocked()
		if !ok {
			break
		}
		s.user.Gold -= d.Price
		s.stats.Observe(s.user.Gold, s.user.Exp)
		p.SeedID, p.CropName, p.seed, p.plantedAt = d.ID, d.Name, d, s.opts.Now()
		if s.cfg.Automation.Fertilizer != protocol.FertilizerNone {
			p.plantedAt = p.plantedAt.Add(-d.Grow / 4)
			s.stats.RecordOperation("fertilize", 1)
		}
		n++
	}
	s.stats.RecordOperation("plant", n)
	s.refreshLocked(s.plots)
	return n
}

func (s *Session) tendLocked() int {
	n := 0
	for i := range s.plots {
		p := &s.plots[i]
		for _, need := range []struct {
			flag *bool
			op   string
		}{{&p.NeedWater, "water"}, {&p.NeedWeed, "weed"}, {&p.NeedBug, "bug"}} {
			if *need.flag {
				*need.flag = false
				s.stats.RecordOperation(need.op, 1)
				n++
			}
		}
		// Growing crops pick up a new need now and then.
		if p.Phase == "growing" && s.rng.IntN(8) == 0 {
			p.NeedWeed = true
		}
	}
	return n
}

func (s *Session) upgradeLocked() int {
	for i := range s.plots {
		p := &s.plots[i]
		if p.Unlocked {
			continue
		}
		cost := int64(500 * (i + 1))
		if s.user.Gold < cost || s.user.Level < 3 {
			return 0
		}
		s.user.Gold -= cost
		s.stats.Observe(s.user.Gold, s.user.Exp)
		p.Unlocked = true
		s.stats.RecordOperation("upgrade", 1)
		return 1
	}
	return 0
}

// CheckFarm runs one farm cycle: harvest, tend, plant and, when enabled,
// upgrade a locked plot.
func (s *Session) CheckFarm(ctx context.Context) (game.FarmReport, error) {
	if err := s.roundTrip(ctx); err != nil {
		return game.FarmReport{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rep := game.FarmReport{Harvested: s.harvestLocked()}
	rep.Tended = s.tendLocked()
	rep.Planted = s.plantLocked()
	if s.cfg.Automation.LandUpgrade {
		s.upgradeLocked()
	}
	return rep, nil
}

// CheckFriends visits every friend, stealing and helping as configured.
func (s *Session) CheckFriends(ctx context.Context) (game.FriendReport, error) {
	if err := s.roundTrip(ctx); err != nil {
		return game.FriendReport{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var rep game.FriendReport
	for i := range s.friends {
		rep.Visited++
		if s.cfg.Automation.FriendSteal {
			rep.Stolen += s.friendOpLocked(i, game.FriendSteal)
		}
		if s.cfg.Automation.FriendHelp {
			rep.Helped += s.friendOpLocked(i, game.FriendWater)
			rep.Helped += s.friendOpLocked(i, game.FriendWeed)
			rep.Helped += s.friendOpLocked(i, game.FriendBug)
		}
	}
	return rep, nil
}

func (s *Session) friendOpLocked(idx int, op game.FriendOp) int {
	f := &s.friends[idx]
	s.refreshLocked(f.lands)
	n := 0
	switch op {
	case game.FriendSteal:
		for i := range f.lands {
			p := &f.lands[i]
			if !p.Stealable || s.used["steal"] >= stealLimit {
				continue
			}
			s.storeFruitLocked(p.seed, 1)
			s.used["steal"]++
			// Regrow so the plot is not stolen from twice in a row.
			p.plantedAt = s.opts.Now()
			n++
		}
		s.stats.RecordOperation("steal", n)
	case game.FriendWater, game.FriendWeed, game.FriendBug:
		key := map[game.FriendOp]string{game.FriendWater: "helpWater", game.FriendWeed: "helpWeed", game.FriendBug: "helpBug"}[op]
		if s.used[key] < helpLimit && s.rng.IntN(3) == 0 {
			s.used[key]++
			s.gainLocked(0, 1)
			s.stats.RecordOperation(key, 1)
			s.progressTaskLocked(2, 1)
			n = 1
		}
	case game.FriendBad:
		if s.cfg.Automation.FriendBad {
			n = 1
		}
	}
	s.refreshLocked(f.lands)
	return n
}

// Lands returns the player's plots.
func (s *Session) Lands(ctx context.Context) ([]game.Land, error) {
	if err := s.roundTrip(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshLocked(s.plots)
	return landsOf(s.plots), nil
}

func landsOf(plots []plot) []game.Land {
	out := make([]game.Land, len(plots))
	for i, p := range plots {
		out[i] = p.Land
	}
	return out
}

// Friends returns the friend list.
func (s *Session) Friends(ctx context.Context) ([]game.Friend, error) {
	if err := s.roundTrip(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]game.Friend, len(s.friends))
	for i := range s.friends {
		f := &s.friends[i]
		s.refreshLocked(f.lands)
		f.CanSteal, f.CanHelp = false, true
		for _, p := range f.lands {
			f.CanSteal = f.CanSteal || p.Stealable
		}
		out[i] = f.Friend
	}
	return out, nil
}

func (s *Session) friendIndexLocked(gid int64) (int, error) {
	for i, f := range s.friends {
		if f.GID == gid {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown friend %d", gid)
}

// FriendLands returns a friend's plots.
func (s *Session) FriendLands(ctx context.Context, gid int64) ([]game.Land, error) {
	if err := s.roundTrip(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i, err := s.friendIndexLocked(gid)
	if err != nil {
		return nil, err
	}
	s.refreshLocked(s.friends[i].lands)
	return landsOf(s.friends[i].lands), nil
}

// DoFriendOp performs op on the friend gid.
func (s *Session) DoFriendOp(ctx context.Context, gid int64, op game.FriendOp) (game.OpResult, error) {
	if err := s.roundTrip(ctx); err != nil {
		return game.OpResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i, err := s.friendIndexLocked(gid)
	if err != nil {
		return game.OpResult{}, err
	}
	n := s.friendOpLocked(i, op)
	return game.OpResult{Op: string(op), Count: n}, nil
}

// Seeds lists the shop.
func (s *Session) Seeds(ctx context.Context) ([]game.Seed, error) {
	if err := s.roundTrip(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	level := s.user.Level
	s.mu.Unlock()
	out := make([]game.Seed, len(catalog))
	for i, d := range catalog {
		out[i] = game.Seed{ID: d.ID, Name: d.Name, RequiredLevel: d.Level, Price: d.Price, Unlocked: d.Level <= level}
	}
	return out, nil
}

// Tasks lists the task board.
func (s *Session) Tasks(ctx context.Context) ([]game.Task, error) {
	if err := s.roundTrip(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]game.Task(nil), s.tasks...), nil
}

// ClaimTask collects the reward of a completed task.
func (s *Session) ClaimTask(ctx context.Context, id int64) (game.OpResult, error) {
	if err := s.roundTrip(ctx); err != nil {
		return game.OpResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.tasks {
		t := &s.tasks[i]
		if t.ID != id {
			continue
		}
		if !t.Claimable || t.Claimed {
			return game.OpResult{}, fmt.Errorf("task %d is not claimable", id)
		}
		t.Claimed, t.Claimable = true, false
		s.gainLocked(100, 20)
		s.stats.RecordOperation("taskClaim", 1)
		return game.OpResult{Op: "claim", Count: 1, Msg: t.Desc}, nil
	}
	return game.OpResult{}, fmt.Errorf("unknown task %d", id)
}

// DoFarmOp runs one farm operation on demand.
func (s *Session) DoFarmOp(ctx context.Context, op game.FarmOp) (game.OpResult, error) {
	if err := s.roundTrip(ctx); err != nil {
		return game.OpResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	switch op {
	case game.FarmHarvest:
		n = s.harvestLocked()
	case game.FarmClear:
		s.refreshLocked(s.plots)
		for i := range s.plots {
			p := &s.plots[i]
			if p.Phase == "mature" || p.SeedID == 0 {
				continue
			}
			p.Land = game.Land{ID: p.ID, Unlocked: p.Unlocked, Level: p.Level, Phase: "empty"}
			p.seed = seedDef{}
			n++
		}
	case game.FarmPlant:
		n = s.plantLocked()
	case game.FarmUpgrade:
		n = s.upgradeLocked()
	case game.FarmAll:
		n = s.harvestLocked() + s.tendLocked() + s.plantLocked()
	default:
		return game.OpResult{}, fmt.Errorf("unknown farm op %q", op)
	}
	return game.OpResult{Op: string(op), Count: n}, nil
}

// PlantRankings ranks the catalogue.
func (s *Session) PlantRankings(by game.RankBy) ([]game.PlantRank, error) {
	return rankings(by), nil
}

// Bag lists the warehouse.
func (s *Session) Bag(ctx context.Context) ([]game.Item, error) {
	if err := s.roundTrip(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]game.Item, 0, len(s.bag))
	for uid := int64(1); uid < s.nextUID; uid++ {
		if it, ok := s.bag[uid]; ok {
			out = append(out, it)
		}
	}
	return out, nil
}

// SellItems sells whole stacks. The reply reports the gold gained in
// GetItems.
func (s *Session) SellItems(ctx context.Context, items []game.Item) (game.SellReply, error) {
	if err := s.roundTrip(ctx); err != nil {
		return game.SellReply{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range items {
		held, ok := s.bag[it.UID]
		if !ok || held.ID != it.ID || held.Count < it.Count {
			return game.SellReply{}, fmt.Errorf("invalid sell item %d uid=%d", it.ID, it.UID)
		}
	}
	var gold int64
	for _, it := range items {
		d, _ := seedByFruit(it.ID)
		gold += d.FruitPrice * it.Count
		held := s.bag[it.UID]
		held.Count -= it.Count
		if held.Count == 0 {
			delete(s.bag, it.UID)
		} else {
			s.bag[it.UID] = held
		}
	}
	s.gainLocked(gold, 0)
	s.progressTaskLocked(3, 1)
	return game.SellReply{GetItems: []game.Item{{ID: 1, Count: gold}}}, nil
}
