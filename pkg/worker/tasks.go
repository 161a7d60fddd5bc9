package worker

import (
	"context"
	"fmt"
	"time"

	"croft/pkg/game"
	"croft/pkg/protocol"
	"croft/pkg/scheduler"
)

// Task names, in priority order.
const (
	TaskFarm   = "farm"
	TaskFriend = "friend"
)

func (w *Worker) tasks() []scheduler.Task {
	return []scheduler.Task{
		{Name: TaskFarm, Interval: w.farmEvery, Run: w.runFarm},
		{Name: TaskFriend, Interval: w.friendEvery, Run: w.runFriend},
	}
}

func (w *Worker) farmEvery() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.settings.Intervals.FarmEvery()
}

func (w *Worker) friendEvery() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.settings.Intervals.FriendEvery()
}

func (w *Worker) current() (game.Session, protocol.Settings) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.session, w.settings
}

// runFarm is one farm cycle. A harvest triggers a sale when selling is
// enabled; claimable tasks are collected when task automation is on.
func (w *Worker) runFarm(ctx context.Context) error {
	sess, cfg := w.current()
	if sess == nil || !cfg.Automation.Farm {
		return nil
	}

	rep, err := sess.CheckFarm(ctx)
	if err != nil {
		return fmt.Errorf("farm cycle: %w", err)
	}
	if rep.Harvested > 0 || rep.Planted > 0 {
		w.logger.Info(fmt.Sprintf("harvested %d, planted %d", rep.Harvested, rep.Planted),
			"tag", "farm", "module", "farm", "event", "farm_cycle", "result", "ok")
	}

	if rep.Harvested > 0 && cfg.Automation.Sell {
		w.sellAfterHarvest(ctx, sess)
	}
	if cfg.Automation.Task {
		w.claimTasks(ctx, sess)
	}
	return nil
}

// sellAfterHarvest sells fruit unless a sale is already running.
func (w *Worker) sellAfterHarvest(ctx context.Context, sess game.Session) {
	if !w.selling.CompareAndSwap(false, true) {
		return
	}
	defer w.selling.Store(false)

	res, err := game.SellFruits(ctx, sess, w.logger)
	if err != nil {
		w.logger.Warn("auto sell after harvest failed: "+err.Error(),
			"tag", "warehouse", "module", "warehouse", "event", "sell_after_harvest", "result", "error")
		return
	}
	w.recordSale(res)
}

func (w *Worker) recordSale(res game.SellResult) {
	if res.Gold <= 0 {
		return
	}
	w.mu.Lock()
	stats := w.stats
	w.mu.Unlock()
	if stats != nil {
		stats.RecordOperation("sell", 1)
	}
}

func (w *Worker) claimTasks(ctx context.Context, sess game.Session) {
	tasks, err := sess.Tasks(ctx)
	if err != nil {
		w.logger.Warn("list tasks failed: "+err.Error(), "tag", "task", "module", "task", "event", "list", "result", "error")
		return
	}
	for _, t := range tasks {
		if !t.Claimable || t.Claimed {
			continue
		}
		if _, err := sess.ClaimTask(ctx, t.ID); err != nil {
			w.logger.Warn(fmt.Sprintf("claim task %d failed: %v", t.ID, err),
				"tag", "task", "module", "task", "event", "claim", "result", "error")
			continue
		}
		w.logger.Info("claimed task: "+t.Desc, "tag", "task", "module", "task", "event", "claim", "result", "ok")
	}
}

// runFriend is one friend cycle, skipped during quiet hours.
func (w *Worker) runFriend(ctx context.Context) error {
	sess, cfg := w.current()
	if sess == nil || !cfg.Automation.Friend {
		return nil
	}
	if cfg.FriendQuietHours.Contains(w.nowFunc()) {
		w.logger.Debug("friend visits paused for quiet hours", "tag", "friend", "module", "friend", "event", "quiet_hours")
		return nil
	}

	rep, err := sess.CheckFriends(ctx)
	if err != nil {
		return fmt.Errorf("friend cycle: %w", err)
	}
	if rep.Stolen > 0 || rep.Helped > 0 {
		w.logger.Info(fmt.Sprintf("visited %d friends, stole %d, helped %d", rep.Visited, rep.Stolen, rep.Helped),
			"tag", "friend", "module", "friend", "event", "friend_cycle", "result", "ok")
	}
	return nil
}
