package game

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// SellBatchSize is the maximum number of stacks per sell request.
const SellBatchSize = 15

// Item ids the server uses for gold.
const (
	goldItemID       = 1
	goldItemIDLegacy = 1001
)

var (
	// batchPause separates consecutive sell requests.
	batchPause = 300 * time.Millisecond
	// goldSettleTimeout bounds the wait for the server's gold notification.
	goldSettleTimeout = 2 * time.Second
	goldSettlePoll    = 200 * time.Millisecond
)

// SellResult summarizes a sell run.
type SellResult struct {
	Sold []Item `json:"sold"`
	Gold int64  `json:"gold"`
}

// GoldFromItems returns the count of the first positive gold entry in items.
func GoldFromItems(items []Item) int64 {
	for _, it := range items {
		if (it.ID == goldItemID || it.ID == goldItemIDLegacy) && it.Count > 0 {
			return it.Count
		}
	}
	return 0
}

// DeriveGoldGain infers the gold gained from one sell reply. lastKnown is the
// player's gold total before the request. It returns the gain and the total
// to use as lastKnown for the next request.
//
// The result is an estimate: GetItems is trusted as the gain; otherwise a
// value at or above a positive lastKnown is read as the new total, and
// anything else as the gain itself.
func DeriveGoldGain(reply SellReply, lastKnown int64) (gain, nextKnown int64) {
	if g := GoldFromItems(reply.GetItems); g > 0 {
		return g, lastKnown
	}

	items := reply.Items
	if len(items) == 0 {
		items = reply.SellItems
	}
	v := GoldFromItems(items)
	if v <= 0 {
		return 0, lastKnown
	}
	if lastKnown > 0 && v >= lastKnown {
		return v - lastKnown, v
	}
	return v, lastKnown
}

// sellable splits bag into fruit stacks that can be sold. Fruit without a
// UID is logged and skipped.
func sellable(bag []Item, logger *slog.Logger) []Item {
	var out []Item
	for _, it := range bag {
		if !it.Fruit || it.Count <= 0 {
			continue
		}
		if it.UID == 0 {
			logger.Warn(fmt.Sprintf("skipping item %d x%d without uid", it.ID, it.Count),
				"tag", "warehouse", "module", "warehouse", "event", "sell_skip_invalid", "result", "skip")
			continue
		}
		out = append(out, it)
	}
	return out
}

func describe(items []Item) string {
	parts := make([]string, 0, len(items))
	for _, it := range items {
		name := it.Name
		if name == "" {
			name = fmt.Sprintf("#%d", it.ID)
		}
		parts = append(parts, fmt.Sprintf("%sx%d", name, it.Count))
	}
	return strings.Join(parts, ", ")
}

func pause(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("sell: %w", ctx.Err())
	case <-t.C:
		return nil
	}
}

// SellFruits sells every fruit stack in the warehouse. A failed batch is
// retried one stack at a time and unsellable stacks are skipped. The gold
// gained is the largest of the reply-derived sum, the observed change in the
// player's total, and the change in the warehouse gold entry.
func SellFruits(ctx context.Context, s Session, logger *slog.Logger) (SellResult, error) {
	bag, err := s.Bag(ctx)
	if err != nil {
		return SellResult{}, fmt.Errorf("read warehouse: %w", err)
	}
	toSell := sellable(bag, logger)
	if len(toSell) == 0 {
		logger.Info("no fruit to sell", "tag", "warehouse", "module", "warehouse", "event", "sell_none")
		return SellResult{}, nil
	}

	goldBefore := s.User().Gold
	known := goldBefore
	var fromReplies int64

	sell := func(items []Item) error {
		reply, err := s.SellItems(ctx, items)
		if err != nil {
			return err
		}
		gain, next := DeriveGoldGain(reply, known)
		known = next
		fromReplies += max(gain, 0)
		return nil
	}

	for i := 0; i < len(toSell); i += SellBatchSize {
		batch := toSell[i:min(i+SellBatchSize, len(toSell))]
		if err := sell(batch); err != nil {
			logger.Warn("batch sell failed, retrying one by one: "+err.Error(), "tag", "warehouse", "module", "warehouse")
			for _, it := range batch {
				if err := sell([]Item{it}); err != nil {
					logger.Warn(fmt.Sprintf("skipping unsellable item %d x%d: %v", it.ID, it.Count, err),
						"tag", "warehouse", "module", "warehouse", "event", "sell_skip_invalid", "result", "skip")
				}
			}
		}
		if i+SellBatchSize < len(toSell) {
			if err := pause(ctx, batchPause); err != nil {
				return SellResult{}, err
			}
		}
	}

	observed := max(waitGoldChange(ctx, s, goldBefore)-goldBefore, 0)

	var fromBag int64
	if observed <= 0 && fromReplies <= 0 {
		if after, err := s.Bag(ctx); err == nil {
			if g := GoldFromItems(after); g > goldBefore {
				fromBag = g - goldBefore
			}
		}
	}

	total := max(fromReplies, observed, fromBag)
	res := SellResult{Sold: toSell, Gold: total}
	if total > 0 {
		logger.Info(fmt.Sprintf("sold %s for %d gold", describe(toSell), total),
			"tag", "warehouse", "module", "warehouse", "event", "sell_success", "result", "ok")
	} else {
		logger.Warn(fmt.Sprintf("sold %s, gold gain not yet visible", describe(toSell)),
			"tag", "warehouse", "module", "warehouse", "event", "sell_gain_pending", "result", "warn")
	}
	return res, nil
}

// waitGoldChange polls the player's gold until it differs from before or
// goldSettleTimeout passes, and returns the last value seen.
func waitGoldChange(ctx context.Context, s Session, before int64) int64 {
	deadline := time.Now().Add(goldSettleTimeout)
	for {
		if g := s.User().Gold; g != before {
			return g
		}
		if !time.Now().Before(deadline) {
			return before
		}
		if pause(ctx, goldSettlePoll) != nil {
			return before
		}
	}
}

// DebugSellFruits logs the full warehouse and sells all fruit, reporting the
// gold of each batch. Unlike SellFruits a failed batch aborts the run.
func DebugSellFruits(ctx context.Context, s Session, logger *slog.Logger) (SellResult, error) {
	bag, err := s.Bag(ctx)
	if err != nil {
		return SellResult{}, fmt.Errorf("read warehouse: %w", err)
	}
	logger.Info(fmt.Sprintf("warehouse holds %d kinds of item", len(bag)), "tag", "warehouse")
	for _, it := range bag {
		kind := "item"
		if it.Fruit {
			kind = "fruit"
		}
		logger.Info(fmt.Sprintf("  [%s] %s(%d) x%d uid=%d", kind, it.Name, it.ID, it.Count, it.UID), "tag", "warehouse")
	}

	toSell := sellable(bag, logger)
	if len(toSell) == 0 {
		logger.Info("no fruit to sell", "tag", "warehouse")
		return SellResult{}, nil
	}

	known := s.User().Gold
	var total int64
	for i := 0; i < len(toSell); i += SellBatchSize {
		batch := toSell[i:min(i+SellBatchSize, len(toSell))]
		reply, err := s.SellItems(ctx, batch)
		if err != nil {
			return SellResult{Sold: toSell[:i], Gold: total}, fmt.Errorf("sell batch %d: %w", i/SellBatchSize+1, err)
		}
		gain, next := DeriveGoldGain(reply, known)
		known = next
		gain = max(gain, 0)
		total += gain
		logger.Info(fmt.Sprintf("  batch %d: %d gold", i/SellBatchSize+1, gain), "tag", "warehouse")
		if i+SellBatchSize < len(toSell) {
			if err := pause(ctx, batchPause); err != nil {
				return SellResult{Sold: toSell[:i+len(batch)], Gold: total}, err
			}
		}
	}
	logger.Info(fmt.Sprintf("sold %s for %d gold", describe(toSell), total), "tag", "warehouse")
	return SellResult{Sold: toSell, Gold: total}, nil
}
