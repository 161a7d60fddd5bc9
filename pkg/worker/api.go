package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"croft/pkg/game"
	"croft/pkg/protocol"
)

// handleAPICall runs one correlated call and answers with API_RESPONSE.
func (w *Worker) handleAPICall(ctx context.Context, call protocol.APICallPayload) {
	resp := protocol.APIResponsePayload{ID: call.ID}
	result, err := w.dispatch(ctx, call)
	if err == nil {
		var data []byte
		data, err = json.Marshal(result)
		resp.Result = data
	}
	if err != nil {
		resp.Result = nil
		resp.Error = err.Error()
	}
	if sendErr := w.sendMessage(protocol.Message{Type: protocol.MsgAPIResponse, APIResponse: &resp}); sendErr != nil {
		w.logger.Warn("send api response: "+sendErr.Error(), "module", "api", "event", string(call.Method))
	}
}

func decodeArgs(call protocol.APICallPayload, v any) error {
	if len(call.Args) == 0 {
		return fmt.Errorf("%s: missing arguments", call.Method)
	}
	if err := json.Unmarshal(call.Args, v); err != nil {
		return fmt.Errorf("%s: decode arguments: %w", call.Method, err)
	}
	return nil
}

// PlantingStrategyResult answers getPlantingStrategy.
type PlantingStrategyResult struct {
	Strategy        protocol.PlantingStrategy `json:"strategy"`
	PreferredSeedID int64                     `json:"preferred_seed_id"`
}

// OKResult answers calls that return no data.
type OKResult struct {
	OK bool `json:"ok"`
}

// dispatch executes call against the session. Configuration reads are served
// from the local cache and work before login.
func (w *Worker) dispatch(ctx context.Context, call protocol.APICallPayload) (any, error) {
	sess, cfg := w.current()

	switch call.Method {
	case protocol.MethodGetIntervals:
		return cfg.Intervals, nil
	case protocol.MethodGetPlantingStrategy:
		return PlantingStrategyResult{Strategy: cfg.PlantingStrategy, PreferredSeedID: cfg.PreferredSeedID}, nil
	}

	if !call.Method.Valid() {
		return nil, fmt.Errorf("%w: %s", protocol.ErrUnknownMethod, call.Method)
	}
	if sess == nil {
		return nil, protocol.ErrNotLoggedIn
	}

	switch call.Method {
	case protocol.MethodGetLands:
		return sess.Lands(ctx)
	case protocol.MethodGetFriends:
		return sess.Friends(ctx)
	case protocol.MethodGetFriendLands:
		var a protocol.FriendLandsArgs
		if err := decodeArgs(call, &a); err != nil {
			return nil, err
		}
		return sess.FriendLands(ctx, a.GID)
	case protocol.MethodDoFriendOp:
		var a protocol.FriendOpArgs
		if err := decodeArgs(call, &a); err != nil {
			return nil, err
		}
		op, err := game.ParseFriendOp(a.Op)
		if err != nil {
			return nil, err
		}
		return sess.DoFriendOp(ctx, a.GID, op)
	case protocol.MethodGetSeeds:
		return sess.Seeds(ctx)
	case protocol.MethodGetTasks:
		return sess.Tasks(ctx)
	case protocol.MethodClaimTask:
		var a protocol.ClaimTaskArgs
		if err := decodeArgs(call, &a); err != nil {
			return nil, err
		}
		return sess.ClaimTask(ctx, a.TaskID)
	case protocol.MethodDoFarmOp:
		var a protocol.FarmOpArgs
		if err := decodeArgs(call, &a); err != nil {
			return nil, err
		}
		op, err := game.ParseFarmOp(a.Op)
		if err != nil {
			return nil, err
		}
		return sess.DoFarmOp(ctx, op)
	case protocol.MethodGetAnalytics:
		var a protocol.AnalyticsArgs
		if len(call.Args) > 0 {
			if err := decodeArgs(call, &a); err != nil {
				return nil, err
			}
		}
		by, err := game.ParseRankBy(a.SortBy)
		if err != nil {
			return nil, err
		}
		return sess.PlantRankings(by)
	case protocol.MethodDebugSellFruits:
		if !w.selling.CompareAndSwap(false, true) {
			return nil, fmt.Errorf("%s: a sale is already running", call.Method)
		}
		defer w.selling.Store(false)
		res, err := game.DebugSellFruits(ctx, sess, w.logger)
		w.recordSale(res)
		if err != nil {
			return nil, err
		}
		return res, nil
	case protocol.MethodReconnect:
		var a protocol.ReconnectArgs
		if len(call.Args) > 0 {
			if err := decodeArgs(call, &a); err != nil {
				return nil, err
			}
		}
		go func() {
			if err := sess.Reconnect(ctx, a.Code); err != nil {
				w.logger.Warn("reconnect failed: "+err.Error(), "module", "session", "event", "reconnect", "result", "error")
				return
			}
			w.logger.Info("reconnected", "module", "session", "event", "reconnect", "result", "ok")
		}()
		return OKResult{OK: true}, nil
	default:
		return nil, fmt.Errorf("%w: %s", protocol.ErrUnknownMethod, call.Method)
	}
}
