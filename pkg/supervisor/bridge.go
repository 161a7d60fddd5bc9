package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"croft/pkg/protocol"
)

// callResult is the single outcome delivered to a pending call.
type callResult struct {
	result json.RawMessage
	err    error
}

// pendingCall is an API call awaiting its response. ch has capacity 1 and
// receives exactly one value, sent by whoever removed the call from the
// pending table.
type pendingCall struct {
	method protocol.Method
	ch     chan callResult
}

// Call invokes method on the worker for accountID and waits for its
// response. It fails with *protocol.WorkerUnreachableError, without sending
// anything, when no worker is registered; with *protocol.CallTimeoutError
// after CallTimeout; with *protocol.WorkerExitedError if the worker exits
// first; and with *protocol.RemoteError when the worker reports an error.
// args may be nil.
func (s *Supervisor) Call(ctx context.Context, accountID string, method protocol.Method, args any) (json.RawMessage, error) {
	s.mu.Lock()
	w, ok := s.workers[accountID]
	if !ok || w.pending == nil {
		s.mu.Unlock()
		return nil, &protocol.WorkerUnreachableError{AccountID: accountID}
	}
	w.nextID++
	id := w.nextID
	ch := make(chan callResult, 1)
	w.pending[id] = pendingCall{method: method, ch: ch}
	s.mu.Unlock()

	msg, err := protocol.NewAPICall(id, method, args)
	if err != nil {
		s.dropPending(w, id)
		return nil, err
	}
	if err := w.send(msg); err != nil {
		if s.dropPending(w, id) {
			return nil, fmt.Errorf("call %s: %w", method, err)
		}
		res := <-ch
		return res.result, res.err
	}

	timer := time.NewTimer(s.cfg.CallTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res.result, res.err
	case <-timer.C:
		if s.dropPending(w, id) {
			s.logger.Warn("api call timed out", "module", "bridge", "event", string(method),
				"result", "timeout", "account", accountID, "id", id)
			return nil, &protocol.CallTimeoutError{
				AccountID: accountID, Method: method, ID: id, After: s.cfg.CallTimeout,
			}
		}
	case <-ctx.Done():
		if s.dropPending(w, id) {
			return nil, fmt.Errorf("call %s: %w", method, ctx.Err())
		}
	}
	// Resolved concurrently with the timeout; the outcome is already queued.
	res := <-ch
	return res.result, res.err
}

// CallInto is Call followed by decoding the result into out.
func (s *Supervisor) CallInto(ctx context.Context, accountID string, method protocol.Method, args, out any) error {
	raw, err := s.Call(ctx, accountID, method, args)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

// dropPending removes call id from w's pending table. It reports whether the
// call was still pending, in which case the caller owns its outcome.
func (s *Supervisor) dropPending(w *trackedWorker, id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := w.pending[id]; !ok {
		return false
	}
	delete(w.pending, id)
	return true
}

// resolve delivers an API_RESPONSE to its pending call. Responses for ids
// that are no longer pending are dropped.
func (s *Supervisor) resolve(w *trackedWorker, resp protocol.APIResponsePayload) {
	s.mu.Lock()
	pc, ok := w.pending[resp.ID]
	if ok {
		delete(w.pending, resp.ID)
	}
	s.mu.Unlock()

	if !ok {
		s.logger.Debug("unmatched api response", "module", "bridge",
			"account", w.account.ID, "id", resp.ID)
		return
	}
	if resp.Error != "" {
		pc.ch <- callResult{err: &protocol.RemoteError{
			AccountID: w.account.ID, Method: pc.method, Message: resp.Error,
		}}
		return
	}
	pc.ch <- callResult{result: resp.Result}
}
