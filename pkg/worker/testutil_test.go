package worker_test

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"croft/pkg/game"
	"croft/pkg/game/sim"
	"croft/pkg/protocol"
	"croft/pkg/worker"
)

// waitFor polls condition every tick until it returns true or timeout expires.
func waitFor(t *testing.T, condition func() bool, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond) // short poll inside helper is OK
	}
	t.Fatalf("waitFor: condition not met within %v", timeout)
}

func fastConfig() worker.Config {
	cfg := worker.DefaultConfig()
	cfg.PollInterval = 10 * time.Millisecond
	cfg.StatusInterval = 20 * time.Millisecond
	cfg.StatusCeiling = 100 * time.Millisecond
	cfg.KickStopDelay = 20 * time.Millisecond
	return cfg
}

// harness runs a Worker over two pipes, standing in for the supervisor.
type harness struct {
	t        *testing.T
	w        *worker.Worker
	toWorker *io.PipeWriter
	msgs     chan protocol.Message
	done     chan error
	sessions chan *sim.Session
}

func startWorker(t *testing.T) *harness {
	t.Helper()
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	h := &harness{
		t:        t,
		toWorker: inW,
		msgs:     make(chan protocol.Message, 4096),
		done:     make(chan error, 1),
		sessions: make(chan *sim.Session, 1),
	}
	factory := func(start protocol.StartPayload, stats *game.Stats, logger *slog.Logger) (game.Session, error) {
		s := sim.NewSession(start, stats, logger, sim.Options{})
		h.sessions <- s
		return s, nil
	}
	h.w = worker.New(inR, outW, factory, worker.WithStderr(io.Discard), worker.WithConfig(fastConfig()))

	go func() {
		sc := bufio.NewScanner(outR)
		sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for sc.Scan() {
			var m protocol.Message
			if err := json.Unmarshal(sc.Bytes(), &m); err == nil {
				h.msgs <- m
			}
		}
		close(h.msgs)
	}()
	go func() {
		h.done <- h.w.Run(context.Background())
		_ = outW.Close()
	}()

	t.Cleanup(func() {
		_ = inW.Close()
		select {
		case <-h.done:
		case <-time.After(5 * time.Second):
			t.Error("worker did not exit on cleanup")
		}
	})
	return h
}

func (h *harness) send(msg protocol.Message) {
	h.t.Helper()
	data, err := protocol.Encode(msg)
	if err != nil {
		h.t.Fatalf("encode: %v", err)
	}
	if _, err := h.toWorker.Write(data); err != nil {
		h.t.Fatalf("write to worker: %v", err)
	}
}

func (h *harness) start(id string) *sim.Session {
	h.t.Helper()
	h.send(protocol.Message{Type: protocol.MsgStart, Start: &protocol.StartPayload{
		AccountID: id, Name: "name-" + id, Credential: "code", Platform: "qq",
	}})
	select {
	case s := <-h.sessions:
		return s
	case <-time.After(2 * time.Second):
		h.t.Fatal("session was not opened")
		return nil
	}
}

// expect returns the first message of type typ satisfying match.
func (h *harness) expect(typ protocol.MessageType, match func(protocol.Message) bool, timeout time.Duration) protocol.Message {
	h.t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case m, ok := <-h.msgs:
			if !ok {
				h.t.Fatalf("channel closed waiting for %s", typ)
			}
			if m.Type == typ && (match == nil || match(m)) {
				return m
			}
		case <-deadline:
			h.t.Fatalf("no %s message within %v", typ, timeout)
		}
	}
}

// waitExit returns Run's result, failing the test if it does not return
// within timeout.
func (h *harness) waitExit(timeout time.Duration) error {
	h.t.Helper()
	select {
	case err := <-h.done:
		h.done <- err // keep it for cleanup
		return err
	case <-time.After(timeout):
		h.t.Fatalf("worker did not exit within %v", timeout)
		return nil
	}
}
