package supervisor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"croft/pkg/protocol"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// importedSuffix is appended to inbox files once processed.
const importedSuffix = ".imported"

// inboxFile is the YAML layout of an account import file. A file may hold a
// single account at the top level or a list under "accounts".
type inboxFile struct {
	protocol.Account `yaml:",inline"`

	Accounts []protocol.Account `yaml:"accounts"`
}

// ParseAccounts decodes an account import document.
func ParseAccounts(data []byte) ([]protocol.Account, error) {
	var f inboxFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode accounts: %w", err)
	}
	accounts := f.Accounts
	if f.Code != "" || f.Name != "" || f.ID != "" {
		accounts = append([]protocol.Account{f.Account}, accounts...)
	}
	if len(accounts) == 0 {
		return nil, errors.New("no accounts in document")
	}
	return accounts, nil
}

// watchInbox imports account files dropped into the inbox directory. It
// reacts to fsnotify events and rescans on a fallback ticker; if the watcher
// cannot be created it only polls.
func (s *Supervisor) watchInbox(ctx context.Context) error {
	if err := os.MkdirAll(s.cfg.InboxDir, 0o700); err != nil {
		return fmt.Errorf("create inbox %s: %w", s.cfg.InboxDir, err)
	}
	s.scanInbox(ctx)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.logger.Warn("inbox watcher unavailable, polling", "module", "inbox", "error", err)
		return s.pollInbox(ctx)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(s.cfg.InboxDir); err != nil {
		s.logger.Warn("watch inbox failed, polling", "module", "inbox", "error", err)
		return s.pollInbox(ctx)
	}

	fallback := time.NewTicker(s.cfg.InboxPoll)
	defer fallback.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-watcher.Events:
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) {
				s.scanInbox(ctx)
			}
		case err := <-watcher.Errors:
			if err != nil {
				s.logger.Warn("inbox watcher error", "module", "inbox", "error", err)
			}
		case <-fallback.C:
			s.scanInbox(ctx)
		}
	}
}

// pollInbox rescans the inbox on a ticker when fsnotify is unavailable.
func (s *Supervisor) pollInbox(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.InboxPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.scanInbox(ctx)
		}
	}
}

// scanInbox imports every *.yaml or *.yml file in the inbox and renames it
// with importedSuffix. Files that fail to parse are left in place and
// retried on the next scan.
func (s *Supervisor) scanInbox(ctx context.Context) {
	entries, err := os.ReadDir(s.cfg.InboxDir)
	if err != nil {
		s.logger.Warn("read inbox", "module", "inbox", "error", err)
		return
	}
	for _, e := range entries {
		name := e.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		path := filepath.Join(s.cfg.InboxDir, name)
		n, err := s.importFile(ctx, path)
		if err != nil {
			s.logger.Warn("import inbox file", "module", "inbox", "event", "import",
				"result", "error", "file", name, "error", err)
			continue
		}
		if err := os.Rename(path, path+importedSuffix); err != nil {
			s.logger.Error("mark inbox file imported", "module", "inbox", "file", name, "error", err)
		}
		s.logger.Info("inbox file imported", "module", "inbox", "event", "import",
			"result", "ok", "file", name, "accounts", n)
	}
}

func (s *Supervisor) importFile(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the inbox listing
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", path, err)
	}
	accounts, err := ParseAccounts(data)
	if err != nil {
		return 0, err
	}
	var errs []error
	n := 0
	for _, a := range accounts {
		if _, err := s.AddAccount(ctx, a); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	if n == 0 {
		return 0, errors.Join(errs...)
	}
	for _, err := range errs {
		s.logger.Warn("skip inbox account", "module", "inbox", "error", err)
	}
	return n, nil
}
