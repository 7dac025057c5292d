// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package plugin

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/lollipopman/vlock/internal/config"
	"github.com/lollipopman/vlock/internal/log"
)

func init() {
	Register(auditPlugin())
}

// auditTrail records lock events into a local SQLite database. It is
// strictly best-effort: any database problem disables the plugin for the
// session rather than interfering with the lock.
type auditTrail struct {
	db       *sql.DB
	session  string
	disabled bool
}

// auditPlugin keeps a trail of lock, attempt, failed-attempt and unlock
// events. Not loaded unless named in the configuration or on the command
// line.
func auditPlugin() *Plugin {
	a := &auditTrail{}
	return &Plugin{
		Name: "audit",
		Hooks: map[string]func(*HookContext) error{
			HookStart:     a.start,
			HookSave:      func(ctx *HookContext) error { return a.record(ctx, "attempt") },
			HookSaveAbort: func(ctx *HookContext) error { return a.record(ctx, "failed") },
			HookEnd:       a.end,
		},
	}
}

func (a *auditTrail) start(ctx *HookContext) error {
	path, err := auditPath(ctx.Config)
	if err != nil {
		a.disable(ctx, err)
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		a.disable(ctx, err)
		return nil
	}

	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		a.disable(ctx, err)
		return nil
	}
	db.SetMaxOpenConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session TEXT NOT NULL,
		event TEXT NOT NULL,
		at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_session ON events(session);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		a.disable(ctx, fmt.Errorf("creating schema: %w", err))
		return nil
	}

	a.db = db
	a.session = uuid.NewString()
	return a.record(ctx, "lock")
}

func (a *auditTrail) end(ctx *HookContext) error {
	err := a.record(ctx, "unlock")
	if a.db != nil {
		a.db.Close()
		a.db = nil
	}
	return err
}

// record inserts one event row. Errors disable the trail; they are never
// allowed to abort the lock.
func (a *auditTrail) record(ctx *HookContext, event string) error {
	if a.disabled || a.db == nil {
		return nil
	}
	_, err := a.db.Exec(
		"INSERT INTO events (session, event, at) VALUES (?, ?, ?)",
		a.session, event, time.Now().UTC(),
	)
	if err != nil {
		a.disable(ctx, err)
	} else {
		ctx.Logger.Debug("recorded audit event", log.EventKey, event)
	}
	return nil
}

func (a *auditTrail) disable(ctx *HookContext, err error) {
	ctx.Logger.Warn("disabling audit trail", log.Error(err))
	a.disabled = true
}

// auditPath picks the database location: the configured path, or
// audit.db under the state directory.
func auditPath(cfg *config.Config) (string, error) {
	if cfg != nil && cfg.AuditPath != "" {
		return cfg.AuditPath, nil
	}
	dir, err := config.StateDir()
	if err != nil {
		return "", fmt.Errorf("resolving state directory: %w", err)
	}
	return filepath.Join(dir, "audit.db"), nil
}
