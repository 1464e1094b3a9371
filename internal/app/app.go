// Package app resolves runtime wiring: config, the configured store
// backend, and the engine on top of them.
package app

import (
	"database/sql"
	"fmt"
	"os"

	"waveline/internal/config"
	"waveline/internal/db"
	"waveline/internal/engine"
	"waveline/internal/events"
	"waveline/internal/migrate"
	"waveline/internal/repo"
	"waveline/internal/store"
	ghstore "waveline/internal/store/github"
)

// Context is the resolved runtime for one workspace.
type Context struct {
	Config *config.Config
	// DB is the workspace sqlite handle; it backs the bundled tracker
	// and the audit event log, and is open for both backends.
	DB     *sql.DB
	Store  store.Client
	Engine *engine.Engine
}

// Resolve loads config from the workspace and wires the configured
// backend. The audit log always lives in the workspace sqlite, even
// when the tracker itself is GitHub.
func Resolve(workspace string) (*Context, error) {
	cfg, err := config.Load(workspace)
	if err != nil {
		return nil, err
	}
	return ResolveWith(cfg)
}

// ResolveWith wires a runtime from an already-loaded config.
func ResolveWith(cfg *config.Config) (*Context, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: cfg.Store.Workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	var st store.Client
	switch cfg.Store.Backend {
	case "github":
		tokenEnv := cfg.Store.GitHub.TokenEnv
		if tokenEnv == "" {
			tokenEnv = "WAVELINE_GITHUB_TOKEN"
		}
		token := os.Getenv(tokenEnv)
		if token == "" {
			conn.Close()
			return nil, fmt.Errorf("github backend needs a token in $%s", tokenEnv)
		}
		st = ghstore.NewClient(token, cfg.Store.GitHub.Owner, cfg.Store.GitHub.Repo)
	default:
		st = repo.Repo{DB: conn}
	}

	eng := engine.New(st, events.Writer{DB: conn}, cfg)
	return &Context{Config: cfg, DB: conn, Store: st, Engine: eng}, nil
}

// Close releases the workspace database handle.
func (c *Context) Close() error {
	if c.DB != nil {
		return c.DB.Close()
	}
	return nil
}
