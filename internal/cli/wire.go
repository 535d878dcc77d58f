package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/nlmcp/nlmcp/internal/accounts"
	"github.com/nlmcp/nlmcp/internal/authstate"
	"github.com/nlmcp/nlmcp/internal/autologin"
	"github.com/nlmcp/nlmcp/internal/browser"
	"github.com/nlmcp/nlmcp/internal/config"
	"github.com/nlmcp/nlmcp/internal/session"
	"github.com/nlmcp/nlmcp/internal/vault"
)

type app struct {
	cfg      *config.Config
	log      zerolog.Logger
	store    *accounts.Store
	browsers *browser.Manager
	registry *session.Registry
	engine   *autologin.Engine
}

func wireApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	log := newLogger(cfg.Debug)

	v := vault.New(cfg.EncryptionKey, cfg.KeyFilePath(), log)
	store := accounts.NewStore(cfg.DataDir, v, log)
	if err := store.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize account store: %w", err)
	}

	browsers := browser.NewManager(cfg.Headless, cfg.Debug, log)

	gate := &authGate{
		def:   authstate.NewManager(cfg.BrowserStateDir(), log),
		store: store,
		log:   log,
	}

	registry := session.NewRegistry(cfg, browsers, gate, log)
	registry.SetUsageRecorder(store)

	return &app{
		cfg:      cfg,
		log:      log,
		store:    store,
		browsers: browsers,
		registry: registry,
		engine:   autologin.NewEngine(store, browsers, log),
	}, nil
}

func newLogger(debug bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	// MCP owns stdout, so all logging goes to stderr.
	w := zerolog.ConsoleWriter{Out: os.Stderr}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// authGate answers "is anybody logged in": the shared browser state first,
// then every account's saved state.
type authGate struct {
	def   *authstate.Manager
	store *accounts.Store
	log   zerolog.Logger
}

func (g *authGate) ValidStatePath() string {
	if p := g.def.ValidStatePath(); p != "" {
		return p
	}
	for _, acct := range g.store.ListAccounts() {
		m := authstate.NewManager(filepath.Dir(acct.StateFilePath), g.log)
		if p := m.ValidStatePath(); p != "" {
			return p
		}
	}
	return ""
}
