package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"signoff/internal/config"
	"signoff/internal/db"
	"signoff/internal/engine"
	"signoff/internal/identity"
	"signoff/internal/migrate"
	"signoff/internal/notify"
	"signoff/internal/policy"
	"signoff/internal/query"
	"signoff/internal/repo"
)

// Context holds everything a command or the server needs to act on requests.
type Context struct {
	Config    *config.Config
	Directory *identity.Directory
	Engine    engine.Engine
	Logger    zerolog.Logger

	dispatcher *notify.Dispatcher
	conn       *sql.DB
	closers    []func() error
}

// Open builds the store, chain policy, notifier and engine described by cfg.
// Storage lives under workspace unless cfg names a DSN.
func Open(ctx context.Context, workspace string, cfg *config.Config, log zerolog.Logger) (*Context, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	cooldown, err := cfg.ReminderCooldown()
	if err != nil {
		return nil, err
	}
	c := &Context{
		Config:    cfg,
		Directory: identity.NewDirectory(cfg.Directory.People, cfg.Directory.Departments),
		Logger:    log,
	}
	store, err := c.openStore(ctx, workspace)
	if err != nil {
		return nil, err
	}
	sink, err := c.openSink()
	if err != nil {
		c.Close()
		return nil, err
	}
	c.dispatcher = notify.NewDispatcher(sink, log, cfg.NotifyTimeout())
	c.Engine = engine.Engine{
		Store:    store,
		Policy:   policy.FromConfig(cfg, c.Directory),
		Notifier: c.dispatcher,
		Cooldown: notify.NewCooldown(cooldown),
		Views:    query.Selector{AllRoles: cfg.Views.AllRoles},
	}
	return c, nil
}

func (c *Context) openStore(ctx context.Context, workspace string) (repo.Store, error) {
	driver := strings.ToLower(strings.TrimSpace(c.Config.Storage.Driver))
	if driver == "memory" {
		c.Logger.Warn().Msg("storage: in-memory store, requests are lost on exit")
		return repo.NewMemoryStore(), nil
	}
	conn, dialect, err := db.Open(db.Config{Workspace: workspace, Driver: driver, DSN: c.Config.Storage.DSN})
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("connect storage: %w", err)
	}
	if err := migrate.Migrate(ctx, conn, dialect); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	c.conn = conn
	c.Logger.Debug().Str("dialect", string(dialect)).Msg("storage: ready")
	return repo.Repo{DB: conn, Dialect: dialect}, nil
}

func (c *Context) openSink() (notify.Notifier, error) {
	n := c.Config.Notifications
	switch strings.ToLower(strings.TrimSpace(n.Sink)) {
	case "", "log":
		return notify.Log{Logger: c.Logger}, nil
	case "none":
		return notify.Nop{}, nil
	case "webhook":
		return notify.NewWebhook(n.Webhook.URL, n.Webhook.Secret, c.Config.NotifyTimeout()), nil
	case "nats":
		nc, err := notify.NewNATS(n.NATS.URL, n.NATS.Subject, c.Config.NotifyTimeout())
		if err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		c.closers = append(c.closers, nc.Close)
		return nc, nil
	default:
		return nil, fmt.Errorf("unsupported notification sink %q", n.Sink)
	}
}

// Close waits for in-flight notifications, then releases connections.
func (c *Context) Close() error {
	if c.dispatcher != nil {
		c.dispatcher.Wait()
	}
	var errs []error
	for _, fn := range c.closers {
		errs = append(errs, fn())
	}
	if c.conn != nil {
		errs = append(errs, c.conn.Close())
	}
	return errors.Join(errs...)
}
