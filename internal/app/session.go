package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"campusworks/internal/config"
	"campusworks/internal/db"
	"campusworks/internal/engine"
	"campusworks/internal/metrics"
	"campusworks/internal/migrate"
)

const defaultActorID = "local-user"

// Options configure a Session. Zero values fall back to the workspace
// defaults.
type Options struct {
	Workspace  string
	ConfigPath string
	ActorID    string
	Logger     *log.Logger
	Metrics    *metrics.Metrics
}

// Session is the explicit process context commands run in: an open
// workspace database, its configuration, the acting principal and an engine
// wired to all of them. Close releases the database.
type Session struct {
	Workspace string
	ActorID   string
	DB        *sql.DB
	Config    *config.Config
	Engine    engine.Engine
	Log       *log.Logger
	Metrics   *metrics.Metrics
}

var ErrSessionClosed = errors.New("session closed")

// Open prepares the workspace, migrates its database and loads configuration.
func Open(ctx context.Context, opts Options) (*Session, error) {
	workspace := opts.Workspace
	if workspace == "" {
		workspace = "."
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	cfg, err := loadConfig(workspace, opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	version, err := migrate.Migrate(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate %s: %w", db.Path(workspace), err)
	}
	logger.Debug("session opened", "workspace", workspace, "schema_version", version)

	actorID := strings.TrimSpace(opts.ActorID)
	if actorID == "" {
		actorID = defaultActorID
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}
	e := engine.New(conn, cfg)
	e.Log = logger
	e.Metrics = m
	if err := e.RefreshProjectGauge(ctx); err != nil {
		logger.Warn("project gauge not refreshed", "err", err)
	}
	return &Session{
		Workspace: workspace,
		ActorID:   actorID,
		DB:        conn,
		Config:    cfg,
		Engine:    e,
		Log:       logger,
		Metrics:   m,
	}, nil
}

func loadConfig(workspace, path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.FromFile(path)
		if err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
		return cfg, nil
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", config.Path(workspace), err)
	}
	return cfg, nil
}

// Close tears the session down. Calling it twice returns ErrSessionClosed.
func (s *Session) Close() error {
	if s == nil || s.DB == nil {
		return ErrSessionClosed
	}
	err := s.DB.Close()
	s.DB = nil
	s.Log.Debug("session closed", "workspace", s.Workspace)
	return err
}

// NewLogger builds the console logger used by the CLI and server.
func NewLogger(w io.Writer, level string) (*log.Logger, error) {
	if strings.TrimSpace(level) == "" {
		level = "info"
	}
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}
	if w == nil {
		w = io.Discard
	}
	return log.NewWithOptions(w, log.Options{
		Level:           lvl,
		Prefix:          "cw",
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Formatter:       log.TextFormatter,
	}), nil
}
