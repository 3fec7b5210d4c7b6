package app

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"campusworks/internal/config"
	"campusworks/internal/engine"
)

func TestSessionLifecycle(t *testing.T) {
	ws := t.TempDir()
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, "debug")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	ctx := context.Background()
	s, err := Open(ctx, Options{Workspace: ws, Logger: logger})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if s.ActorID != defaultActorID {
		t.Fatalf("expected default actor, got %s", s.ActorID)
	}
	state, err := s.Engine.CreateProject(ctx, engine.CreateProjectOptions{ID: "p1", Title: "Menu redesign", Budget: decimal.NewFromInt(80), ActorID: s.ActorID})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(state.Project.Plan) != 2 {
		t.Fatalf("expected default two milestone plan, got %+v", state.Project.Plan)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Close(); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
	if !bytes.Contains(buf.Bytes(), []byte("project created")) {
		t.Fatalf("expected engine log output, got %q", buf.String())
	}

	s, err = Open(ctx, Options{Workspace: ws, ActorID: "biz"})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	if _, err := s.Engine.GetProjectState(ctx, "p1", ""); err != nil {
		t.Fatalf("project lost across sessions: %v", err)
	}
}

func TestSessionConfigOverride(t *testing.T) {
	ws := t.TempDir()
	path := filepath.Join(t.TempDir(), "alt.yml")
	if err := os.WriteFile(path, []byte("escrow:\n  default_schedule: staged\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := Open(context.Background(), Options{Workspace: ws, ConfigPath: path})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	if s.Config.Escrow.DefaultSchedule != "staged" {
		t.Fatalf("override ignored: %s", s.Config.Escrow.DefaultSchedule)
	}

	if err := os.WriteFile(config.Path(ws), []byte("escrow:\n  scale: -1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(context.Background(), Options{Workspace: ws}); err == nil {
		t.Fatalf("expected invalid workspace config to fail")
	}
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	if _, err := NewLogger(nil, "loud"); err == nil {
		t.Fatalf("expected error")
	}
}
