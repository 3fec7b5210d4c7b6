package migrate

import (
	"context"
	"testing"

	"campusworks/internal/db"
)

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()

	if v, err := Version(ctx, conn); err != nil || v != 0 {
		t.Fatalf("fresh db version = %d, %v", v, err)
	}
	latest, err := Latest()
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	for i := 0; i < 2; i++ {
		v, err := Migrate(ctx, conn)
		if err != nil {
			t.Fatalf("migrate run %d: %v", i, err)
		}
		if v != latest {
			t.Fatalf("expected version %d, got %d", latest, v)
		}
	}
	if v, _ := Version(ctx, conn); v != latest {
		t.Fatalf("stored version %d, want %d", v, latest)
	}
	var n int
	if err := conn.QueryRowContext(ctx, `SELECT count(*) FROM escrow_entries`).Scan(&n); err != nil {
		t.Fatalf("escrow_entries missing: %v", err)
	}
}
