package backend

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"counters/internal/config"
	"counters/internal/core"
	"counters/internal/store"
)

func TestBackendType_IsValid(t *testing.T) {
	for _, bt := range GetBackendTypes() {
		if !bt.IsValid() {
			t.Errorf("%s should be valid", bt)
		}
	}
	if BackendType("sheets").IsValid() {
		t.Error("sheets is not a category store")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{"memory", Config{Type: MemoryBackend}, ""},
		{"sqlite without path", Config{Type: SQLiteBackend}, "SQLite database path is required"},
		{"postgrest without key", Config{Type: PostgRESTBackend, SupabaseURL: "https://x.supabase.co"}, "anon key"},
		{"amqp without exchange", Config{Type: MemoryBackend, AMQPURL: "amqp://localhost"}, "AMQP exchange"},
		{"unknown", Config{Type: "redis"}, "invalid backend type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestFromAppConfig(t *testing.T) {
	app := &config.Config{
		DataBackend:      "postgrest",
		SupabaseURL:      "https://x.supabase.co",
		SupabaseAnonKey:  "anon",
		SupabaseRealtime: true,
		StoreTimeout:     5 * time.Second,
		AMQPURL:          "amqp://localhost",
		AMQPExchange:     "counters",
		AMQPQueue:        "counters_mirror",
		Timezone:         "UTC",
	}

	cfg, err := FromAppConfig(app, "web-1", "")
	if err != nil {
		t.Fatalf("FromAppConfig: %v", err)
	}
	if cfg.Type != PostgRESTBackend || cfg.AMQPQueue != "" || cfg.Origin != "web-1" || cfg.Location != time.UTC {
		t.Fatalf("unexpected config %+v", cfg)
	}

	if _, err := FromAppConfig(nil, "", ""); err == nil {
		t.Fatal("expected error for nil config")
	}
	if _, err := FromAppConfig(&config.Config{DataBackend: "sheets"}, "", ""); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func waitForChange(t *testing.T, ch <-chan store.Change) store.Change {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no change published")
		return store.Change{}
	}
}

func TestCreateBackend_MemoryPublishesChanges(t *testing.T) {
	seed := filepath.Join(t.TempDir(), "categories.txt")
	if err := os.WriteFile(seed, []byte("# seed\nCoffee\nTea\nCoffee\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	result, err := NewFactory(nil).CreateBackend(context.Background(), Config{
		Type:           MemoryBackend,
		MemorySeedFile: seed,
		Origin:         "test",
		Location:       time.UTC,
	})
	if err != nil {
		t.Fatalf("CreateBackend: %v", err)
	}
	defer result.Cleanup()

	list, err := result.Service.ListCategories(context.Background())
	if err != nil || len(list) != 2 {
		t.Fatalf("expected 2 seeded categories, got %d (%v)", len(list), err)
	}

	changes := make(chan store.Change, 4)
	sub := result.Feed().OnChange(func(c store.Change) { changes <- c })
	defer sub.Unsubscribe()

	created, err := result.Service.InsertCategory(context.Background(),
		core.NewCategoryNamed("Water", time.Now(), time.UTC))
	if err != nil {
		t.Fatalf("InsertCategory: %v", err)
	}
	got := waitForChange(t, changes)
	if got.Kind != store.ChangeInsert || got.ID != created.ID || got.Origin != "test" {
		t.Fatalf("unexpected change %+v", got)
	}

	if err := result.Run(context.Background()); err != nil {
		t.Fatalf("Run without realtime or AMQP should return nil, got %v", err)
	}
	if result.Service.Adjuster() == nil {
		t.Fatal("memory store supports atomic adjustments")
	}
}

func TestCreateBackend_SQLite(t *testing.T) {
	result, err := NewFactory(nil).CreateBackend(context.Background(), Config{
		Type:         SQLiteBackend,
		SQLiteDBPath: filepath.Join(t.TempDir(), "counters.db"),
	})
	if err != nil {
		t.Fatalf("CreateBackend: %v", err)
	}
	if err := result.Service.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if err := result.Cleanup(); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
}

func TestCreateBackend_PostgRESTWithRealtime(t *testing.T) {
	result, err := NewFactory(nil).CreateBackend(context.Background(), Config{
		Type:             PostgRESTBackend,
		SupabaseURL:      "https://x.supabase.co",
		SupabaseAnonKey:  "anon",
		SupabaseRealtime: true,
	})
	if err != nil {
		t.Fatalf("CreateBackend: %v", err)
	}
	defer result.Cleanup()
	if result.Realtime == nil || result.AMQP != nil {
		t.Fatalf("unexpected wiring realtime=%v amqp=%v", result.Realtime, result.AMQP)
	}
}
