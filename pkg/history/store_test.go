package history

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/jg-phare/mcphub/pkg/types"
)

func openStores(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()

	jsonl, err := NewJSONLStore(filepath.Join(dir, "logs", "history.jsonl"))
	if err != nil {
		t.Fatalf("NewJSONLStore: %v", err)
	}
	sqlite, err := NewSQLiteStore(filepath.Join(dir, "history.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() {
		jsonl.Close()
		sqlite.Close()
	})
	return map[string]Store{"jsonl": jsonl, "sqlite": sqlite}
}

func TestStores_AppendLoadClear(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			e1 := entry("a", "fs", "read_file", "s1", true)
			e1.Call.Arguments = map[string]any{"path": "/tmp/x"}
			e1.Result.Content = []types.ContentItem{types.TextContent("hello")}
			e2 := entry("b", "web", "fetch", "", false)
			e2.Result.Error = "boom"

			for _, e := range []types.ExecutionHistoryEntry{e1, e2} {
				if err := s.Append(ctx, e); err != nil {
					t.Fatalf("Append: %v", err)
				}
			}

			got, err := s.Load(ctx)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
				t.Fatalf("Load order: %s", ids(got))
			}
			if got[0].Call.Arguments["path"] != "/tmp/x" || got[0].Result.Text() != "hello" {
				t.Errorf("entry detail lost: %+v", got[0])
			}
			if got[1].Result.Success || got[1].Result.Error != "boom" {
				t.Errorf("failure lost: %+v", got[1].Result)
			}
			if got[0].Result.ExecutionTime != e1.Result.ExecutionTime {
				t.Errorf("execution time = %s", got[0].Result.ExecutionTime)
			}

			if err := s.Clear(ctx); err != nil {
				t.Fatalf("Clear: %v", err)
			}
			got, _ = s.Load(ctx)
			if len(got) != 0 {
				t.Errorf("after clear: %d entries", len(got))
			}

			if err := s.Append(ctx, entry("c", "fs", "x", "", true)); err != nil {
				t.Fatalf("Append after clear: %v", err)
			}
			got, _ = s.Load(ctx)
			if len(got) != 1 || got[0].ID != "c" {
				t.Errorf("after clear+append: %s", ids(got))
			}
		})
	}
}

func TestJSONLStore_SkipsCorruptLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "h.jsonl")
	s, err := NewJSONLStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	ctx := context.Background()
	s.Append(ctx, entry("a", "fs", "t", "", true))
	f, _ := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	f.WriteString("{not json\n\n")
	f.Close()
	s.Append(ctx, entry("b", "fs", "t", "", true))

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if ids(got) != "[a b]" {
		t.Errorf("got %s", ids(got))
	}
}

func TestJSONLStore_SharedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "h.jsonl")
	s1, err := NewJSONLStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s1.Close()
	s2, err := NewJSONLStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()

	ctx := context.Background()
	s1.Append(ctx, entry("1", "fs", "t", "", true))
	s2.Append(ctx, entry("2", "fs", "t", "", true))
	s1.Append(ctx, entry("3", "fs", "t", "", true))

	got, _ := s2.Load(ctx)
	if ids(got) != "[1 2 3]" {
		t.Errorf("got %s", ids(got))
	}
}

func TestJSONLStore_Closed(t *testing.T) {
	s, err := NewJSONLStore(filepath.Join(t.TempDir(), "h.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	s.Close()
	if err := s.Append(context.Background(), entry("a", "fs", "t", "", true)); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("expected ErrStoreClosed, got %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
}

func TestSQLiteStore_Query(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "h.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	ctx := context.Background()
	s.Append(ctx, entry("1", "fs", "read_file", "s1", true))
	s.Append(ctx, entry("2", "fs", "write_file", "s2", true))
	s.Append(ctx, entry("3", "web", "fetch", "s1", true))
	s.Append(ctx, entry("4", "fs", "read_dir", "s1", true))

	got, err := s.Query(ctx, types.HistoryFilter{ServerID: "fs", SessionID: "s1"})
	if err != nil {
		t.Fatal(err)
	}
	if ids(got) != "[4 1]" {
		t.Errorf("got %s", ids(got))
	}
	got, _ = s.Query(ctx, types.HistoryFilter{ToolName: "*_file", Limit: 1})
	if ids(got) != "[2]" {
		t.Errorf("glob+limit: got %s", ids(got))
	}
}

func TestOpen(t *testing.T) {
	s, err := Open(DriverMemory, "")
	if err != nil || s != nil {
		t.Errorf("memory driver: %v, %v", s, err)
	}
	if _, err := Open("postgres", "x"); err == nil {
		t.Error("unknown driver should fail")
	}
	s, err = Open(DriverJSONL, filepath.Join(t.TempDir(), "h.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	s.Close()
}
