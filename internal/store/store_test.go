package store

import (
	"path/filepath"
	"testing"
	"time"
)

func TestStoreInvocations(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	dsn := filepath.Join(dir, "state.db")
	s, err := Open(dsn, "sqlite")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	older := &Invocation{Function: "greet", Success: true, Status: "success", DurationMS: 12, CreatedAt: time.Now().UTC().Add(-time.Minute)}
	if err := s.AppendInvocation(older); err != nil {
		t.Fatalf("AppendInvocation: %v", err)
	}
	if older.ID == "" {
		t.Fatal("expected generated id")
	}
	newer := &Invocation{Function: "broken", Status: "failure", Error: "Something went wrong", RequestID: "req-1"}
	if err := s.AppendInvocation(newer); err != nil {
		t.Fatalf("AppendInvocation: %v", err)
	}

	all, err := s.ListInvocations(10)
	if err != nil {
		t.Fatalf("ListInvocations: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 invocations got %d", len(all))
	}
	if all[0].Function != "broken" || all[0].Success || all[0].Error != "Something went wrong" || all[0].RequestID != "req-1" {
		t.Fatalf("unexpected newest invocation: %+v", all[0])
	}
	if all[1].Function != "greet" || !all[1].Success || all[1].DurationMS != 12 {
		t.Fatalf("unexpected oldest invocation: %+v", all[1])
	}

	limited, err := s.ListInvocations(1)
	if err != nil {
		t.Fatalf("ListInvocations: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected 1 invocation got %d", len(limited))
	}
}

func TestDeleteInvocationsBefore(t *testing.T) {
	t.Parallel()

	s, err := Open(filepath.Join(t.TempDir(), "state.db"), "sqlite")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	now := time.Now().UTC()
	for i, age := range []time.Duration{48 * time.Hour, 2 * time.Hour, time.Minute} {
		inv := &Invocation{Function: "greet", Status: "success", Success: true, CreatedAt: now.Add(-age)}
		if err := s.AppendInvocation(inv); err != nil {
			t.Fatalf("AppendInvocation %d: %v", i, err)
		}
	}

	removed, err := s.DeleteInvocationsBefore(now.Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("DeleteInvocationsBefore: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed got %d", removed)
	}
	left, err := s.ListInvocations(0)
	if err != nil {
		t.Fatalf("ListInvocations: %v", err)
	}
	if len(left) != 2 {
		t.Fatalf("expected 2 remaining got %d", len(left))
	}
}

func TestAppendInvocationRequiresFunction(t *testing.T) {
	t.Parallel()

	s, err := Open(filepath.Join(t.TempDir(), "state.db"), "sqlite")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	if err := s.AppendInvocation(&Invocation{}); err == nil {
		t.Fatal("expected error for missing function")
	}
}

func TestOpenCreatesDirectory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "state.db")

	s, err := Open(path, "sqlite")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	t.Parallel()

	if _, err := Open("whatever", "bolt"); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestRebindForPostgres(t *testing.T) {
	t.Parallel()

	s := &Store{driver: "postgres"}
	got := s.rebind("INSERT INTO t (a, b) VALUES (?, ?)")
	if got != "INSERT INTO t (a, b) VALUES ($1, $2)" {
		t.Fatalf("unexpected rebind result %q", got)
	}
	if (&Store{driver: "sqlite"}).rebind("?") != "?" {
		t.Fatal("sqlite queries must be left alone")
	}
}
