package postgres

import (
	"io/fs"
	"strings"
	"testing"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		t.Fatalf("read embedded migrations: %v", err)
	}

	ups, downs := map[string]bool{}, map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		}
	}
	if len(ups) == 0 {
		t.Fatal("no migrations embedded")
	}
	for v := range ups {
		if !downs[v] {
			t.Errorf("migration %s has no down file", v)
		}
	}
}

func TestInitMigrationNamesTranslatedConstraints(t *testing.T) {
	raw, err := fs.ReadFile(migrationFS, "migrations/000001_init.up.sql")
	if err != nil {
		t.Fatalf("read init migration: %v", err)
	}
	sql := string(raw)

	constraints := []string{
		"jobs_key_key",
		"queues_key_key",
		"queues_folder_key_name_key",
		"queue_items_queue_id_fkey",
		"queue_items_queue_id_job_id_key",
		"triggers_folder_key_name_key",
		"workers_key_key",
		"workers_scope_name_key",
		"worker_installations_worker_id_fkey",
		"worker_installations_worker_id_folder_key_key",
	}
	for _, c := range constraints {
		if !strings.Contains(sql, "CONSTRAINT "+c+" ") {
			t.Errorf("constraint %s is not declared", c)
		}
	}
	if strings.Count(sql, "FORCE ROW LEVEL SECURITY") != 6 {
		t.Error("every table must force row level security")
	}
}

func TestMigrate_UnknownDirection(t *testing.T) {
	s, _ := newMockStore(t)
	defer s.db.Close()

	if _, err := Migrate(s.db, Direction("sideways")); err == nil {
		t.Fatal("expected error")
	}
}
