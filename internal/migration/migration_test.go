package migration

import "testing"

func TestEmbeddedMigrationsAreOrdered(t *testing.T) {
	src, err := ledgerSource()
	if err != nil {
		t.Fatalf("iofs source: %v", err)
	}
	defer src.Close()

	version, err := src.First()
	if err != nil {
		t.Fatalf("first version: %v", err)
	}
	if version != 1 {
		t.Fatalf("expected first version 1, got %d", version)
	}

	next, err := src.Next(version)
	if err != nil {
		t.Fatalf("next version: %v", err)
	}
	if next != 2 {
		t.Fatalf("expected second version 2, got %d", next)
	}

	if _, _, err := src.ReadDown(next); err != nil {
		t.Fatalf("down migration for %d: %v", next, err)
	}
}

func TestRunMigrationsRequiresHandle(t *testing.T) {
	if _, err := RunMigrations(nil); err == nil {
		t.Fatalf("expected error for nil database handle")
	}
}
