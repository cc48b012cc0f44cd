package store

import (
	"strings"
	"testing"

	"github.com/lingora/lingora/pkg/voice/persist"
)

var _ persist.Backend = (*Store)(nil)

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		t.Fatalf("read embedded migrations: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("no migrations embedded")
	}
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), ".sql") {
			t.Errorf("unexpected migration file %q", e.Name())
		}
		data, err := migrationsFS.ReadFile("migrations/" + e.Name())
		if err != nil {
			t.Fatalf("read %s: %v", e.Name(), err)
		}
		content := string(data)
		if !strings.Contains(content, "+goose Up") || !strings.Contains(content, "+goose Down") {
			t.Errorf("%s is missing goose annotations", e.Name())
		}
	}
}
