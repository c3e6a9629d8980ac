// Package testutil provides shared test fixtures: an in-memory database
// with migrations applied and common seed data.
package testutil

import (
	"context"
	"testing"

	"github.com/Veraticus/mailflow/internal/model"
	"github.com/Veraticus/mailflow/internal/service"
	"github.com/Veraticus/mailflow/internal/storage"
)

// TestDB wraps an in-memory migrated database for one test.
type TestDB struct {
	Storage service.Storage
	t       *testing.T
}

// SetupTestDB creates an in-memory SQLite database with migrations applied.
// Cleanup is registered automatically.
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		_ = store.Close()
	})

	return &TestDB{Storage: store, t: t}
}

// SeedAccount saves a gmail account with sensible defaults and returns it.
func (db *TestDB) SeedAccount(id string) *model.Account {
	db.t.Helper()
	account := &model.Account{
		ID:       id,
		Email:    id + "@example.com",
		Provider: model.ProviderGmail,
	}
	if err := db.Storage.SaveAccount(context.Background(), account); err != nil {
		db.t.Fatalf("failed to seed account %q: %v", id, err)
	}
	return account
}

// SeedRule saves a rule for the account and returns it with its ID set.
func (db *TestDB) SeedRule(rule *model.Rule) *model.Rule {
	db.t.Helper()
	if err := db.Storage.SaveRule(context.Background(), rule); err != nil {
		db.t.Fatalf("failed to seed rule %q: %v", rule.Name, err)
	}
	return rule
}

// SeedCategory creates a category and returns it.
func (db *TestDB) SeedCategory(name, description string) *model.Category {
	db.t.Helper()
	category, err := db.Storage.CreateCategory(context.Background(), name, description)
	if err != nil {
		db.t.Fatalf("failed to seed category %q: %v", name, err)
	}
	return category
}
