package main

import (
	"fmt"

	"github.com/Veraticus/mailflow/internal/config"
	"github.com/Veraticus/mailflow/internal/engine"
	"github.com/Veraticus/mailflow/internal/llm"
	"github.com/Veraticus/mailflow/internal/service"
	"github.com/Veraticus/mailflow/internal/storage"
)

// openStorage opens the SQLite database at the configured path.
func openStorage() (service.Storage, error) {
	store, err := storage.NewSQLiteStorage(config.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return store, nil
}

// buildEngine assembles the full pipeline: storage, model client and
// provider factory.
func buildEngine(store service.Storage) (*engine.Engine, error) {
	llmConfig, err := config.LoadLLMConfig()
	if err != nil {
		return nil, err
	}
	client, err := llm.NewClient(llmConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}
	return engine.New(store, client, config.NewProviderFactory()), nil
}
