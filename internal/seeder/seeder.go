package seeder

import (
	"context"
	"log"

	"github.com/vmtri/llm-router/internal/auth"
)

const TestAPIKey = "test-router-key-12345"

// SeedTestAPIKey inserts a development key when RUN_SEED=true.
func SeedTestAPIKey(ctx context.Context, store auth.Store) {
	apiKey := &auth.APIKey{
		Name:    "seeded-test-key",
		KeyHash: auth.HashKey(TestAPIKey),
		Active:  true,
	}

	if err := store.Create(ctx, apiKey); err != nil {
		log.Printf("[Seeder] API key may already exist, skipping: %v", err)
		return
	}
	log.Printf("[Seeder] Test API key created successfully")
	log.Printf("[Seeder] Key: %s", TestAPIKey)
}
