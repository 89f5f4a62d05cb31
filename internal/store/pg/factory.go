package pg

import (
	"fmt"

	"github.com/nextlevelbuilder/nutribot/internal/store"
)

// NewPGStores creates all stores backed by Postgres (managed mode).
// The profiles table is created by `nutribot migrate up`.
func NewPGStores(cfg store.StoreConfig) (*store.Stores, error) {
	db, err := OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	return &store.Stores{
		Profiles: NewPGProfileStore(db),
	}, nil
}
