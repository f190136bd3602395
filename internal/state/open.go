package state

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/shipyard/internal/config"
)

// Open returns the Store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StateConfig) (Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return OpenSQLite(cfg.Path)
	case "postgres":
		return OpenPostgres(ctx, cfg.DSN.Value())
	default:
		return nil, fmt.Errorf("unknown state driver %q", cfg.Driver)
	}
}
