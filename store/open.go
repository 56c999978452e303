package store

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/zanbei/agentx/config"
	"github.com/zanbei/agentx/errors"
)

// Open returns the backend named by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.Driver {
	case "", "memory":
		s = NewMemoryStore()
	case "sqlite3", "sqlite":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "agentx.db"
		}
		s, err = OpenSQL(ctx, "sqlite3", dsn, cfg.MaxConns)
	case "postgres", "mysql":
		if cfg.DSN == "" {
			return nil, errors.New("store driver %s requires a dsn", cfg.Driver)
		}
		s, err = OpenSQL(ctx, cfg.Driver, cfg.DSN, cfg.MaxConns)
	case "dynamodb":
		s, err = OpenDynamo(ctx, cfg)
	default:
		return nil, errors.New("unknown store driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	log.Info().Str("driver", cfg.Driver).Msg("Store opened")
	return s, nil
}
