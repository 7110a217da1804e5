package gateway

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/g960059/layoutsync/internal/config"
	"github.com/g960059/layoutsync/internal/db"
	"github.com/g960059/layoutsync/internal/persist"
)

// OpenAdapter builds the adapter selected by cfg without initializing it.
func OpenAdapter(cfg config.PersistConfig, logger *zap.SugaredLogger) (persist.Adapter, error) {
	kind, err := config.ParseAdapter(string(cfg.Adapter))
	if err != nil {
		return nil, err
	}
	switch kind {
	case config.AdapterRelational:
		dialect, err := db.ParseDialect(cfg.Driver)
		if err != nil {
			return nil, err
		}
		return db.New(db.Options{
			Dialect:    dialect,
			SQLitePath: cfg.SQLitePath,
			Postgres: db.PostgresOptions{
				Host:     cfg.Postgres.Host,
				Port:     cfg.Postgres.Port,
				User:     cfg.Postgres.User,
				Password: cfg.Postgres.Password,
				Database: cfg.Postgres.Database,
				SSLMode:  cfg.Postgres.SSLMode,
			},
		}, logger), nil
	case config.AdapterLog:
		return persist.NewLogAdapter(cfg.DataDir, logger), nil
	default:
		return nil, fmt.Errorf("unknown persistence adapter %q", cfg.Adapter)
	}
}
