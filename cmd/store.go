package cmd

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/example/advisory-booking/internal/config"
	"github.com/example/advisory-booking/internal/db"
	"github.com/example/advisory-booking/internal/migrate"
	"github.com/example/advisory-booking/internal/reservations"
)

// store is the configured reservation backend plus its lifecycle hooks.
type store struct {
	reservations.Store
	Ping  func(ctx context.Context) error
	Close func()
}

func openStore(ctx context.Context, cfg config.Config, migrateUp bool, log zerolog.Logger) (*store, error) {
	switch cfg.StoreDriver {
	case "sqlite":
		s, err := reservations.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", cfg.SQLitePath, err)
		}
		log.Info().Str("driver", "sqlite").Str("path", cfg.SQLitePath).Msg("store opened")
		return &store{Store: s, Ping: s.Ping, Close: func() { _ = s.Close() }}, nil

	case "postgres":
		d, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := d.Ping(ctx); err != nil {
			d.Close()
			return nil, fmt.Errorf("db ping: %w", err)
		}
		if migrateUp {
			applied, err := migrate.Up(ctx, d)
			if err != nil {
				d.Close()
				return nil, err
			}
			for _, v := range applied {
				log.Info().Str("version", v).Msg("migration applied")
			}
		}
		log.Info().Str("driver", "postgres").Msg("store opened")
		return &store{Store: reservations.NewPostgresStore(d), Ping: d.Ping, Close: d.Close}, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}
