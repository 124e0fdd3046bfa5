package repo

import (
	"context"
	"fmt"

	"github.com/tazhibayda/auth-api/internal/config"
	"github.com/tazhibayda/auth-api/internal/domain"
)

// Open connects the configured store and brings its schema up to date. The
// returned func releases the connection.
func Open(ctx context.Context, cfg config.Config) (domain.AccountRepository, func(), error) {
	switch cfg.Store {
	case config.StoreMongo:
		m, err := NewMongo(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return nil, nil, err
		}
		if err := m.EnsureIndexes(ctx); err != nil {
			_ = m.Close(context.Background())
			return nil, nil, fmt.Errorf("mongo indexes: %w", err)
		}
		return m, func() { _ = m.Close(context.Background()) }, nil

	case config.StorePostgres:
		p, err := OpenPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		if err := p.Migrate(ctx); err != nil {
			_ = p.Close()
			return nil, nil, err
		}
		return p, func() { _ = p.Close() }, nil

	case config.StoreMemory:
		return NewMemory(), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown store %q", cfg.Store)
}
