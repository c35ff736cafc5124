package bootstrap

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.mongodb.org/mongo-driver/mongo"

	"pathway-backend/internal/config"
	"pathway-backend/internal/database"
	"pathway-backend/internal/logger"
	"pathway-backend/internal/models"
	"pathway-backend/internal/repository"
	"pathway-backend/internal/services"
)

type userCreator interface {
	CreateUser(ctx context.Context, user *models.User) error
}

// Stores is the persistence selected by STORE_BACKEND. Reminders is only
// set for postgres, which keeps notification settings on the users row.
type Stores struct {
	Backend   string
	Progress  services.ProgressStore
	Users     userCreator
	Reminders *repository.UserRepo

	pg    *pgxpool.Pool
	mongo *mongo.Client
}

// OpenStores connects the configured backend. Postgres migrations run when
// migrate is set.
func OpenStores(ctx context.Context, cfg *config.Config, migrate bool, log *logger.Logger) (*Stores, error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		pool, err := database.NewPostgresPool(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if migrate {
			if _, err := database.RunMigrations(ctx, pool, log); err != nil {
				pool.Close()
				return nil, err
			}
		}
		users := repository.NewUserRepo(pool)
		return &Stores{
			Backend:   cfg.StoreBackend,
			Progress:  repository.NewProgressRepo(pool),
			Users:     users,
			Reminders: users,
			pg:        pool,
		}, nil

	case config.BackendMongo:
		client, err := database.NewMongoClient(ctx, cfg.MongoURI)
		if err != nil {
			return nil, err
		}
		store := repository.NewMongoStore(client, cfg.MongoDatabase)
		if err := store.EnsureIndexes(ctx); err != nil {
			client.Disconnect(context.Background())
			return nil, fmt.Errorf("failed to create indexes: %w", err)
		}
		return &Stores{
			Backend:  cfg.StoreBackend,
			Progress: store,
			Users:    store,
			mongo:    client,
		}, nil

	case config.BackendMemory:
		store := repository.NewMemoryStore()
		return &Stores{
			Backend:  cfg.StoreBackend,
			Progress: store,
			Users:    store,
		}, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}

// Pool exposes the postgres pool for migrations. Nil for other backends.
func (s *Stores) Pool() *pgxpool.Pool {
	return s.pg
}

func (s *Stores) Close() {
	if s.pg != nil {
		s.pg.Close()
	}
	if s.mongo != nil {
		s.mongo.Disconnect(context.Background())
	}
}
