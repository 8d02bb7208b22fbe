package repository_test

import (
	"context"
	"fmt"
	"testing"

	"storefront/internal/infra/db"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// sqlite のメモリDB（テストごとに別DB）
func openSQLite(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	gdb, err := gorm.Open(sqlite.Open(dsn), db.Config())
	require.NoError(t, err)

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.Migrate(gdb))
	return gdb
}

func startPostgres(ctx context.Context) (*postgres.PostgresContainer, string, error) {
	pc, err := postgres.Run(ctx, "postgres:17.6-alpine3.22",
		postgres.WithDatabase("app"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		return nil, "", fmt.Errorf("postgres.Run: %w", err)
	}

	connStr, err := pc.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = testcontainers.TerminateContainer(pc)
		return nil, "", fmt.Errorf("pc.ConnectionString: %w", err)
	}
	return pc, connStr, nil
}
