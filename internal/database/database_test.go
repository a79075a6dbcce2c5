package database

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/medflow-emr/archive-module/internal/config"
)

// setupTestDB запускает PostgreSQL в Docker-контейнере через testcontainers.
// Возвращает конфиг с операционной и архивной базами.
func setupTestDB(t *testing.T) *config.Config {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("medflow_test"),
		postgres.WithUsername("medflow"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Не удалось получить host контейнера: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Не удалось получить port контейнера: %v", err)
	}

	// Создаём конфиг с минимальными значениями
	os.Setenv("ARM_DB_HOST", host)
	os.Setenv("ARM_DB_PORT", port.Port())
	os.Setenv("ARM_DB_NAME", "medflow_test")
	os.Setenv("ARM_DB_USER", "medflow")
	os.Setenv("ARM_DB_PASSWORD", "test-password")
	os.Setenv("ARM_DB_SSL_MODE", "disable")
	os.Setenv("ARM_KEYCLOAK_URL", "http://localhost:8080")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	// Архивная база создаётся вручную: миграции её не создают
	logger := testLogger()
	pool, err := Connect(ctx, &cfg.DB, logger)
	if err != nil {
		t.Fatalf("Connect() вернул ошибку: %v", err)
	}
	defer pool.Close()

	if _, err := pool.Exec(ctx, "CREATE DATABASE "+cfg.ArchiveDB.Name); err != nil {
		t.Fatalf("Не удалось создать архивную базу: %v", err)
	}

	return cfg
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// TestConnect проверяет подключение к обеим базам через pgxpool.
func TestConnect(t *testing.T) {
	cfg := setupTestDB(t)
	ctx := context.Background()
	logger := testLogger()

	opPool, err := Connect(ctx, &cfg.DB, logger)
	if err != nil {
		t.Fatalf("Connect(операционная) вернул ошибку: %v", err)
	}
	defer opPool.Close()

	if err := opPool.Ping(ctx); err != nil {
		t.Fatalf("Ping операционной базы вернул ошибку: %v", err)
	}

	archPool, err := Connect(ctx, &cfg.ArchiveDB, logger)
	if err != nil {
		t.Fatalf("Connect(архивная) вернул ошибку: %v", err)
	}
	defer archPool.Close()

	if err := archPool.Ping(ctx); err != nil {
		t.Fatalf("Ping архивной базы вернул ошибку: %v", err)
	}
}

// TestMigrate проверяет применение миграций обеих баз.
func TestMigrate(t *testing.T) {
	cfg := setupTestDB(t)
	logger := testLogger()

	// Применяем миграции
	if err := MigrateOperational(&cfg.DB, logger); err != nil {
		t.Fatalf("MigrateOperational() вернул ошибку: %v", err)
	}
	if err := MigrateArchive(&cfg.ArchiveDB, logger); err != nil {
		t.Fatalf("MigrateArchive() вернул ошибку: %v", err)
	}

	// Повторное применение — должно быть без ошибки (ErrNoChange)
	if err := MigrateOperational(&cfg.DB, logger); err != nil {
		t.Fatalf("Повторный MigrateOperational() вернул ошибку: %v", err)
	}
	if err := MigrateArchive(&cfg.ArchiveDB, logger); err != nil {
		t.Fatalf("Повторный MigrateArchive() вернул ошибку: %v", err)
	}

	ctx := context.Background()

	// Операционная база: таблица правил
	opPool, err := Connect(ctx, &cfg.DB, logger)
	if err != nil {
		t.Fatalf("Connect(операционная) вернул ошибку: %v", err)
	}
	defer opPool.Close()

	if !tableExists(t, opPool, "archive_rules") {
		t.Error("Таблица archive_rules не создана в операционной базе")
	}

	// Архивная база: реестр архивов
	archPool, err := Connect(ctx, &cfg.ArchiveDB, logger)
	if err != nil {
		t.Fatalf("Connect(архивная) вернул ошибку: %v", err)
	}
	defer archPool.Close()

	if !tableExists(t, archPool, "archive_metadata") {
		t.Error("Таблица archive_metadata не создана в архивной базе")
	}
}

// tableExists проверяет существование таблицы в public-схеме.
func tableExists(t *testing.T, pool *pgxpool.Pool, table string) bool {
	t.Helper()
	var exists bool
	err := pool.QueryRow(context.Background(),
		`SELECT EXISTS (
			SELECT FROM information_schema.tables
			WHERE table_schema = 'public' AND table_name = $1
		)`, table).Scan(&exists)
	if err != nil {
		t.Fatalf("Ошибка проверки таблицы %s: %v", table, err)
	}
	return exists
}

// TestReadinessChecker проверяет ReadinessChecker.
func TestReadinessChecker(t *testing.T) {
	cfg := setupTestDB(t)
	ctx := context.Background()
	logger := testLogger()

	pool, err := Connect(ctx, &cfg.DB, logger)
	if err != nil {
		t.Fatalf("Connect() вернул ошибку: %v", err)
	}
	defer pool.Close()

	checker := NewReadinessChecker(pool, "operational")

	// Проверяем готовность — должен вернуть "ok"
	status, msg := checker.CheckReady()
	if status != "ok" {
		t.Errorf("CheckReady() status = %q, message = %q; ожидали status = %q",
			status, msg, "ok")
	}
}
