package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sort"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/medflow-emr/archive-module/internal/config"
	"github.com/medflow-emr/archive-module/internal/database"
	"github.com/medflow-emr/archive-module/internal/domain/model"
	"github.com/medflow-emr/archive-module/internal/repository"

	"github.com/jackc/pgx/v5/pgxpool"
)

// engineEnv — движки и пулы для интеграционных тестов архивации.
type engineEnv struct {
	opPool   *pgxpool.Pool
	archPool *pgxpool.Pool
	creator  *ArchiveCreator
	restorer *ArchiveRestorer
	archives *ArchiveService
}

// setupEngines запускает PostgreSQL контейнер с двумя базами
// и собирает полный стек движков архивации.
func setupEngines(t *testing.T) *engineEnv {
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

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))

	opPool, err := database.Connect(ctx, &cfg.DB, logger)
	if err != nil {
		t.Fatalf("Ошибка подключения к операционной базе: %v", err)
	}
	t.Cleanup(func() { opPool.Close() })

	if _, err := opPool.Exec(ctx, "CREATE DATABASE "+cfg.ArchiveDB.Name); err != nil {
		t.Fatalf("Ошибка создания архивной базы: %v", err)
	}
	if err := database.MigrateArchive(&cfg.ArchiveDB, logger); err != nil {
		t.Fatalf("Ошибка миграций архивной базы: %v", err)
	}

	archPool, err := database.Connect(ctx, &cfg.ArchiveDB, logger)
	if err != nil {
		t.Fatalf("Ошибка подключения к архивной базе: %v", err)
	}
	t.Cleanup(func() { archPool.Close() })

	opCatalog := repository.NewCatalogRepository(opPool)
	archCatalog := repository.NewCatalogRepository(archPool)
	opData := repository.NewTableDataRepository(opPool)
	archData := repository.NewTableDataRepository(archPool)
	metaRepo := repository.NewArchiveMetadataRepository(archPool)

	replicator := NewSchemaReplicator(opCatalog, archCatalog, archData, logger)
	creator := NewArchiveCreator(replicator, opData, archData, archPool, metaRepo, logger)
	restorer := NewArchiveRestorer(opCatalog, opData, opPool, archData, metaRepo, logger)
	archives := NewArchiveService(metaRepo, archData, repository.NewTxRunner(archPool), logger)

	return &engineEnv{
		opPool:   opPool,
		archPool: archPool,
		creator:  creator,
		restorer: restorer,
		archives: archives,
	}
}

// createTasksTable создаёт доменную таблицу tasks с тестовыми строками.
func createTasksTable(t *testing.T, env *engineEnv, titles ...string) {
	t.Helper()
	ctx := context.Background()

	_, err := env.opPool.Exec(ctx, `
		CREATE TABLE tasks (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			title VARCHAR(200) NOT NULL,
			done BOOLEAN NOT NULL DEFAULT false,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		t.Fatalf("Создание таблицы tasks: %v", err)
	}
	for _, title := range titles {
		if _, err := env.opPool.Exec(ctx, `INSERT INTO tasks (title) VALUES ($1)`, title); err != nil {
			t.Fatalf("Вставка задачи %q: %v", title, err)
		}
	}
}

func TestEngineArchiveIdempotent(t *testing.T) {
	env := setupEngines(t)
	ctx := context.Background()
	createTasksTable(t, env, "задача 1", "задача 2", "задача 3")

	user := "admin@clinic.example.com"
	meta, err := env.creator.CreateArchive(ctx, ArchiveCreateParams{
		ArchiveName:     "tasks-snapshot-1",
		SelectedModules: []string{"tasks"},
		ArchivedBy:      &user,
	})
	if err != nil {
		t.Fatalf("CreateArchive() ошибка: %v", err)
	}

	if meta.ID == "" || meta.Status != model.ArchiveStatusActive {
		t.Errorf("Архив: ID=%q, Status=%q; хотели непустой ID и active", meta.ID, meta.Status)
	}
	if len(meta.ArchivedTables) != 1 || meta.ArchivedTables[0] != "tasks" {
		t.Errorf("ArchivedTables = %v, хотели [tasks]", meta.ArchivedTables)
	}
	if meta.RecordCounts["tasks"] != 3 {
		t.Errorf("RecordCounts[tasks] = %d, хотели 3", meta.RecordCounts["tasks"])
	}
	if meta.Metadata.TotalRecords != 3 {
		t.Errorf("TotalRecords = %d, хотели 3", meta.Metadata.TotalRecords)
	}
	if meta.Metadata.TotalSizeBytes <= 0 {
		t.Errorf("TotalSizeBytes = %d, хотели положительную оценку", meta.Metadata.TotalSizeBytes)
	}
	if meta.Metadata.Automated {
		t.Error("Automated = true для ручного запуска")
	}

	// Повторная архивация тех же данных: все строки уже в архиве,
	// счётчики нулевые, но покрытие таблиц сохраняется
	meta2, err := env.creator.CreateArchive(ctx, ArchiveCreateParams{
		ArchiveName:     "tasks-snapshot-2",
		SelectedModules: []string{"tasks"},
		ArchivedBy:      &user,
	})
	if err != nil {
		t.Fatalf("Повторный CreateArchive() ошибка: %v", err)
	}
	if meta2.RecordCounts["tasks"] != 0 {
		t.Errorf("Повторная архивация: RecordCounts[tasks] = %d, хотели 0", meta2.RecordCounts["tasks"])
	}
	if len(meta2.ArchivedTables) != 1 || meta2.ArchivedTables[0] != "tasks" {
		t.Errorf("Повторная архивация: ArchivedTables = %v, хотели [tasks]", meta2.ArchivedTables)
	}
}

// Покрытие архива отражает только таблицы, существующие в операционной
// базе: таблица notifications не создана и в archived_tables не попадает.
func TestEngineCoverageInvariant(t *testing.T) {
	env := setupEngines(t)
	ctx := context.Background()
	createTasksTable(t, env) // без строк

	meta, err := env.creator.CreateArchive(ctx, ArchiveCreateParams{
		ArchiveName:     "partial-coverage",
		SelectedModules: []string{"tasks", "notifications"},
	})
	if err != nil {
		t.Fatalf("CreateArchive() ошибка: %v", err)
	}

	if len(meta.ArchivedTables) != 1 || meta.ArchivedTables[0] != "tasks" {
		t.Errorf("ArchivedTables = %v, хотели [tasks]", meta.ArchivedTables)
	}
	// Пустая таблица всё равно в покрытии, с нулевым счётчиком
	if count, ok := meta.RecordCounts["tasks"]; !ok || count != 0 {
		t.Errorf("RecordCounts[tasks] = %d (ok=%v), хотели 0", count, ok)
	}
	if len(meta.ArchivedModules) != 2 {
		t.Errorf("ArchivedModules = %v, хотели оба выбранных модуля", meta.ArchivedModules)
	}
}

func TestEngineValidation(t *testing.T) {
	env := setupEngines(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		params ArchiveCreateParams
	}{
		{
			name:   "пустое имя архива",
			params: ArchiveCreateParams{SelectedModules: []string{"tasks"}},
		},
		{
			name:   "пустой список модулей",
			params: ArchiveCreateParams{ArchiveName: "a"},
		},
		{
			name:   "неизвестный модуль",
			params: ArchiveCreateParams{ArchiveName: "a", SelectedModules: []string{"tasks", "no_such_module"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := env.creator.CreateArchive(ctx, tt.params); !errors.Is(err, ErrValidation) {
				t.Errorf("CreateArchive() = %v, хотели ErrValidation", err)
			}
		})
	}
}

func TestEngineRoundTripRestore(t *testing.T) {
	env := setupEngines(t)
	ctx := context.Background()
	titles := []string{"визит Иванова", "анализы Петровой", "счёт за март"}
	createTasksTable(t, env, titles...)

	meta, err := env.creator.CreateArchive(ctx, ArchiveCreateParams{
		ArchiveName:     "round-trip",
		SelectedModules: []string{"tasks"},
	})
	if err != nil {
		t.Fatalf("CreateArchive() ошибка: %v", err)
	}

	// Опустошаем операционную таблицу
	if _, err := env.opPool.Exec(ctx, "DELETE FROM tasks"); err != nil {
		t.Fatalf("Очистка таблицы tasks: %v", err)
	}

	result, err := env.restorer.RestoreArchive(ctx, meta.ID, nil)
	if err != nil {
		t.Fatalf("RestoreArchive() ошибка: %v", err)
	}
	if result.TotalAdded != 3 || result.TotalSkipped != 0 {
		t.Errorf("Restore: added=%d, skipped=%d; хотели 3/0", result.TotalAdded, result.TotalSkipped)
	}
	if len(result.Errors) != 0 {
		t.Errorf("Restore: ошибки %v, хотели пусто", result.Errors)
	}

	// Round trip: восстановленное множество строк совпадает с исходным
	rows, err := env.opPool.Query(ctx, "SELECT title FROM tasks")
	if err != nil {
		t.Fatalf("Чтение восстановленных строк: %v", err)
	}
	var restored []string
	for rows.Next() {
		var title string
		if err := rows.Scan(&title); err != nil {
			t.Fatalf("Сканирование строки: %v", err)
		}
		restored = append(restored, title)
	}
	rows.Close()
	sort.Strings(restored)
	want := append([]string(nil), titles...)
	sort.Strings(want)
	if len(restored) != len(want) {
		t.Fatalf("Восстановлено %d строк, хотели %d", len(restored), len(want))
	}
	for i := range want {
		if restored[i] != want[i] {
			t.Errorf("Строка %d: %q, хотели %q", i, restored[i], want[i])
		}
	}

	// Статус архива — restored
	got, err := env.archives.Get(ctx, meta.ID)
	if err != nil {
		t.Fatalf("Get() ошибка: %v", err)
	}
	if got.Status != model.ArchiveStatusRestored {
		t.Errorf("Status = %q, хотели restored", got.Status)
	}

	// Повторное восстановление идемпотентно: всё пропущено, статус restored
	result2, err := env.restorer.RestoreArchive(ctx, meta.ID, nil)
	if err != nil {
		t.Fatalf("Повторный RestoreArchive() ошибка: %v", err)
	}
	if result2.TotalAdded != 0 || result2.TotalSkipped != 3 {
		t.Errorf("Повторный restore: added=%d, skipped=%d; хотели 0/3", result2.TotalAdded, result2.TotalSkipped)
	}
	got2, _ := env.archives.Get(ctx, meta.ID)
	if got2.Status != model.ArchiveStatusRestored {
		t.Errorf("Статус после повторного restore = %q, хотели restored", got2.Status)
	}

	// Неизвестная запрошенная таблица молча игнорируется
	result3, err := env.restorer.RestoreArchive(ctx, meta.ID, []string{"tasks", "no_such_table"})
	if err != nil {
		t.Fatalf("RestoreArchive() с фильтром ошибка: %v", err)
	}
	if len(result3.Tables) != 1 || result3.Tables[0].Table != "tasks" {
		t.Errorf("Restore с фильтром: таблицы %v, хотели только tasks", result3.Tables)
	}

	// Несуществующий архив — ErrNotFound
	if _, err := env.restorer.RestoreArchive(ctx, "00000000-0000-0000-0000-000000000000", nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("RestoreArchive(несуществующий) = %v, хотели ErrNotFound", err)
	}
}

func TestArchiveServiceBrowseAndDelete(t *testing.T) {
	env := setupEngines(t)
	ctx := context.Background()
	createTasksTable(t, env, "задача 1", "задача 2")

	meta, err := env.creator.CreateArchive(ctx, ArchiveCreateParams{
		ArchiveName:     "browse-delete",
		SelectedModules: []string{"tasks"},
	})
	if err != nil {
		t.Fatalf("CreateArchive() ошибка: %v", err)
	}

	// Browse одной таблицы
	preview, err := env.archives.Browse(ctx, meta.ID, "tasks", 1, 0)
	if err != nil {
		t.Fatalf("Browse() ошибка: %v", err)
	}
	if preview.TotalRows != 2 || len(preview.Rows) != 1 {
		t.Errorf("Browse: TotalRows=%d, страница=%d; хотели 2 и 1", preview.TotalRows, len(preview.Rows))
	}
	if _, err := env.archives.Browse(ctx, meta.ID, "patients", 10, 0); !errors.Is(err, ErrValidation) {
		t.Errorf("Browse(чужая таблица) = %v, хотели ErrValidation", err)
	}

	// Сводка по всем таблицам
	summary, err := env.archives.BrowseSummary(ctx, meta.ID, 5)
	if err != nil {
		t.Fatalf("BrowseSummary() ошибка: %v", err)
	}
	if len(summary) != 1 || summary[0].Table != "tasks" || summary[0].TotalRows != 2 {
		t.Errorf("BrowseSummary = %+v, хотели одну таблицу tasks с 2 строками", summary)
	}

	// Stats
	stats, err := env.archives.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() ошибка: %v", err)
	}
	if stats.TotalArchives != 1 || stats.TotalRecords != 2 {
		t.Errorf("Stats = %+v, хотели 1 архив и 2 строки", stats)
	}

	// Delete с очисткой данных: метаданные удалены, архивная таблица пуста
	if err := env.archives.Delete(ctx, meta.ID, true); err != nil {
		t.Fatalf("Delete() ошибка: %v", err)
	}
	if _, err := env.archives.Get(ctx, meta.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("После Delete ожидали ErrNotFound, получили: %v", err)
	}
	var left int
	if err := env.archPool.QueryRow(ctx, "SELECT COUNT(*) FROM tasks").Scan(&left); err != nil {
		t.Fatalf("Подсчёт строк архивной таблицы: %v", err)
	}
	if left != 0 {
		t.Errorf("После Delete(deleteData) в архивной таблице %d строк, хотели 0", left)
	}
}
