// schema_replicator.go — репликация структуры таблиц в архивную базу.
//
// SchemaReplicator — листовая зависимость движков архивации и восстановления:
// перед переносом данных таблица с такой же структурой должна существовать
// в холодном хранилище.
package service

import (
	"context"
	"log/slog"

	"github.com/medflow-emr/archive-module/internal/domain/model"
	"github.com/medflow-emr/archive-module/internal/repository"
)

// SchemaReplicator копирует структуру таблиц из операционной базы в архивную.
type SchemaReplicator struct {
	opCatalog   repository.CatalogRepository
	archCatalog repository.CatalogRepository
	archData    repository.TableDataRepository
	logger      *slog.Logger
}

// NewSchemaReplicator создаёт репликатор структуры таблиц.
func NewSchemaReplicator(
	opCatalog repository.CatalogRepository,
	archCatalog repository.CatalogRepository,
	archData repository.TableDataRepository,
	logger *slog.Logger,
) *SchemaReplicator {
	return &SchemaReplicator{
		opCatalog:   opCatalog,
		archCatalog: archCatalog,
		archData:    archData,
		logger:      logger.With(slog.String("component", "schema_replicator")),
	}
}

// EnsureTableStructure гарантирует наличие таблицы в архивной базе.
//
// Результат:
//   - таблицы нет в операционной базе → {available: false} (архивация пропускает таблицу)
//   - таблица уже есть в архивной базе → {available: true, created: false}
//   - таблица создана по структуре операционной → {available: true, created: true}
//
// Ошибки интроспекции и создания не возвращаются наверх: они логируются,
// таблица помечается недоступной, и батч-операция продолжается без неё.
func (s *SchemaReplicator) EnsureTableStructure(ctx context.Context, table string) model.TableStructureResult {
	exists, err := s.opCatalog.TableExists(ctx, table)
	if err != nil {
		s.logger.Warn("Ошибка проверки таблицы в операционной базе",
			slog.String("table", table),
			slog.String("error", err.Error()),
		)
		return model.TableStructureResult{}
	}
	if !exists {
		s.logger.Debug("Таблица отсутствует в операционной базе, пропуск",
			slog.String("table", table),
		)
		return model.TableStructureResult{}
	}

	archExists, err := s.archCatalog.TableExists(ctx, table)
	if err != nil {
		s.logger.Warn("Ошибка проверки таблицы в архивной базе",
			slog.String("table", table),
			slog.String("error", err.Error()),
		)
		return model.TableStructureResult{}
	}
	if archExists {
		return model.TableStructureResult{Available: true}
	}

	columns, err := s.opCatalog.Columns(ctx, table)
	if err != nil || len(columns) == 0 {
		s.logger.Warn("Ошибка интроспекции колонок таблицы",
			slog.String("table", table),
			slog.Any("error", err),
		)
		return model.TableStructureResult{}
	}

	// Первичный ключ реплицируется, чтобы insert-or-skip при повторной
	// архивации опирался на тот же конфликт, что и в операционной базе.
	pk, err := s.opCatalog.PrimaryKeyColumns(ctx, table)
	if err != nil {
		s.logger.Warn("Ошибка интроспекции первичного ключа",
			slog.String("table", table),
			slog.String("error", err.Error()),
		)
		return model.TableStructureResult{}
	}

	if err := s.archData.CreateTable(ctx, table, columns, pk); err != nil {
		s.logger.Warn("Ошибка создания таблицы в архивной базе",
			slog.String("table", table),
			slog.String("error", err.Error()),
		)
		return model.TableStructureResult{}
	}

	s.logger.Info("Таблица создана в архивной базе",
		slog.String("table", table),
		slog.Int("columns", len(columns)),
	)
	return model.TableStructureResult{Created: true, Available: true}
}
