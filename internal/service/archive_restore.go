// archive_restore.go — движок восстановления архивов.
//
// ArchiveRestorer переносит данные из холодного хранилища обратно
// в операционную базу. Строки проецируются на актуальную структуру
// операционной таблицы: лишние архивные колонки отбрасываются,
// отсутствующие заполняются значениями по умолчанию.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/medflow-emr/archive-module/internal/domain/model"
	"github.com/medflow-emr/archive-module/internal/repository"
)

// Prometheus-метрики движка восстановления.
var (
	restoreRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "archive_module_restore_runs_total",
		Help: "Количество запусков восстановления архивов",
	}, []string{"status"}) // status: success, failed

	restoreRowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "archive_module_restore_rows_total",
		Help: "Количество строк, обработанных при восстановлении",
	}, []string{"table", "operation"}) // operation: added, skipped
)

// ArchiveRestorer — движок восстановления архивов.
type ArchiveRestorer struct {
	opCatalog repository.CatalogRepository
	opData    repository.TableDataRepository
	opDB      repository.DBTX
	archData  repository.TableDataRepository
	metaRepo  repository.ArchiveMetadataRepository
	logger    *slog.Logger
}

// NewArchiveRestorer создаёт движок восстановления.
func NewArchiveRestorer(
	opCatalog repository.CatalogRepository,
	opData repository.TableDataRepository,
	opDB repository.DBTX,
	archData repository.TableDataRepository,
	metaRepo repository.ArchiveMetadataRepository,
	logger *slog.Logger,
) *ArchiveRestorer {
	return &ArchiveRestorer{
		opCatalog: opCatalog,
		opData:    opData,
		opDB:      opDB,
		archData:  archData,
		metaRepo:  metaRepo,
		logger:    logger.With(slog.String("component", "archive_restore")),
	}
}

// RestoreArchive восстанавливает архив в операционную базу.
//
// tables ограничивает набор таблиц; пустой список — все таблицы архива.
// Запрошенные таблицы, которых нет в archived_tables, молча игнорируются.
// Ошибка отдельной таблицы попадает в RestoreResult.Errors и не прерывает
// восстановление остальных. По завершении статус архива становится
// restored; повторное восстановление оставляет его restored.
func (s *ArchiveRestorer) RestoreArchive(ctx context.Context, archiveID string, tables []string) (*model.RestoreResult, error) {
	meta, err := s.metaRepo.GetByID(ctx, archiveID)
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}

	target := selectTables(meta.ArchivedTables, tables)

	s.logger.Info("Запуск восстановления архива",
		slog.String("archive_id", archiveID),
		slog.String("archive_name", meta.ArchiveName),
		slog.Int("tables", len(target)),
	)
	startedAt := time.Now().UTC()

	result := &model.RestoreResult{
		ArchiveID:   meta.ID,
		ArchiveName: meta.ArchiveName,
	}

	for _, table := range target {
		added, skipped, err := s.restoreTable(ctx, table)
		if err != nil {
			s.logger.Warn("Ошибка восстановления таблицы",
				slog.String("table", table),
				slog.String("error", err.Error()),
			)
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", table, err))
			continue
		}
		result.Tables = append(result.Tables, model.TableRestoreResult{
			Table:   table,
			Added:   added,
			Skipped: skipped,
		})
		result.TotalAdded += added
		result.TotalSkipped += skipped

		restoreRowsTotal.WithLabelValues(table, "added").Add(float64(added))
		restoreRowsTotal.WithLabelValues(table, "skipped").Add(float64(skipped))
	}

	// Повторное восстановление оставляет статус restored
	if err := s.metaRepo.UpdateStatus(ctx, meta.ID, model.ArchiveStatusRestored); err != nil {
		restoreRunsTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("обновление статуса архива: %w", err)
	}

	restoreRunsTotal.WithLabelValues("success").Inc()
	s.logger.Info("Восстановление архива завершено",
		slog.String("archive_id", meta.ID),
		slog.Int("total_added", result.TotalAdded),
		slog.Int("total_skipped", result.TotalSkipped),
		slog.Int("errors", len(result.Errors)),
		slog.String("duration", fmt.Sprintf("%.2fs", time.Since(startedAt).Seconds())),
	)

	return result, nil
}

// restoreTable переносит одну таблицу из архивной базы в операционную,
// проецируя строки на актуальный состав колонок операционной таблицы.
func (s *ArchiveRestorer) restoreTable(ctx context.Context, table string) (added, skipped int, err error) {
	archColumns, rows, err := s.archData.ReadRows(ctx, table, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("чтение архивной таблицы: %w", err)
	}
	if len(rows) == 0 {
		return 0, 0, nil
	}

	current, err := s.opCatalog.Columns(ctx, table)
	if err != nil {
		return 0, 0, fmt.Errorf("чтение структуры операционной таблицы: %w", err)
	}
	if len(current) == 0 {
		return 0, 0, fmt.Errorf("таблица отсутствует в операционной базе")
	}

	currentSet := make(map[string]bool, len(current))
	for _, col := range current {
		currentSet[col.Name] = true
	}

	// Проекция: только колонки, существующие в операционной таблице сейчас.
	// Отсутствующие в архиве колонки получат значения по умолчанию.
	var columns []string
	for _, col := range archColumns {
		if currentSet[col] {
			columns = append(columns, col)
		}
	}
	if len(columns) == 0 {
		return 0, 0, fmt.Errorf("нет общих колонок с операционной таблицей")
	}

	return s.opData.InsertSkipConflicts(ctx, s.opDB, table, columns, rows)
}

// selectTables возвращает подмножество archived, запрошенное в requested.
// Пустой requested — все таблицы архива. Неизвестные таблицы игнорируются.
func selectTables(archived, requested []string) []string {
	if len(requested) == 0 {
		return archived
	}
	archivedSet := make(map[string]bool, len(archived))
	for _, t := range archived {
		archivedSet[t] = true
	}
	var result []string
	for _, t := range requested {
		if archivedSet[t] {
			result = append(result, t)
		}
	}
	return result
}
