// archive_create.go — движок создания архивов.
//
// ArchiveCreator переносит данные выбранных модулей из операционной базы
// в холодное хранилище:
//  1. Валидация имени архива и ключей модулей
//  2. Для каждой таблицы модуля (в порядке модуль → таблица):
//     репликация структуры → чтение строк → insert-or-skip в архивную базу
//  3. Запись итоговых метаданных в archive_metadata
//
// Операция устойчива к частичным сбоям: ошибка отдельной таблицы или строки
// уменьшает счётчики, но не прерывает перенос остальных таблиц.
//
// Prometheus-метрики:
//   - archive_module_runs_total — запуски архивации (по триггеру и статусу)
//   - archive_module_run_duration_seconds — длительность архивации
//   - archive_module_rows_total — перенесённые строки (added / skipped)
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/medflow-emr/archive-module/internal/domain/model"
	"github.com/medflow-emr/archive-module/internal/domain/modules"
	"github.com/medflow-emr/archive-module/internal/repository"
)

// Prometheus-метрики движка архивации.
var (
	archiveRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "archive_module_runs_total",
		Help: "Количество запусков архивации",
	}, []string{"trigger", "status"}) // trigger: manual, scheduled; status: success, failed

	archiveRunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "archive_module_run_duration_seconds",
		Help:    "Длительность запуска архивации",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 0.1s … ~204s
	}, []string{"trigger"})

	archiveRowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "archive_module_rows_total",
		Help: "Количество строк, обработанных при архивации",
	}, []string{"table", "operation"}) // operation: added, skipped
)

// ArchiveCreateParams — параметры запуска архивации.
type ArchiveCreateParams struct {
	// ArchiveName — имя архива (обязательно)
	ArchiveName string
	// Description — описание архива
	Description *string
	// SelectedModules — ключи модулей (обязательно, все должны быть известны)
	SelectedModules []string
	// OlderThan — архивировать только строки старше момента
	// (используется правилами с retention_days)
	OlderThan *time.Time
	// ArchivedBy — идентификатор пользователя (nil для планировщика)
	ArchivedBy *string
	// RuleID, RuleName — правило-инициатор (только для планировщика)
	RuleID   string
	RuleName string
}

// automated — true, если архив создаётся планировщиком.
func (p *ArchiveCreateParams) automated() bool {
	return p.RuleID != ""
}

// ArchiveCreator — движок создания архивов.
type ArchiveCreator struct {
	replicator *SchemaReplicator
	opData     repository.TableDataRepository
	archData   repository.TableDataRepository
	archDB     repository.DBTX
	metaRepo   repository.ArchiveMetadataRepository
	logger     *slog.Logger
}

// NewArchiveCreator создаёт движок архивации.
func NewArchiveCreator(
	replicator *SchemaReplicator,
	opData repository.TableDataRepository,
	archData repository.TableDataRepository,
	archDB repository.DBTX,
	metaRepo repository.ArchiveMetadataRepository,
	logger *slog.Logger,
) *ArchiveCreator {
	return &ArchiveCreator{
		replicator: replicator,
		opData:     opData,
		archData:   archData,
		archDB:     archDB,
		metaRepo:   metaRepo,
		logger:     logger.With(slog.String("component", "archive_create")),
	}
}

// CreateArchive выполняет архивацию выбранных модулей.
//
// Ошибки валидации (пустое имя, пустой или неизвестный список модулей)
// возвращаются до начала переноса данных. Отсутствующая в операционной
// базе таблица пропускается и в archived_tables не попадает; существующая
// таблица попадает туда всегда, даже при нуле строк.
func (s *ArchiveCreator) CreateArchive(ctx context.Context, params ArchiveCreateParams) (*model.ArchiveMetadata, error) {
	if strings.TrimSpace(params.ArchiveName) == "" {
		return nil, fmt.Errorf("%w: имя архива обязательно", ErrValidation)
	}
	if len(params.SelectedModules) == 0 {
		return nil, fmt.Errorf("%w: не выбран ни один модуль", ErrValidation)
	}
	if invalid := modules.Validate(params.SelectedModules); len(invalid) > 0 {
		return nil, fmt.Errorf("%w: неизвестные модули: %s", ErrValidation, strings.Join(invalid, ", "))
	}

	trigger := "manual"
	if params.automated() {
		trigger = "scheduled"
	}
	startedAt := time.Now().UTC()

	s.logger.Info("Запуск архивации",
		slog.String("archive_name", params.ArchiveName),
		slog.Any("modules", params.SelectedModules),
		slog.String("trigger", trigger),
	)

	archivedTables := []string{}
	recordCounts := map[string]int{}
	totalRecords := 0
	var totalSizeBytes int64

	for _, table := range modules.TablesFor(params.SelectedModules) {
		result := s.replicator.EnsureTableStructure(ctx, table)
		if !result.Available {
			continue
		}

		columns, rows, err := s.opData.ReadRows(ctx, table, params.OlderThan)

		// Таблица существует — фиксируем попытку независимо от числа строк
		archivedTables = append(archivedTables, table)
		recordCounts[table] = 0

		if err != nil {
			s.logger.Warn("Ошибка чтения таблицы, пропуск",
				slog.String("table", table),
				slog.String("error", err.Error()),
			)
			continue
		}
		if len(rows) == 0 {
			continue
		}

		totalSizeBytes += estimateSize(rows)

		added, skipped, err := s.archData.InsertSkipConflicts(ctx, s.archDB, table, columns, rows)
		if err != nil {
			return nil, fmt.Errorf("перенос таблицы %s: %w", table, err)
		}
		recordCounts[table] = added
		totalRecords += added

		archiveRowsTotal.WithLabelValues(table, "added").Add(float64(added))
		archiveRowsTotal.WithLabelValues(table, "skipped").Add(float64(skipped))

		s.logger.Debug("Таблица заархивирована",
			slog.String("table", table),
			slog.Int("added", added),
			slog.Int("skipped", skipped),
		)
	}

	meta := &model.ArchiveMetadata{
		ArchiveName:     params.ArchiveName,
		Description:     params.Description,
		ArchivedTables:  archivedTables,
		ArchivedModules: params.SelectedModules,
		RecordCounts:    recordCounts,
		ArchivedBy:      params.ArchivedBy,
		Status:          model.ArchiveStatusActive,
		Metadata: model.ArchiveRunInfo{
			Timestamp:      startedAt.Format(time.RFC3339),
			Automated:      params.automated(),
			RuleID:         params.RuleID,
			RuleName:       params.RuleName,
			TotalSizeBytes: totalSizeBytes,
			TotalRecords:   totalRecords,
		},
	}

	if err := s.metaRepo.Create(ctx, meta); err != nil {
		archiveRunsTotal.WithLabelValues(trigger, "failed").Inc()
		return nil, err
	}

	duration := time.Since(startedAt).Seconds()
	archiveRunsTotal.WithLabelValues(trigger, "success").Inc()
	archiveRunDuration.WithLabelValues(trigger).Observe(duration)

	s.logger.Info("Архивация завершена",
		slog.String("archive_id", meta.ID),
		slog.String("archive_name", meta.ArchiveName),
		slog.Int("tables", len(archivedTables)),
		slog.Int("total_records", totalRecords),
		slog.Int64("total_size_bytes", totalSizeBytes),
		slog.String("duration", fmt.Sprintf("%.2fs", duration)),
	)

	return meta, nil
}

// estimateSize оценивает объём данных таблицы:
// размер первой строки в JSON × количество строк.
// Оценка приблизительная, точный байтовый размер не нужен.
func estimateSize(rows []map[string]any) int64 {
	if len(rows) == 0 {
		return 0
	}
	first, err := json.Marshal(rows[0])
	if err != nil {
		return 0
	}
	return int64(len(first)) * int64(len(rows))
}
