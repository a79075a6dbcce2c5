// archives.go — сервис реестра архивов: просмотр, статистика, удаление.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/medflow-emr/archive-module/internal/domain/model"
	"github.com/medflow-emr/archive-module/internal/repository"
)

// ArchiveService — операции над реестром архивов.
type ArchiveService struct {
	metaRepo repository.ArchiveMetadataRepository
	archData repository.TableDataRepository
	txRunner *repository.TxRunner
	logger   *slog.Logger
}

// NewArchiveService создаёт сервис реестра архивов.
// txRunner работает с пулом архивной базы: удаление метаданных
// и очистка таблиц выполняются одной транзакцией.
func NewArchiveService(
	metaRepo repository.ArchiveMetadataRepository,
	archData repository.TableDataRepository,
	txRunner *repository.TxRunner,
	logger *slog.Logger,
) *ArchiveService {
	return &ArchiveService{
		metaRepo: metaRepo,
		archData: archData,
		txRunner: txRunner,
		logger:   logger.With(slog.String("component", "archives")),
	}
}

// List возвращает архивы с фильтром по статусу и общее количество.
func (s *ArchiveService) List(ctx context.Context, status *string, limit, offset int) ([]*model.ArchiveMetadata, int, error) {
	if status != nil && *status != model.ArchiveStatusActive && *status != model.ArchiveStatusRestored {
		return nil, 0, fmt.Errorf("%w: некорректный статус %q", ErrValidation, *status)
	}

	archives, err := s.metaRepo.List(ctx, status, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.metaRepo.Count(ctx, status)
	if err != nil {
		return nil, 0, err
	}
	return archives, total, nil
}

// Get возвращает архив по ID.
func (s *ArchiveService) Get(ctx context.Context, id string) (*model.ArchiveMetadata, error) {
	meta, err := s.metaRepo.GetByID(ctx, id)
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return meta, nil
}

// Stats возвращает сводную статистику реестра.
func (s *ArchiveService) Stats(ctx context.Context) (*model.ArchiveStats, error) {
	return s.metaRepo.Stats(ctx)
}

// Browse возвращает страницу данных одной заархивированной таблицы.
// table должен входить в archived_tables архива.
func (s *ArchiveService) Browse(ctx context.Context, id, table string, limit, offset int) (*model.TablePreview, error) {
	meta, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !contains(meta.ArchivedTables, table) {
		return nil, fmt.Errorf("%w: таблица %q не входит в архив", ErrValidation, table)
	}

	total, err := s.archData.CountRows(ctx, table)
	if err != nil {
		return nil, err
	}
	_, rows, err := s.archData.ReadPage(ctx, table, limit, offset)
	if err != nil {
		return nil, err
	}
	return &model.TablePreview{Table: table, TotalRows: total, Rows: rows}, nil
}

// BrowseSummary возвращает сводку по всем таблицам архива:
// количество строк и первые previewRows строк каждой таблицы.
func (s *ArchiveService) BrowseSummary(ctx context.Context, id string, previewRows int) ([]model.TablePreview, error) {
	meta, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	result := make([]model.TablePreview, 0, len(meta.ArchivedTables))
	for _, table := range meta.ArchivedTables {
		total, err := s.archData.CountRows(ctx, table)
		if err != nil {
			s.logger.Warn("Ошибка подсчёта строк архивной таблицы",
				slog.String("table", table),
				slog.String("error", err.Error()),
			)
			continue
		}
		_, rows, err := s.archData.ReadPage(ctx, table, previewRows, 0)
		if err != nil {
			s.logger.Warn("Ошибка чтения архивной таблицы",
				slog.String("table", table),
				slog.String("error", err.Error()),
			)
			continue
		}
		result = append(result, model.TablePreview{Table: table, TotalRows: total, Rows: rows})
	}
	return result, nil
}

// Delete удаляет запись архива. При deleteData дополнительно очищаются
// заархивированные таблицы в холодном хранилище — одной транзакцией
// с удалением метаданных.
func (s *ArchiveService) Delete(ctx context.Context, id string, deleteData bool) error {
	meta, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	err = s.txRunner.RunInTx(ctx, func(tx pgx.Tx) error {
		if deleteData {
			for _, table := range meta.ArchivedTables {
				if err := s.archData.Truncate(ctx, tx, table); err != nil {
					return err
				}
			}
		}
		return s.metaRepo.Delete(ctx, tx, id)
	})
	if err != nil {
		if err == repository.ErrNotFound {
			return ErrNotFound
		}
		return err
	}

	s.logger.Info("Архив удалён",
		slog.String("archive_id", id),
		slog.String("archive_name", meta.ArchiveName),
		slog.Bool("delete_data", deleteData),
	)
	return nil
}

// contains проверяет наличие строки в срезе.
func contains(items []string, target string) bool {
	for _, item := range items {
		if item == target {
			return true
		}
	}
	return false
}
