package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/medflow-emr/archive-module/internal/domain/model"
)

// ArchiveMetadataRepository — интерфейс реестра архивов (архивная база).
type ArchiveMetadataRepository interface {
	// Create сохраняет запись архива, заполняет ID и ArchiveDate.
	Create(ctx context.Context, a *model.ArchiveMetadata) error
	// GetByID возвращает архив по UUID.
	GetByID(ctx context.Context, id string) (*model.ArchiveMetadata, error)
	// List возвращает архивы с фильтром по статусу, новые первыми.
	List(ctx context.Context, status *string, limit, offset int) ([]*model.ArchiveMetadata, error)
	// Count возвращает количество архивов с фильтром по статусу.
	Count(ctx context.Context, status *string) (int, error)
	// UpdateStatus меняет статус архива.
	UpdateStatus(ctx context.Context, id, status string) error
	// Delete удаляет запись архива. db позволяет выполнить удаление в транзакции.
	Delete(ctx context.Context, db DBTX, id string) error
	// Stats возвращает сводную статистику реестра.
	Stats(ctx context.Context) (*model.ArchiveStats, error)
}

// archiveMetadataRepo — реализация ArchiveMetadataRepository.
type archiveMetadataRepo struct {
	db DBTX
}

// NewArchiveMetadataRepository создаёт репозиторий реестра архивов.
func NewArchiveMetadataRepository(db DBTX) ArchiveMetadataRepository {
	return &archiveMetadataRepo{db: db}
}

func (r *archiveMetadataRepo) Create(ctx context.Context, a *model.ArchiveMetadata) error {
	query := `
		INSERT INTO archive_metadata (archive_name, description, archived_tables,
			archived_modules, record_counts, archived_by, status, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, archive_date`

	err := r.db.QueryRow(ctx, query,
		a.ArchiveName, a.Description, a.ArchivedTables, a.ArchivedModules,
		a.RecordCounts, a.ArchivedBy, a.Status, a.Metadata,
	).Scan(&a.ID, &a.ArchiveDate)
	if err != nil {
		return fmt.Errorf("ошибка сохранения метаданных архива: %w", err)
	}
	return nil
}

func (r *archiveMetadataRepo) GetByID(ctx context.Context, id string) (*model.ArchiveMetadata, error) {
	query := `
		SELECT id, archive_name, description, archived_tables, archived_modules,
			record_counts, archived_by, status, metadata, archive_date
		FROM archive_metadata
		WHERE id = $1`

	a := &model.ArchiveMetadata{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&a.ID, &a.ArchiveName, &a.Description, &a.ArchivedTables, &a.ArchivedModules,
		&a.RecordCounts, &a.ArchivedBy, &a.Status, &a.Metadata, &a.ArchiveDate,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения архива: %w", err)
	}
	return a, nil
}

func (r *archiveMetadataRepo) List(ctx context.Context, status *string, limit, offset int) ([]*model.ArchiveMetadata, error) {
	var conditions []string
	var args []any
	argNum := 1

	if status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argNum))
		args = append(args, *status)
		argNum++
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf(`
		SELECT id, archive_name, description, archived_tables, archived_modules,
			record_counts, archived_by, status, metadata, archive_date
		FROM archive_metadata
		%s
		ORDER BY archive_date DESC
		LIMIT $%d OFFSET $%d`, where, argNum, argNum+1)

	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка архивов: %w", err)
	}
	defer rows.Close()

	var result []*model.ArchiveMetadata
	for rows.Next() {
		a := &model.ArchiveMetadata{}
		if err := rows.Scan(
			&a.ID, &a.ArchiveName, &a.Description, &a.ArchivedTables, &a.ArchivedModules,
			&a.RecordCounts, &a.ArchivedBy, &a.Status, &a.Metadata, &a.ArchiveDate,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования архива: %w", err)
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func (r *archiveMetadataRepo) Count(ctx context.Context, status *string) (int, error) {
	query := `SELECT COUNT(*) FROM archive_metadata`
	var args []any
	if status != nil {
		query += ` WHERE status = $1`
		args = append(args, *status)
	}

	var count int
	if err := r.db.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта архивов: %w", err)
	}
	return count, nil
}

func (r *archiveMetadataRepo) UpdateStatus(ctx context.Context, id, status string) error {
	tag, err := r.db.Exec(ctx, `UPDATE archive_metadata SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("ошибка обновления статуса архива: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *archiveMetadataRepo) Delete(ctx context.Context, db DBTX, id string) error {
	tag, err := db.Exec(ctx, `DELETE FROM archive_metadata WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ошибка удаления архива: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *archiveMetadataRepo) Stats(ctx context.Context) (*model.ArchiveStats, error) {
	stats := &model.ArchiveStats{ByStatus: map[string]int{}}

	// Итоги по metadata jsonb: total_records и total_size_bytes
	query := `
		SELECT COUNT(*),
			COALESCE(SUM((metadata->>'total_records')::bigint), 0),
			COALESCE(SUM((metadata->>'total_size_bytes')::bigint), 0)
		FROM archive_metadata`
	err := r.db.QueryRow(ctx, query).Scan(&stats.TotalArchives, &stats.TotalRecords, &stats.TotalSizeBytes)
	if err != nil {
		return nil, fmt.Errorf("ошибка подсчёта статистики архивов: %w", err)
	}

	rows, err := r.db.Query(ctx, `SELECT status, COUNT(*) FROM archive_metadata GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("ошибка подсчёта архивов по статусам: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("ошибка сканирования статистики: %w", err)
		}
		stats.ByStatus[status] = count
	}
	return stats, rows.Err()
}
