package repository

import (
	"context"
	"fmt"

	"github.com/medflow-emr/archive-module/internal/domain/model"
)

// CatalogRepository — чтение системного каталога PostgreSQL (information_schema).
// Используется репликатором схем для сравнения операционной и архивной базы.
type CatalogRepository interface {
	// TableExists проверяет наличие таблицы в схеме public.
	TableExists(ctx context.Context, table string) (bool, error)
	// Columns возвращает описание колонок таблицы в порядке ordinal_position.
	// Для несуществующей таблицы возвращает пустой срез.
	Columns(ctx context.Context, table string) ([]model.ColumnDescriptor, error)
	// PrimaryKeyColumns возвращает колонки первичного ключа таблицы.
	PrimaryKeyColumns(ctx context.Context, table string) ([]string, error)
}

// catalogRepo — реализация CatalogRepository.
type catalogRepo struct {
	db DBTX
}

// NewCatalogRepository создаёт репозиторий системного каталога.
func NewCatalogRepository(db DBTX) CatalogRepository {
	return &catalogRepo{db: db}
}

func (r *catalogRepo) TableExists(ctx context.Context, table string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = 'public' AND table_name = $1
		)`

	var exists bool
	if err := r.db.QueryRow(ctx, query, table).Scan(&exists); err != nil {
		return false, fmt.Errorf("ошибка проверки таблицы %s: %w", table, err)
	}
	return exists, nil
}

func (r *catalogRepo) Columns(ctx context.Context, table string) ([]model.ColumnDescriptor, error) {
	query := `
		SELECT column_name, data_type, character_maximum_length,
			is_nullable = 'YES', column_default
		FROM information_schema.columns
		WHERE table_schema = 'public' AND table_name = $1
		ORDER BY ordinal_position`

	rows, err := r.db.Query(ctx, query, table)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения колонок таблицы %s: %w", table, err)
	}
	defer rows.Close()

	var result []model.ColumnDescriptor
	for rows.Next() {
		var col model.ColumnDescriptor
		if err := rows.Scan(&col.Name, &col.DataType, &col.MaxLength, &col.Nullable, &col.Default); err != nil {
			return nil, fmt.Errorf("ошибка сканирования колонки: %w", err)
		}
		result = append(result, col)
	}
	return result, rows.Err()
}

func (r *catalogRepo) PrimaryKeyColumns(ctx context.Context, table string) ([]string, error) {
	query := `
		SELECT kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON kcu.constraint_name = tc.constraint_name
			AND kcu.table_schema = tc.table_schema
		WHERE tc.table_schema = 'public'
			AND tc.table_name = $1
			AND tc.constraint_type = 'PRIMARY KEY'
		ORDER BY kcu.ordinal_position`

	rows, err := r.db.Query(ctx, query, table)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения первичного ключа таблицы %s: %w", table, err)
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("ошибка сканирования колонки ключа: %w", err)
		}
		result = append(result, name)
	}
	return result, rows.Err()
}
