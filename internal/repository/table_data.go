package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/medflow-emr/archive-module/internal/domain/model"
)

// TableDataRepository — работа с данными произвольных доменных таблиц.
// Имена таблиц и колонок приходят из системного каталога и из реестра
// модулей, но всё равно экранируются через pgx.Identifier.
type TableDataRepository interface {
	// CreateTable создаёт таблицу по описанию колонок и первичному ключу.
	CreateTable(ctx context.Context, table string, columns []model.ColumnDescriptor, pkColumns []string) error
	// ReadRows читает все строки таблицы. Если olderThan задан,
	// возвращаются только строки с created_at раньше указанного момента.
	// Возвращает имена колонок в порядке таблицы и сами строки.
	ReadRows(ctx context.Context, table string, olderThan *time.Time) ([]string, []map[string]any, error)
	// ReadPage читает страницу строк таблицы для просмотра содержимого.
	ReadPage(ctx context.Context, table string, limit, offset int) ([]string, []map[string]any, error)
	// CountRows возвращает количество строк в таблице.
	CountRows(ctx context.Context, table string) (int, error)
	// InsertSkipConflicts вставляет строки по одной с ON CONFLICT DO NOTHING.
	// Возвращает количество вставленных и пропущенных строк.
	InsertSkipConflicts(ctx context.Context, db DBTX, table string, columns []string, rows []map[string]any) (added, skipped int, err error)
	// Truncate очищает таблицу.
	Truncate(ctx context.Context, db DBTX, table string) error
}

// tableDataRepo — реализация TableDataRepository.
type tableDataRepo struct {
	db DBTX
}

// NewTableDataRepository создаёт репозиторий данных доменных таблиц.
func NewTableDataRepository(db DBTX) TableDataRepository {
	return &tableDataRepo{db: db}
}

// ident экранирует идентификатор PostgreSQL.
func ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func (r *tableDataRepo) CreateTable(ctx context.Context, table string, columns []model.ColumnDescriptor, pkColumns []string) error {
	defs := make([]string, 0, len(columns)+1)
	for _, col := range columns {
		def := ident(col.Name) + " " + columnType(col)
		if !col.Nullable {
			def += " NOT NULL"
		}
		if col.Default != nil {
			def += " DEFAULT " + *col.Default
		}
		defs = append(defs, def)
	}
	if len(pkColumns) > 0 {
		quoted := make([]string, len(pkColumns))
		for i, c := range pkColumns {
			quoted[i] = ident(c)
		}
		defs = append(defs, "PRIMARY KEY ("+strings.Join(quoted, ", ")+")")
	}

	query := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", ident(table), strings.Join(defs, ", "))
	if _, err := r.db.Exec(ctx, query); err != nil {
		return fmt.Errorf("ошибка создания таблицы %s: %w", table, err)
	}
	return nil
}

// columnType восстанавливает SQL-тип колонки из information_schema.
func columnType(col model.ColumnDescriptor) string {
	switch col.DataType {
	case "character varying":
		if col.MaxLength != nil {
			return fmt.Sprintf("varchar(%d)", *col.MaxLength)
		}
		return "varchar"
	case "character":
		if col.MaxLength != nil {
			return fmt.Sprintf("char(%d)", *col.MaxLength)
		}
		return "char"
	case "ARRAY":
		// information_schema не раскрывает тип элементов массива,
		// храним как text[] — для холодного хранилища этого достаточно.
		return "text[]"
	case "USER-DEFINED":
		// Пользовательские типы (enum) архивной базе не известны.
		return "text"
	default:
		return col.DataType
	}
}

func (r *tableDataRepo) ReadRows(ctx context.Context, table string, olderThan *time.Time) ([]string, []map[string]any, error) {
	query := fmt.Sprintf("SELECT * FROM %s", ident(table))
	var args []any
	if olderThan != nil {
		query += " WHERE created_at < $1"
		args = append(args, *olderThan)
	}

	return r.readAll(ctx, table, query, args...)
}

func (r *tableDataRepo) ReadPage(ctx context.Context, table string, limit, offset int) ([]string, []map[string]any, error) {
	query := fmt.Sprintf("SELECT * FROM %s LIMIT $1 OFFSET $2", ident(table))
	return r.readAll(ctx, table, query, limit, offset)
}

// readAll выполняет запрос и собирает строки в срез map колонка->значение.
func (r *tableDataRepo) readAll(ctx context.Context, table, query string, args ...any) ([]string, []map[string]any, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("ошибка чтения таблицы %s: %w", table, err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = f.Name
	}

	var result []map[string]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, nil, fmt.Errorf("ошибка чтения строки таблицы %s: %w", table, err)
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("ошибка обхода таблицы %s: %w", table, err)
	}
	return columns, result, nil
}

func (r *tableDataRepo) CountRows(ctx context.Context, table string) (int, error) {
	var count int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", ident(table))
	if err := r.db.QueryRow(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта строк таблицы %s: %w", table, err)
	}
	return count, nil
}

func (r *tableDataRepo) InsertSkipConflicts(ctx context.Context, db DBTX, table string, columns []string, rows []map[string]any) (int, int, error) {
	if len(rows) == 0 || len(columns) == 0 {
		return 0, 0, nil
	}

	quoted := make([]string, len(columns))
	placeholders := make([]string, len(columns))
	for i, col := range columns {
		quoted[i] = ident(col)
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT DO NOTHING",
		ident(table), strings.Join(quoted, ", "), strings.Join(placeholders, ", "))

	var added, skipped int
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return added, skipped, err
		}
		args := make([]any, len(columns))
		for i, col := range columns {
			args[i] = row[col]
		}
		tag, err := db.Exec(ctx, query, args...)
		if err != nil {
			// Ошибка отдельной строки считается пропуском
			// и не прерывает перенос остальных строк.
			skipped++
			continue
		}
		if tag.RowsAffected() == 0 {
			skipped++
		} else {
			added++
		}
	}
	return added, skipped, nil
}

func (r *tableDataRepo) Truncate(ctx context.Context, db DBTX, table string) error {
	query := fmt.Sprintf("TRUNCATE TABLE %s", ident(table))
	if _, err := db.Exec(ctx, query); err != nil {
		return fmt.Errorf("ошибка очистки таблицы %s: %w", table, err)
	}
	return nil
}
