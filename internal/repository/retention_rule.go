package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/medflow-emr/archive-module/internal/domain/model"
)

// RetentionRuleRepository — интерфейс CRUD и run-state таблицы archive_rules
// (операционная база).
type RetentionRuleRepository interface {
	// Create создаёт правило, заполняет ID, CreatedAt, UpdatedAt.
	Create(ctx context.Context, rule *model.RetentionRule) error
	// GetByID возвращает правило по UUID.
	GetByID(ctx context.Context, id string) (*model.RetentionRule, error)
	// List возвращает правила, новые первыми.
	List(ctx context.Context, limit, offset int) ([]*model.RetentionRule, error)
	// Count возвращает количество правил.
	Count(ctx context.Context) (int, error)
	// Update обновляет правило целиком.
	Update(ctx context.Context, rule *model.RetentionRule) error
	// Delete удаляет правило.
	Delete(ctx context.Context, id string) error
	// Toggle инвертирует enabled и возвращает обновлённое правило.
	Toggle(ctx context.Context, id string) (*model.RetentionRule, error)
	// ListDue возвращает правила, готовые к запуску на момент now.
	// Правило со статусом running считается зависшим и снова due,
	// если last_run_at старше staleTimeout.
	ListDue(ctx context.Context, now time.Time, staleTimeout time.Duration) ([]*model.RetentionRule, error)
	// MarkRunning помечает правило выполняющимся.
	MarkRunning(ctx context.Context, id string, at time.Time) error
	// RecordSuccess фиксирует успешный запуск и новое время next_run_at.
	RecordSuccess(ctx context.Context, id string, details *model.RunDetails, nextRunAt time.Time) error
	// RecordFailure фиксирует неудачный запуск. next_run_at не меняется:
	// правило остаётся due и повторится на следующем тике.
	RecordFailure(ctx context.Context, id string, details *model.RunDetails) error
}

// retentionRuleRepo — реализация RetentionRuleRepository.
type retentionRuleRepo struct {
	db DBTX
}

// NewRetentionRuleRepository создаёт репозиторий правил архивации.
func NewRetentionRuleRepository(db DBTX) RetentionRuleRepository {
	return &retentionRuleRepo{db: db}
}

// ruleColumns — общий список колонок для SELECT.
const ruleColumns = `id, rule_name, description, enabled, selected_modules,
	schedule_type, to_char(schedule_time, 'HH24:MI'), schedule_day_of_week, schedule_day_of_month,
	schedule_cron, retention_days, retention_criteria,
	last_run_at, last_run_status, last_run_details, next_run_at,
	created_by, created_at, updated_at`

// scanRule сканирует одну строку archive_rules.
func scanRule(row pgx.Row) (*model.RetentionRule, error) {
	rule := &model.RetentionRule{}
	err := row.Scan(
		&rule.ID, &rule.RuleName, &rule.Description, &rule.Enabled, &rule.SelectedModules,
		&rule.ScheduleType, &rule.ScheduleTime, &rule.ScheduleDayOfWeek, &rule.ScheduleDayOfMonth,
		&rule.ScheduleCron, &rule.RetentionDays, &rule.RetentionCriteria,
		&rule.LastRunAt, &rule.LastRunStatus, &rule.LastRunDetails, &rule.NextRunAt,
		&rule.CreatedBy, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return rule, nil
}

func (r *retentionRuleRepo) Create(ctx context.Context, rule *model.RetentionRule) error {
	query := `
		INSERT INTO archive_rules (rule_name, description, enabled, selected_modules,
			schedule_type, schedule_time, schedule_day_of_week, schedule_day_of_month,
			schedule_cron, retention_days, retention_criteria, next_run_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6::time, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		rule.RuleName, rule.Description, rule.Enabled, rule.SelectedModules,
		rule.ScheduleType, rule.ScheduleTime, rule.ScheduleDayOfWeek, rule.ScheduleDayOfMonth,
		rule.ScheduleCron, rule.RetentionDays, rule.RetentionCriteria, rule.NextRunAt, rule.CreatedBy,
	).Scan(&rule.ID, &rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: правило с именем %q уже существует", ErrConflict, rule.RuleName)
		}
		return fmt.Errorf("ошибка создания правила: %w", err)
	}
	return nil
}

func (r *retentionRuleRepo) GetByID(ctx context.Context, id string) (*model.RetentionRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM archive_rules WHERE id = $1`

	rule, err := scanRule(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения правила: %w", err)
	}
	return rule, nil
}

func (r *retentionRuleRepo) List(ctx context.Context, limit, offset int) ([]*model.RetentionRule, error) {
	query := `SELECT ` + ruleColumns + `
		FROM archive_rules
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`

	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка правил: %w", err)
	}
	defer rows.Close()

	var result []*model.RetentionRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования правила: %w", err)
		}
		result = append(result, rule)
	}
	return result, rows.Err()
}

func (r *retentionRuleRepo) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM archive_rules`).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта правил: %w", err)
	}
	return count, nil
}

func (r *retentionRuleRepo) Update(ctx context.Context, rule *model.RetentionRule) error {
	query := `
		UPDATE archive_rules
		SET rule_name = $2, description = $3, enabled = $4, selected_modules = $5,
			schedule_type = $6, schedule_time = $7::time, schedule_day_of_week = $8,
			schedule_day_of_month = $9, schedule_cron = $10, retention_days = $11,
			retention_criteria = $12, next_run_at = $13, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`

	err := r.db.QueryRow(ctx, query,
		rule.ID, rule.RuleName, rule.Description, rule.Enabled, rule.SelectedModules,
		rule.ScheduleType, rule.ScheduleTime, rule.ScheduleDayOfWeek,
		rule.ScheduleDayOfMonth, rule.ScheduleCron, rule.RetentionDays,
		rule.RetentionCriteria, rule.NextRunAt,
	).Scan(&rule.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ErrNotFound
		}
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: правило с именем %q уже существует", ErrConflict, rule.RuleName)
		}
		return fmt.Errorf("ошибка обновления правила: %w", err)
	}
	return nil
}

func (r *retentionRuleRepo) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM archive_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ошибка удаления правила: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *retentionRuleRepo) Toggle(ctx context.Context, id string) (*model.RetentionRule, error) {
	query := `
		UPDATE archive_rules
		SET enabled = NOT enabled, updated_at = now()
		WHERE id = $1
		RETURNING ` + ruleColumns

	rule, err := scanRule(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка переключения правила: %w", err)
	}
	return rule, nil
}

func (r *retentionRuleRepo) ListDue(ctx context.Context, now time.Time, staleTimeout time.Duration) ([]*model.RetentionRule, error) {
	// Статус running игнорируется, если last_run_at старше staleTimeout:
	// упавший процесс не должен навсегда блокировать правило.
	query := `SELECT ` + ruleColumns + `
		FROM archive_rules
		WHERE enabled = true
			AND next_run_at IS NOT NULL
			AND next_run_at <= $1
			AND (last_run_status IS NULL
				OR last_run_status != 'running'
				OR last_run_at < $2)
		ORDER BY next_run_at`

	rows, err := r.db.Query(ctx, query, now, now.Add(-staleTimeout))
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки due-правил: %w", err)
	}
	defer rows.Close()

	var result []*model.RetentionRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования due-правила: %w", err)
		}
		result = append(result, rule)
	}
	return result, rows.Err()
}

func (r *retentionRuleRepo) MarkRunning(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE archive_rules
		SET last_run_status = 'running', last_run_at = $2, updated_at = now()
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("ошибка пометки правила running: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *retentionRuleRepo) RecordSuccess(ctx context.Context, id string, details *model.RunDetails, nextRunAt time.Time) error {
	query := `
		UPDATE archive_rules
		SET last_run_status = 'success', last_run_details = $2,
			next_run_at = $3, updated_at = now()
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, details, nextRunAt)
	if err != nil {
		return fmt.Errorf("ошибка фиксации успешного запуска: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *retentionRuleRepo) RecordFailure(ctx context.Context, id string, details *model.RunDetails) error {
	query := `
		UPDATE archive_rules
		SET last_run_status = 'failed', last_run_details = $2, updated_at = now()
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, details)
	if err != nil {
		return fmt.Errorf("ошибка фиксации неудачного запуска: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
