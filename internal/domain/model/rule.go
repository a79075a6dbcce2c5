package model

import "time"

// Типы расписаний правил архивации.
const (
	ScheduleDaily   = "daily"
	ScheduleWeekly  = "weekly"
	ScheduleMonthly = "monthly"
	ScheduleCustom  = "custom"
)

// Статусы последнего запуска правила.
const (
	RunStatusRunning = "running"
	RunStatusSuccess = "success"
	RunStatusFailed  = "failed"
)

// RetentionRule — правило автоматической архивации.
// Хранится в таблице archive_rules операционной базы.
type RetentionRule struct {
	// ID — UUID правила
	ID string
	// RuleName — уникальное имя правила
	RuleName string
	// Description — описание (может быть nil)
	Description *string
	// Enabled — включено ли правило
	Enabled bool
	// SelectedModules — ключи модулей для архивации
	SelectedModules []string
	// ScheduleType — тип расписания (daily, weekly, monthly, custom)
	ScheduleType string
	// ScheduleTime — время запуска в формате HH:MM
	ScheduleTime string
	// ScheduleDayOfWeek — день недели 0-6, воскресенье = 0 (для weekly)
	ScheduleDayOfWeek *int
	// ScheduleDayOfMonth — день месяца 1-31 (для monthly)
	ScheduleDayOfMonth *int
	// ScheduleCron — cron-выражение (для custom, пока не интерпретируется)
	ScheduleCron *string
	// RetentionDays — архивировать строки старше N дней (nil — все строки)
	RetentionDays *int
	// RetentionCriteria — дополнительные критерии отбора (зарезервировано)
	RetentionCriteria map[string]any
	// LastRunAt — время последнего запуска
	LastRunAt *time.Time
	// LastRunStatus — статус последнего запуска (running, success, failed)
	LastRunStatus *string
	// LastRunDetails — детали последнего запуска
	LastRunDetails *RunDetails
	// NextRunAt — время следующего запуска
	NextRunAt *time.Time
	// CreatedBy — кто создал правило
	CreatedBy *string
	// CreatedAt — время создания записи
	CreatedAt time.Time
	// UpdatedAt — время последнего обновления
	UpdatedAt time.Time
}

// RunDetails — детали запуска правила (поле last_run_details).
type RunDetails struct {
	// ArchiveID — UUID созданного архива (при успехе)
	ArchiveID string `json:"archive_id,omitempty"`
	// ArchiveName — имя созданного архива (при успехе)
	ArchiveName string `json:"archive_name,omitempty"`
	// TotalRecords — заархивировано строк (при успехе)
	TotalRecords int `json:"total_records,omitempty"`
	// RecordCounts — строки по таблицам (при успехе)
	RecordCounts map[string]int `json:"record_counts,omitempty"`
	// Error — сообщение об ошибке (при неудаче)
	Error string `json:"error,omitempty"`
}
