package model

import "time"

// Статусы архива.
const (
	// ArchiveStatusActive — архив создан, данные в холодном хранилище.
	ArchiveStatusActive = "active"
	// ArchiveStatusRestored — архив восстановлен в операционную базу.
	ArchiveStatusRestored = "restored"
)

// ArchiveMetadata — запись реестра архивов.
// Хранится в таблице archive_metadata архивной базы.
type ArchiveMetadata struct {
	// ID — UUID архива
	ID string
	// ArchiveName — имя архива
	ArchiveName string
	// Description — описание (может быть nil)
	Description *string
	// ArchivedTables — все таблицы, по которым прошла архивация
	// (включая пустые и пропущенные из-за ошибок)
	ArchivedTables []string
	// ArchivedModules — модули, выбранные при создании
	ArchivedModules []string
	// RecordCounts — количество заархивированных строк по таблицам
	RecordCounts map[string]int
	// ArchivedBy — кто создал архив (nil для автоматических запусков)
	ArchivedBy *string
	// Status — статус (active, restored)
	Status string
	// Metadata — служебные данные архива
	Metadata ArchiveRunInfo
	// ArchiveDate — время создания архива
	ArchiveDate time.Time
}

// ArchiveRunInfo — служебные данные запуска архивации (поле metadata).
type ArchiveRunInfo struct {
	// Timestamp — время запуска (RFC 3339)
	Timestamp string `json:"timestamp"`
	// Automated — true, если архив создан планировщиком
	Automated bool `json:"automated"`
	// RuleID — UUID правила (только для автоматических запусков)
	RuleID string `json:"rule_id,omitempty"`
	// RuleName — имя правила (только для автоматических запусков)
	RuleName string `json:"rule_name,omitempty"`
	// TotalSizeBytes — оценка объёма заархивированных данных
	TotalSizeBytes int64 `json:"total_size_bytes"`
	// TotalRecords — всего заархивировано строк
	TotalRecords int `json:"total_records"`
}

// TotalRecords суммирует количество строк по всем таблицам архива.
func (a *ArchiveMetadata) TotalRecords() int {
	total := 0
	for _, c := range a.RecordCounts {
		total += c
	}
	return total
}

// RestoreResult — итог восстановления архива.
type RestoreResult struct {
	// ArchiveID — UUID восстановленного архива
	ArchiveID string
	// ArchiveName — имя архива
	ArchiveName string
	// Tables — результаты по таблицам (в порядке обработки)
	Tables []TableRestoreResult
	// TotalAdded — всего добавлено строк
	TotalAdded int
	// TotalSkipped — всего пропущено строк (уже существовали)
	TotalSkipped int
	// Errors — ошибки по таблицам, не прервавшие восстановление
	Errors []string
}

// TableRestoreResult — результат восстановления одной таблицы.
type TableRestoreResult struct {
	// Table — имя таблицы
	Table string
	// Added — добавлено строк
	Added int
	// Skipped — пропущено строк (конфликт первичного ключа)
	Skipped int
}

// ArchiveStats — сводная статистика по реестру архивов.
type ArchiveStats struct {
	// TotalArchives — всего архивов
	TotalArchives int
	// TotalRecords — всего заархивировано строк
	TotalRecords int
	// TotalSizeBytes — суммарная оценка объёма
	TotalSizeBytes int64
	// ByStatus — количество архивов по статусам
	ByStatus map[string]int
}

// TablePreview — страница данных одной заархивированной таблицы.
type TablePreview struct {
	// Table — имя таблицы
	Table string
	// TotalRows — всего строк в таблице архива
	TotalRows int
	// Rows — строки текущей страницы (колонка → значение)
	Rows []map[string]any
}
