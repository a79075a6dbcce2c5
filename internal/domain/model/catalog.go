package model

// ColumnDescriptor — описание колонки из information_schema.columns.
// Используется репликатором схемы и проекцией строк при восстановлении.
type ColumnDescriptor struct {
	// Name — имя колонки
	Name string
	// DataType — тип данных PostgreSQL (data_type)
	DataType string
	// MaxLength — максимальная длина для символьных типов (может быть nil)
	MaxLength *int
	// Nullable — допускает ли NULL
	Nullable bool
	// Default — выражение по умолчанию (может быть nil)
	Default *string
}

// TableStructureResult — итог обеспечения структуры таблицы в архивной базе.
type TableStructureResult struct {
	// Created — таблица была создана этим вызовом
	Created bool
	// Available — таблица пригодна для записи строк
	Available bool
}
