// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import "errors"

var (
	// ErrNotFound — ресурс не найден.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrConflict — конфликт (дублирующийся ресурс).
	ErrConflict = errors.New("конфликт — ресурс уже существует")
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
	// ErrAlreadyRestored — архив уже восстановлен.
	ErrAlreadyRestored = errors.New("архив уже восстановлен")
	// ErrRuleRunning — правило уже выполняется.
	ErrRuleRunning = errors.New("правило уже выполняется")
)
