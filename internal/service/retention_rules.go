// retention_rules.go — сервис управления правилами автоматической архивации.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/medflow-emr/archive-module/internal/domain/model"
	"github.com/medflow-emr/archive-module/internal/domain/modules"
	"github.com/medflow-emr/archive-module/internal/repository"
)

// RuleInput — входные данные создания и частичного обновления правила.
// nil-поле при обновлении означает "оставить как есть".
type RuleInput struct {
	RuleName           *string
	Description        *string
	Enabled            *bool
	SelectedModules    []string
	ScheduleType       *string
	ScheduleTime       *string
	ScheduleDayOfWeek  *int
	ScheduleDayOfMonth *int
	ScheduleCron       *string
	RetentionDays      *int
	RetentionCriteria  map[string]any
}

// RetentionRuleService — CRUD правил архивации.
type RetentionRuleService struct {
	ruleRepo repository.RetentionRuleRepository
	logger   *slog.Logger
	now      func() time.Time
}

// NewRetentionRuleService создаёт сервис правил архивации.
func NewRetentionRuleService(ruleRepo repository.RetentionRuleRepository, logger *slog.Logger) *RetentionRuleService {
	return &RetentionRuleService{
		ruleRepo: ruleRepo,
		logger:   logger.With(slog.String("component", "retention_rules")),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create создаёт правило и вычисляет начальное время запуска.
func (s *RetentionRuleService) Create(ctx context.Context, input RuleInput, createdBy *string) (*model.RetentionRule, error) {
	rule := &model.RetentionRule{
		Enabled:      true,
		ScheduleType: model.ScheduleDaily,
		ScheduleTime: "02:00",
		CreatedBy:    createdBy,
	}
	applyInput(rule, input)

	if err := s.validate(rule); err != nil {
		return nil, err
	}
	if strings.TrimSpace(rule.RuleName) == "" {
		return nil, fmt.Errorf("%w: имя правила обязательно", ErrValidation)
	}
	if len(rule.SelectedModules) == 0 {
		return nil, fmt.Errorf("%w: не выбран ни один модуль", ErrValidation)
	}

	next := NextRun(rule, s.now())
	rule.NextRunAt = &next

	if err := s.ruleRepo.Create(ctx, rule); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%w: правило с именем %q уже существует", ErrConflict, rule.RuleName)
		}
		return nil, err
	}

	s.logger.Info("Правило архивации создано",
		slog.String("rule_id", rule.ID),
		slog.String("rule_name", rule.RuleName),
		slog.String("schedule_type", rule.ScheduleType),
		slog.Any("next_run_at", rule.NextRunAt),
	)
	return rule, nil
}

// Get возвращает правило по ID.
func (s *RetentionRuleService) Get(ctx context.Context, id string) (*model.RetentionRule, error) {
	rule, err := s.ruleRepo.GetByID(ctx, id)
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return rule, nil
}

// List возвращает правила и общее количество.
func (s *RetentionRuleService) List(ctx context.Context, limit, offset int) ([]*model.RetentionRule, int, error) {
	rules, err := s.ruleRepo.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.ruleRepo.Count(ctx)
	if err != nil {
		return nil, 0, err
	}
	return rules, total, nil
}

// Update выполняет частичное обновление правила: заданные поля
// накладываются на текущее состояние, время следующего запуска
// пересчитывается по новому расписанию.
func (s *RetentionRuleService) Update(ctx context.Context, id string, input RuleInput) (*model.RetentionRule, error) {
	rule, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	applyInput(rule, input)
	if err := s.validate(rule); err != nil {
		return nil, err
	}

	next := NextRun(rule, s.now())
	rule.NextRunAt = &next

	if err := s.ruleRepo.Update(ctx, rule); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%w: правило с именем %q уже существует", ErrConflict, rule.RuleName)
		}
		return nil, err
	}

	s.logger.Info("Правило архивации обновлено",
		slog.String("rule_id", rule.ID),
		slog.String("rule_name", rule.RuleName),
	)
	return rule, nil
}

// Delete удаляет правило.
func (s *RetentionRuleService) Delete(ctx context.Context, id string) error {
	if err := s.ruleRepo.Delete(ctx, id); err != nil {
		if err == repository.ErrNotFound {
			return ErrNotFound
		}
		return err
	}
	s.logger.Info("Правило архивации удалено", slog.String("rule_id", id))
	return nil
}

// Toggle инвертирует флаг enabled правила.
func (s *RetentionRuleService) Toggle(ctx context.Context, id string) (*model.RetentionRule, error) {
	rule, err := s.ruleRepo.Toggle(ctx, id)
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	s.logger.Info("Правило архивации переключено",
		slog.String("rule_id", rule.ID),
		slog.Bool("enabled", rule.Enabled),
	)
	return rule, nil
}

// applyInput накладывает заданные поля input на правило.
func applyInput(rule *model.RetentionRule, input RuleInput) {
	if input.RuleName != nil {
		rule.RuleName = *input.RuleName
	}
	if input.Description != nil {
		rule.Description = input.Description
	}
	if input.Enabled != nil {
		rule.Enabled = *input.Enabled
	}
	if input.SelectedModules != nil {
		rule.SelectedModules = input.SelectedModules
	}
	if input.ScheduleType != nil {
		rule.ScheduleType = *input.ScheduleType
	}
	if input.ScheduleTime != nil {
		rule.ScheduleTime = *input.ScheduleTime
	}
	if input.ScheduleDayOfWeek != nil {
		rule.ScheduleDayOfWeek = input.ScheduleDayOfWeek
	}
	if input.ScheduleDayOfMonth != nil {
		rule.ScheduleDayOfMonth = input.ScheduleDayOfMonth
	}
	if input.ScheduleCron != nil {
		rule.ScheduleCron = input.ScheduleCron
	}
	if input.RetentionDays != nil {
		rule.RetentionDays = input.RetentionDays
	}
	if input.RetentionCriteria != nil {
		rule.RetentionCriteria = input.RetentionCriteria
	}
}

// validate проверяет согласованность полей правила.
func (s *RetentionRuleService) validate(rule *model.RetentionRule) error {
	switch rule.ScheduleType {
	case model.ScheduleDaily, model.ScheduleWeekly, model.ScheduleMonthly, model.ScheduleCustom:
	default:
		return fmt.Errorf("%w: некорректный тип расписания %q", ErrValidation, rule.ScheduleType)
	}

	if rule.ScheduleTime != "" {
		var h, m int
		if _, err := fmt.Sscanf(rule.ScheduleTime, "%d:%d", &h, &m); err != nil ||
			h < 0 || h > 23 || m < 0 || m > 59 {
			return fmt.Errorf("%w: некорректное время запуска %q, ожидается HH:MM", ErrValidation, rule.ScheduleTime)
		}
	}
	if rule.ScheduleType == model.ScheduleWeekly {
		if rule.ScheduleDayOfWeek == nil || *rule.ScheduleDayOfWeek < 0 || *rule.ScheduleDayOfWeek > 6 {
			return fmt.Errorf("%w: для weekly нужен день недели 0-6", ErrValidation)
		}
	}
	if rule.ScheduleType == model.ScheduleMonthly {
		if rule.ScheduleDayOfMonth == nil || *rule.ScheduleDayOfMonth < 1 || *rule.ScheduleDayOfMonth > 31 {
			return fmt.Errorf("%w: для monthly нужен день месяца 1-31", ErrValidation)
		}
	}
	if rule.RetentionDays != nil && *rule.RetentionDays <= 0 {
		return fmt.Errorf("%w: retention_days должен быть положительным", ErrValidation)
	}
	if invalid := modules.Validate(rule.SelectedModules); len(invalid) > 0 {
		return fmt.Errorf("%w: неизвестные модули: %s", ErrValidation, strings.Join(invalid, ", "))
	}
	return nil
}
