// scheduler.go — планировщик правил автоматической архивации.
//
// Scheduler запускает фоновую горутину с ticker (ARM_SCHEDULER_POLL_INTERVAL),
// которая на каждом тике выбирает due-правила и запускает для каждого
// движок архивации. Повторный запуск одного правила исключается
// in-process run-token'ом: пока запуск не завершился, правило
// пропускается на последующих тиках.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/medflow-emr/archive-module/internal/domain/model"
	"github.com/medflow-emr/archive-module/internal/repository"
)

// ArchiveRunner — движок архивации с точки зрения планировщика.
// Реализуется ArchiveCreator.
type ArchiveRunner interface {
	CreateArchive(ctx context.Context, params ArchiveCreateParams) (*model.ArchiveMetadata, error)
}

// Scheduler — фоновый планировщик правил архивации.
type Scheduler struct {
	ruleRepo     repository.RetentionRuleRepository
	creator      ArchiveRunner
	interval     time.Duration
	staleTimeout time.Duration
	logger       *slog.Logger
	now          func() time.Time

	// run-токены выполняющихся правил (ключ — id правила)
	mu      sync.Mutex
	running map[string]bool
	runs    sync.WaitGroup

	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler создаёт планировщик правил архивации.
func NewScheduler(
	ruleRepo repository.RetentionRuleRepository,
	creator ArchiveRunner,
	interval time.Duration,
	staleTimeout time.Duration,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		ruleRepo:     ruleRepo,
		creator:      creator,
		interval:     interval,
		staleTimeout: staleTimeout,
		logger:       logger.With(slog.String("component", "scheduler")),
		now:          func() time.Time { return time.Now().UTC() },
		running:      map[string]bool{},
	}
}

// Start запускает фоновую горутину планировщика.
// Вызывается один раз при старте приложения.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		s.logger.Info("Планировщик правил архивации запущен",
			slog.String("interval", s.interval.String()),
			slog.String("stale_timeout", s.staleTimeout.String()),
		)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("Планировщик правил архивации остановлен")
				return
			case <-ticker.C:
				s.Tick(ctx)
			}
		}
	}()
}

// Stop останавливает планировщик и ждёт завершения запущенных правил.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
	s.runs.Wait()
}

// Tick выбирает due-правила и запускает каждое в отдельной горутине.
// Правило с удерживаемым run-token'ом пропускается до следующего тика.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now()
	rules, err := s.ruleRepo.ListDue(ctx, now, s.staleTimeout)
	if err != nil {
		s.logger.Error("Ошибка выборки due-правил", slog.String("error", err.Error()))
		return
	}
	if len(rules) == 0 {
		return
	}

	s.logger.Info("Найдены due-правила", slog.Int("count", len(rules)))

	for _, rule := range rules {
		if !s.acquire(rule.ID) {
			s.logger.Debug("Правило уже выполняется, пропуск",
				slog.String("rule_id", rule.ID),
				slog.String("rule_name", rule.RuleName),
			)
			continue
		}

		if err := s.ruleRepo.MarkRunning(ctx, rule.ID, now); err != nil {
			s.logger.Error("Ошибка пометки правила running",
				slog.String("rule_id", rule.ID),
				slog.String("error", err.Error()),
			)
			s.release(rule.ID)
			continue
		}

		s.runs.Add(1)
		go func(rule *model.RetentionRule) {
			defer s.runs.Done()
			defer s.release(rule.ID)
			s.runRule(ctx, rule)
		}(rule)
	}
}

// TriggerRule запускает правило вне расписания (ручной запуск).
// Выполнение асинхронное: итог попадает в last_run_status правила.
func (s *Scheduler) TriggerRule(ctx context.Context, id string) error {
	rule, err := s.ruleRepo.GetByID(ctx, id)
	if err != nil {
		if err == repository.ErrNotFound {
			return ErrNotFound
		}
		return err
	}

	if !s.acquire(rule.ID) {
		return ErrRuleRunning
	}

	if err := s.ruleRepo.MarkRunning(ctx, rule.ID, s.now()); err != nil {
		s.release(rule.ID)
		return err
	}

	s.logger.Info("Ручной запуск правила",
		slog.String("rule_id", rule.ID),
		slog.String("rule_name", rule.RuleName),
	)

	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		defer s.release(rule.ID)
		// Запуск переживает исходный HTTP-запрос
		s.runRule(context.WithoutCancel(ctx), rule)
	}()
	return nil
}

// runRule выполняет один запуск правила: архивация выбранных модулей
// с фильтром по возрасту строк, фиксация результата и нового next_run_at.
// При неудаче next_run_at не пересчитывается — правило остаётся due
// и повторится на следующем тике.
func (s *Scheduler) runRule(ctx context.Context, rule *model.RetentionRule) {
	now := s.now()

	params := ArchiveCreateParams{
		ArchiveName:     fmt.Sprintf("auto-%s-%s", rule.RuleName, now.Format("20060102-150405")),
		SelectedModules: rule.SelectedModules,
		RuleID:          rule.ID,
		RuleName:        rule.RuleName,
	}
	if rule.RetentionDays != nil {
		cutoff := now.AddDate(0, 0, -*rule.RetentionDays)
		params.OlderThan = &cutoff
	}

	meta, err := s.creator.CreateArchive(ctx, params)
	if err != nil {
		s.logger.Error("Запуск правила завершился ошибкой",
			slog.String("rule_id", rule.ID),
			slog.String("rule_name", rule.RuleName),
			slog.String("error", err.Error()),
		)
		details := &model.RunDetails{Error: err.Error()}
		if err := s.ruleRepo.RecordFailure(ctx, rule.ID, details); err != nil {
			s.logger.Error("Ошибка фиксации неудачного запуска",
				slog.String("rule_id", rule.ID),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	details := &model.RunDetails{
		ArchiveID:    meta.ID,
		ArchiveName:  meta.ArchiveName,
		TotalRecords: meta.Metadata.TotalRecords,
		RecordCounts: meta.RecordCounts,
	}
	nextRun := NextRun(rule, s.now())
	if err := s.ruleRepo.RecordSuccess(ctx, rule.ID, details, nextRun); err != nil {
		s.logger.Error("Ошибка фиксации успешного запуска",
			slog.String("rule_id", rule.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	s.logger.Info("Правило выполнено",
		slog.String("rule_id", rule.ID),
		slog.String("rule_name", rule.RuleName),
		slog.String("archive_id", meta.ID),
		slog.Int("total_records", meta.Metadata.TotalRecords),
		slog.Time("next_run_at", nextRun),
	)
}

// acquire пытается захватить run-token правила.
func (s *Scheduler) acquire(ruleID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[ruleID] {
		return false
	}
	s.running[ruleID] = true
	return true
}

// release освобождает run-token правила.
func (s *Scheduler) release(ruleID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, ruleID)
}
