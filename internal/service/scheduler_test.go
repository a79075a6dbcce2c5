package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/medflow-emr/archive-module/internal/domain/model"
	"github.com/medflow-emr/archive-module/internal/repository"
)

// fakeRuleRepo — in-memory реализация RetentionRuleRepository.
type fakeRuleRepo struct {
	mu    sync.Mutex
	seq   int
	rules map[string]*model.RetentionRule
}

func newFakeRuleRepo() *fakeRuleRepo {
	return &fakeRuleRepo{rules: map[string]*model.RetentionRule{}}
}

func (f *fakeRuleRepo) Create(_ context.Context, rule *model.RetentionRule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	rule.ID = fmt.Sprintf("rule-%d", f.seq)
	cp := *rule
	f.rules[rule.ID] = &cp
	return nil
}

func (f *fakeRuleRepo) GetByID(_ context.Context, id string) (*model.RetentionRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rule, ok := f.rules[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *rule
	return &cp, nil
}

func (f *fakeRuleRepo) List(_ context.Context, _, _ int) ([]*model.RetentionRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []*model.RetentionRule
	for _, r := range f.rules {
		cp := *r
		result = append(result, &cp)
	}
	return result, nil
}

func (f *fakeRuleRepo) Count(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rules), nil
}

func (f *fakeRuleRepo) Update(_ context.Context, rule *model.RetentionRule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *rule
	f.rules[rule.ID] = &cp
	return nil
}

func (f *fakeRuleRepo) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rules, id)
	return nil
}

func (f *fakeRuleRepo) Toggle(_ context.Context, id string) (*model.RetentionRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rule := f.rules[id]
	rule.Enabled = !rule.Enabled
	cp := *rule
	return &cp, nil
}

func (f *fakeRuleRepo) ListDue(_ context.Context, now time.Time, staleTimeout time.Duration) ([]*model.RetentionRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []*model.RetentionRule
	for _, r := range f.rules {
		if !r.Enabled || r.NextRunAt == nil || r.NextRunAt.After(now) {
			continue
		}
		if r.LastRunStatus != nil && *r.LastRunStatus == model.RunStatusRunning &&
			r.LastRunAt != nil && !r.LastRunAt.Before(now.Add(-staleTimeout)) {
			continue
		}
		cp := *r
		result = append(result, &cp)
	}
	return result, nil
}

func (f *fakeRuleRepo) MarkRunning(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	status := model.RunStatusRunning
	f.rules[id].LastRunStatus = &status
	f.rules[id].LastRunAt = &at
	return nil
}

func (f *fakeRuleRepo) RecordSuccess(_ context.Context, id string, details *model.RunDetails, nextRunAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	status := model.RunStatusSuccess
	f.rules[id].LastRunStatus = &status
	f.rules[id].LastRunDetails = details
	f.rules[id].NextRunAt = &nextRunAt
	return nil
}

func (f *fakeRuleRepo) RecordFailure(_ context.Context, id string, details *model.RunDetails) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	status := model.RunStatusFailed
	f.rules[id].LastRunStatus = &status
	f.rules[id].LastRunDetails = details
	return nil
}

// fakeCreator — движок архивации для тестов планировщика.
type fakeCreator struct {
	mu     sync.Mutex
	calls  int
	params []ArchiveCreateParams
	block  chan struct{} // если задан, CreateArchive ждёт закрытия
	err    error
}

func (f *fakeCreator) CreateArchive(_ context.Context, params ArchiveCreateParams) (*model.ArchiveMetadata, error) {
	f.mu.Lock()
	f.calls++
	f.params = append(f.params, params)
	block := f.block
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if f.err != nil {
		return nil, f.err
	}
	return &model.ArchiveMetadata{
		ID:           "archive-1",
		ArchiveName:  params.ArchiveName,
		RecordCounts: map[string]int{"tasks": 7},
		Status:       model.ArchiveStatusActive,
		Metadata:     model.ArchiveRunInfo{Automated: true, TotalRecords: 7},
	}, nil
}

func (f *fakeCreator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func dueRule(t *testing.T, repo *fakeRuleRepo, name string) *model.RetentionRule {
	t.Helper()
	past := time.Now().UTC().Add(-time.Minute)
	retention := 30
	rule := &model.RetentionRule{
		RuleName:        name,
		Enabled:         true,
		SelectedModules: []string{"tasks"},
		ScheduleType:    model.ScheduleDaily,
		ScheduleTime:    "02:00",
		RetentionDays:   &retention,
		NextRunAt:       &past,
	}
	if err := repo.Create(context.Background(), rule); err != nil {
		t.Fatalf("Создание правила: %v", err)
	}
	return rule
}

// Перекрывающиеся тики не приводят к двойному запуску одного правила:
// run-token удерживается до завершения первого запуска.
func TestSchedulerSingleRunOnOverlappingTicks(t *testing.T) {
	repo := newFakeRuleRepo()
	rule := dueRule(t, repo, "overlap")

	creator := &fakeCreator{block: make(chan struct{})}
	// staleTimeout=0: ListDue возвращает правило даже в статусе running,
	// единственная защита от двойного запуска — run-token
	s := NewScheduler(repo, creator, time.Minute, 0, testLogger())

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Tick(ctx)
		}()
	}
	wg.Wait()

	// Оба тика прошли, запуск ещё выполняется
	if got := creator.callCount(); got != 1 {
		t.Errorf("CreateArchive вызван %d раз, хотели 1", got)
	}

	close(creator.block)
	s.runs.Wait()

	got, _ := repo.GetByID(ctx, rule.ID)
	if got.LastRunStatus == nil || *got.LastRunStatus != model.RunStatusSuccess {
		t.Errorf("LastRunStatus = %v, хотели success", got.LastRunStatus)
	}
}

func TestSchedulerSuccessRun(t *testing.T) {
	repo := newFakeRuleRepo()
	rule := dueRule(t, repo, "nightly")
	creator := &fakeCreator{}
	s := NewScheduler(repo, creator, time.Minute, 2*time.Hour, testLogger())

	ctx := context.Background()
	before := time.Now().UTC()
	s.Tick(ctx)
	s.runs.Wait()

	if creator.callCount() != 1 {
		t.Fatalf("CreateArchive вызван %d раз, хотели 1", creator.callCount())
	}

	// Имя архива детерминировано выводится из имени правила
	params := creator.params[0]
	if !strings.HasPrefix(params.ArchiveName, "auto-nightly-") {
		t.Errorf("ArchiveName = %q, хотели префикс auto-nightly-", params.ArchiveName)
	}
	if params.RuleID != rule.ID || params.RuleName != "nightly" {
		t.Errorf("Параметры правила: RuleID=%q, RuleName=%q", params.RuleID, params.RuleName)
	}
	if params.OlderThan == nil {
		t.Error("OlderThan не задан при retention_days=30")
	}
	if params.ArchivedBy != nil {
		t.Error("ArchivedBy должен быть nil для автоматического запуска")
	}

	got, _ := repo.GetByID(ctx, rule.ID)
	if got.LastRunStatus == nil || *got.LastRunStatus != model.RunStatusSuccess {
		t.Fatalf("LastRunStatus = %v, хотели success", got.LastRunStatus)
	}
	if got.LastRunDetails == nil || got.LastRunDetails.ArchiveID != "archive-1" {
		t.Errorf("LastRunDetails = %+v, хотели ArchiveID=archive-1", got.LastRunDetails)
	}
	if got.LastRunDetails.TotalRecords != 7 {
		t.Errorf("TotalRecords = %d, хотели 7", got.LastRunDetails.TotalRecords)
	}
	if got.NextRunAt == nil || !got.NextRunAt.After(before) {
		t.Errorf("NextRunAt = %v — не пересчитан после успеха", got.NextRunAt)
	}
}

// Неудачный запуск не пересчитывает next_run_at: правило остаётся due
// и повторится на следующем тике.
func TestSchedulerFailureKeepsNextRun(t *testing.T) {
	repo := newFakeRuleRepo()
	rule := dueRule(t, repo, "broken")
	originalNext := *rule.NextRunAt

	creator := &fakeCreator{err: errors.New("архивная база недоступна")}
	s := NewScheduler(repo, creator, time.Minute, 2*time.Hour, testLogger())

	ctx := context.Background()
	s.Tick(ctx)
	s.runs.Wait()

	got, _ := repo.GetByID(ctx, rule.ID)
	if got.LastRunStatus == nil || *got.LastRunStatus != model.RunStatusFailed {
		t.Fatalf("LastRunStatus = %v, хотели failed", got.LastRunStatus)
	}
	if got.LastRunDetails == nil || got.LastRunDetails.Error == "" {
		t.Errorf("LastRunDetails = %+v, хотели сообщение об ошибке", got.LastRunDetails)
	}
	if got.NextRunAt == nil || !got.NextRunAt.Equal(originalNext) {
		t.Errorf("NextRunAt = %v, хотели без изменений %v", got.NextRunAt, originalNext)
	}
}

func TestSchedulerTriggerRule(t *testing.T) {
	repo := newFakeRuleRepo()
	rule := dueRule(t, repo, "manual")
	creator := &fakeCreator{}
	s := NewScheduler(repo, creator, time.Minute, 2*time.Hour, testLogger())

	ctx := context.Background()
	if err := s.TriggerRule(ctx, rule.ID); err != nil {
		t.Fatalf("TriggerRule() ошибка: %v", err)
	}
	s.runs.Wait()

	if creator.callCount() != 1 {
		t.Errorf("CreateArchive вызван %d раз, хотели 1", creator.callCount())
	}
	got, _ := repo.GetByID(ctx, rule.ID)
	if got.LastRunStatus == nil || *got.LastRunStatus != model.RunStatusSuccess {
		t.Errorf("LastRunStatus = %v, хотели success", got.LastRunStatus)
	}

	if err := s.TriggerRule(ctx, "no-such-rule"); !errors.Is(err, ErrNotFound) {
		t.Errorf("TriggerRule(несуществующее) = %v, хотели ErrNotFound", err)
	}
}

func TestSchedulerTriggerWhileRunning(t *testing.T) {
	repo := newFakeRuleRepo()
	rule := dueRule(t, repo, "busy")
	creator := &fakeCreator{block: make(chan struct{})}
	s := NewScheduler(repo, creator, time.Minute, 2*time.Hour, testLogger())

	ctx := context.Background()
	if err := s.TriggerRule(ctx, rule.ID); err != nil {
		t.Fatalf("Первый TriggerRule() ошибка: %v", err)
	}

	// Токен удерживается — повторный запуск отклоняется
	if err := s.TriggerRule(ctx, rule.ID); !errors.Is(err, ErrRuleRunning) {
		t.Errorf("Повторный TriggerRule() = %v, хотели ErrRuleRunning", err)
	}

	close(creator.block)
	s.runs.Wait()

	// После завершения токен освобождён
	if err := s.TriggerRule(ctx, rule.ID); err != nil {
		t.Errorf("TriggerRule() после завершения: %v", err)
	}
	s.runs.Wait()
}
