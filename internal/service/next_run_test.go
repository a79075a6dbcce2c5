package service

import (
	"testing"
	"time"

	"github.com/medflow-emr/archive-module/internal/domain/model"
)

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("Ошибка парсинга времени %q: %v", s, err)
	}
	return parsed
}

func intPtr(v int) *int { return &v }

func TestNextRun(t *testing.T) {
	tests := []struct {
		name string
		rule model.RetentionRule
		now  string
		want string
	}{
		{
			name: "daily — время ещё не прошло сегодня",
			rule: model.RetentionRule{ScheduleType: model.ScheduleDaily, ScheduleTime: "02:00"},
			now:  "2026-03-10T01:30:00Z",
			want: "2026-03-10T02:00:00Z",
		},
		{
			name: "daily — время уже прошло, завтра",
			rule: model.RetentionRule{ScheduleType: model.ScheduleDaily, ScheduleTime: "02:00"},
			now:  "2026-03-10T02:00:00Z",
			want: "2026-03-11T02:00:00Z",
		},
		{
			name: "weekly — воскресенье 02:00, сейчас среда",
			rule: model.RetentionRule{ScheduleType: model.ScheduleWeekly, ScheduleTime: "02:00",
				ScheduleDayOfWeek: intPtr(0)},
			now:  "2026-03-11T10:00:00Z", // среда
			want: "2026-03-15T02:00:00Z", // воскресенье
		},
		{
			name: "weekly — целевой день сегодня, время прошло",
			rule: model.RetentionRule{ScheduleType: model.ScheduleWeekly, ScheduleTime: "02:00",
				ScheduleDayOfWeek: intPtr(0)},
			now:  "2026-03-15T03:00:00Z", // воскресенье после 02:00
			want: "2026-03-22T02:00:00Z",
		},
		{
			name: "weekly — целевой день сегодня, время впереди",
			rule: model.RetentionRule{ScheduleType: model.ScheduleWeekly, ScheduleTime: "23:00",
				ScheduleDayOfWeek: intPtr(0)},
			now:  "2026-03-15T03:00:00Z",
			want: "2026-03-15T23:00:00Z",
		},
		{
			name: "monthly — число впереди в текущем месяце",
			rule: model.RetentionRule{ScheduleType: model.ScheduleMonthly, ScheduleTime: "04:30",
				ScheduleDayOfMonth: intPtr(15)},
			now:  "2026-03-10T00:00:00Z",
			want: "2026-03-15T04:30:00Z",
		},
		{
			name: "monthly — число прошло, следующий месяц",
			rule: model.RetentionRule{ScheduleType: model.ScheduleMonthly, ScheduleTime: "04:30",
				ScheduleDayOfMonth: intPtr(5)},
			now:  "2026-03-10T00:00:00Z",
			want: "2026-04-05T04:30:00Z",
		},
		{
			name: "monthly — 31 число в апреле обрезается до 30",
			rule: model.RetentionRule{ScheduleType: model.ScheduleMonthly, ScheduleTime: "02:00",
				ScheduleDayOfMonth: intPtr(31)},
			now:  "2026-04-01T00:00:00Z",
			want: "2026-04-30T02:00:00Z",
		},
		{
			name: "monthly — 31 число в феврале обрезается до 28",
			rule: model.RetentionRule{ScheduleType: model.ScheduleMonthly, ScheduleTime: "02:00",
				ScheduleDayOfMonth: intPtr(31)},
			now:  "2026-02-01T00:00:00Z",
			want: "2026-02-28T02:00:00Z",
		},
		{
			name: "custom — через час",
			rule: model.RetentionRule{ScheduleType: model.ScheduleCustom, ScheduleTime: "02:00"},
			now:  "2026-03-10T10:15:00Z",
			want: "2026-03-10T11:15:00Z",
		},
		{
			name: "некорректное время — fallback 02:00",
			rule: model.RetentionRule{ScheduleType: model.ScheduleDaily, ScheduleTime: "мусор"},
			now:  "2026-03-10T01:00:00Z",
			want: "2026-03-10T02:00:00Z",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now := mustTime(t, tt.now)
			got := NextRun(&tt.rule, now)
			want := mustTime(t, tt.want)
			if !got.Equal(want) {
				t.Errorf("NextRun() = %v, хотели %v", got, want)
			}
		})
	}
}

// NextRun всегда строго после now — для любого типа расписания.
func TestNextRun_StrictlyAfterNow(t *testing.T) {
	moments := []string{
		"2026-01-01T00:00:00Z",
		"2026-02-28T23:59:00Z",
		"2026-03-15T02:00:00Z", // ровно schedule_time
		"2026-12-31T23:00:00Z",
	}
	rules := []model.RetentionRule{
		{ScheduleType: model.ScheduleDaily, ScheduleTime: "02:00"},
		{ScheduleType: model.ScheduleWeekly, ScheduleTime: "02:00", ScheduleDayOfWeek: intPtr(0)},
		{ScheduleType: model.ScheduleMonthly, ScheduleTime: "02:00", ScheduleDayOfMonth: intPtr(31)},
		{ScheduleType: model.ScheduleCustom, ScheduleTime: "02:00"},
	}

	for _, m := range moments {
		now := mustTime(t, m)
		for _, rule := range rules {
			got := NextRun(&rule, now)
			if !got.After(now) {
				t.Errorf("NextRun(%s, now=%s) = %v — не строго после now",
					rule.ScheduleType, m, got)
			}
		}
	}
}
