// next_run.go — вычисление времени следующего запуска правила архивации.
package service

import (
	"fmt"
	"time"

	"github.com/medflow-emr/archive-module/internal/domain/model"
)

// NextRun вычисляет время следующего запуска правила строго после now.
//
//   - daily: ближайшее schedule_time; если сегодня уже прошло — завтра
//   - weekly: ближайший schedule_day_of_week в schedule_time
//   - monthly: schedule_day_of_month в schedule_time; день обрезается
//     до последнего дня месяца (31 число в феврале — 28/29)
//   - custom: заглушка "через час" до появления полноценного cron
func NextRun(rule *model.RetentionRule, now time.Time) time.Time {
	hour, minute := parseScheduleTime(rule.ScheduleTime)

	switch rule.ScheduleType {
	case model.ScheduleWeekly:
		target := 0
		if rule.ScheduleDayOfWeek != nil {
			target = *rule.ScheduleDayOfWeek
		}
		candidate := atTime(now, hour, minute)
		daysAhead := (target - int(now.Weekday()) + 7) % 7
		candidate = candidate.AddDate(0, 0, daysAhead)
		if !candidate.After(now) {
			candidate = candidate.AddDate(0, 0, 7)
		}
		return candidate

	case model.ScheduleMonthly:
		day := 1
		if rule.ScheduleDayOfMonth != nil {
			day = *rule.ScheduleDayOfMonth
		}
		candidate := monthlyAt(now.Year(), now.Month(), day, hour, minute, now.Location())
		if !candidate.After(now) {
			next := now.AddDate(0, 0, -now.Day()+1).AddDate(0, 1, 0)
			candidate = monthlyAt(next.Year(), next.Month(), day, hour, minute, now.Location())
		}
		return candidate

	case model.ScheduleCustom:
		return now.Add(time.Hour)

	default: // daily
		candidate := atTime(now, hour, minute)
		if !candidate.After(now) {
			candidate = candidate.AddDate(0, 0, 1)
		}
		return candidate
	}
}

// parseScheduleTime разбирает время запуска в формате HH:MM.
// При некорректном значении используется 02:00.
func parseScheduleTime(s string) (hour, minute int) {
	if _, err := fmt.Sscanf(s, "%d:%d", &hour, &minute); err != nil ||
		hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 2, 0
	}
	return hour, minute
}

// atTime возвращает момент в день now с заданным временем суток.
func atTime(now time.Time, hour, minute int) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
}

// monthlyAt возвращает момент в заданном месяце, обрезая день
// до последнего дня месяца.
func monthlyAt(year int, month time.Month, day, hour, minute int, loc *time.Location) time.Time {
	last := time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
	if day > last {
		day = last
	}
	return time.Date(year, month, day, hour, minute, 0, 0, loc)
}
