// retention_rules.go — обработчики /api/v1/archive-rules endpoints.
// CRUD правил автоматической архивации, toggle и ручной запуск.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	apierrors "github.com/medflow-emr/archive-module/internal/api/errors"
	"github.com/medflow-emr/archive-module/internal/api/middleware"
	"github.com/medflow-emr/archive-module/internal/domain/model"
	"github.com/medflow-emr/archive-module/internal/service"
)

// ruleResponse — представление правила в API.
type ruleResponse struct {
	ID                 string            `json:"id"`
	RuleName           string            `json:"rule_name"`
	Description        *string           `json:"description,omitempty"`
	Enabled            bool              `json:"enabled"`
	SelectedModules    []string          `json:"selected_modules"`
	ScheduleType       string            `json:"schedule_type"`
	ScheduleTime       string            `json:"schedule_time"`
	ScheduleDayOfWeek  *int              `json:"schedule_day_of_week,omitempty"`
	ScheduleDayOfMonth *int              `json:"schedule_day_of_month,omitempty"`
	ScheduleCron       *string           `json:"schedule_cron,omitempty"`
	RetentionDays      *int              `json:"retention_days,omitempty"`
	RetentionCriteria  map[string]any    `json:"retention_criteria,omitempty"`
	LastRunAt          *time.Time        `json:"last_run_at,omitempty"`
	LastRunStatus      *string           `json:"last_run_status,omitempty"`
	LastRunDetails     *model.RunDetails `json:"last_run_details,omitempty"`
	NextRunAt          *time.Time        `json:"next_run_at,omitempty"`
	CreatedBy          *string           `json:"created_by,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// mapRule конвертирует domain model в API-представление.
func mapRule(rule *model.RetentionRule) ruleResponse {
	return ruleResponse{
		ID:                 rule.ID,
		RuleName:           rule.RuleName,
		Description:        rule.Description,
		Enabled:            rule.Enabled,
		SelectedModules:    rule.SelectedModules,
		ScheduleType:       rule.ScheduleType,
		ScheduleTime:       rule.ScheduleTime,
		ScheduleDayOfWeek:  rule.ScheduleDayOfWeek,
		ScheduleDayOfMonth: rule.ScheduleDayOfMonth,
		ScheduleCron:       rule.ScheduleCron,
		RetentionDays:      rule.RetentionDays,
		RetentionCriteria:  rule.RetentionCriteria,
		LastRunAt:          rule.LastRunAt,
		LastRunStatus:      rule.LastRunStatus,
		LastRunDetails:     rule.LastRunDetails,
		NextRunAt:          rule.NextRunAt,
		CreatedBy:          rule.CreatedBy,
		CreatedAt:          rule.CreatedAt,
		UpdatedAt:          rule.UpdatedAt,
	}
}

// ruleRequest — тело запроса создания/обновления правила.
// nil-поля при обновлении означают "оставить как есть".
type ruleRequest struct {
	RuleName           *string        `json:"rule_name,omitempty"`
	Description        *string        `json:"description,omitempty"`
	Enabled            *bool          `json:"enabled,omitempty"`
	SelectedModules    []string       `json:"selected_modules,omitempty"`
	ScheduleType       *string        `json:"schedule_type,omitempty"`
	ScheduleTime       *string        `json:"schedule_time,omitempty"`
	ScheduleDayOfWeek  *int           `json:"schedule_day_of_week,omitempty"`
	ScheduleDayOfMonth *int           `json:"schedule_day_of_month,omitempty"`
	ScheduleCron       *string        `json:"schedule_cron,omitempty"`
	RetentionDays      *int           `json:"retention_days,omitempty"`
	RetentionCriteria  map[string]any `json:"retention_criteria,omitempty"`
}

// toRuleInput конвертирует API-запрос во входные данные сервиса.
func (req *ruleRequest) toRuleInput() service.RuleInput {
	return service.RuleInput{
		RuleName:           req.RuleName,
		Description:        req.Description,
		Enabled:            req.Enabled,
		SelectedModules:    req.SelectedModules,
		ScheduleType:       req.ScheduleType,
		ScheduleTime:       req.ScheduleTime,
		ScheduleDayOfWeek:  req.ScheduleDayOfWeek,
		ScheduleDayOfMonth: req.ScheduleDayOfMonth,
		ScheduleCron:       req.ScheduleCron,
		RetentionDays:      req.RetentionDays,
		RetentionCriteria:  req.RetentionCriteria,
	}
}

// ruleListResponse — ответ списка правил.
type ruleListResponse struct {
	Items   []ruleResponse `json:"items"`
	Total   int            `json:"total"`
	Limit   int            `json:"limit"`
	Offset  int            `json:"offset"`
	HasMore bool           `json:"has_more"`
}

// ListRules — GET /api/v1/archive-rules.
// Доступ: admin или readonly.
func (h *APIHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil || !claims.HasAnyRole("admin", "readonly") {
		apierrors.Forbidden(w, "Недостаточно прав: требуется роль admin или readonly")
		return
	}

	limit, offset := paginationParams(r)

	rules, total, err := h.rules.List(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("Ошибка получения списка правил", "error", err)
		apierrors.InternalError(w, "Ошибка получения списка правил")
		return
	}

	items := make([]ruleResponse, len(rules))
	for i, rule := range rules {
		items[i] = mapRule(rule)
	}

	writeJSON(w, http.StatusOK, ruleListResponse{
		Items:   items,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+limit < total,
	})
}

// CreateRule — POST /api/v1/archive-rules.
// Доступ: admin.
func (h *APIHandler) CreateRule(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil || !claims.HasAnyRole("admin") {
		apierrors.Forbidden(w, "Недостаточно прав: требуется роль admin")
		return
	}

	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return
	}

	createdBy := claims.PreferredUsername
	if createdBy == "" {
		createdBy = claims.Subject
	}

	rule, err := h.rules.Create(r.Context(), req.toRuleInput(), &createdBy)
	if err != nil {
		h.writeRuleError(w, "", err, "Ошибка создания правила")
		return
	}

	writeJSON(w, http.StatusCreated, mapRule(rule))
}

// GetRule — GET /api/v1/archive-rules/{id}.
// Доступ: admin или readonly.
func (h *APIHandler) GetRule(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil || !claims.HasAnyRole("admin", "readonly") {
		apierrors.Forbidden(w, "Недостаточно прав: требуется роль admin или readonly")
		return
	}

	id, err := pathID(r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	rule, err := h.rules.Get(r.Context(), id)
	if err != nil {
		h.writeRuleError(w, id, err, "Ошибка получения правила")
		return
	}

	writeJSON(w, http.StatusOK, mapRule(rule))
}

// UpdateRule — PUT /api/v1/archive-rules/{id}.
// Частичное обновление: заданные поля накладываются на текущее состояние.
// Доступ: admin.
func (h *APIHandler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil || !claims.HasAnyRole("admin") {
		apierrors.Forbidden(w, "Недостаточно прав: требуется роль admin")
		return
	}

	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return
	}

	id, err := pathID(r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	rule, err := h.rules.Update(r.Context(), id, req.toRuleInput())
	if err != nil {
		h.writeRuleError(w, id, err, "Ошибка обновления правила")
		return
	}

	writeJSON(w, http.StatusOK, mapRule(rule))
}

// DeleteRule — DELETE /api/v1/archive-rules/{id}.
// Доступ: admin.
func (h *APIHandler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil || !claims.HasAnyRole("admin") {
		apierrors.Forbidden(w, "Недостаточно прав: требуется роль admin")
		return
	}

	id, err := pathID(r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	if err := h.rules.Delete(r.Context(), id); err != nil {
		h.writeRuleError(w, id, err, "Ошибка удаления правила")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ToggleRule — POST /api/v1/archive-rules/{id}/toggle.
// Инвертирует флаг enabled.
// Доступ: admin.
func (h *APIHandler) ToggleRule(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil || !claims.HasAnyRole("admin") {
		apierrors.Forbidden(w, "Недостаточно прав: требуется роль admin")
		return
	}

	id, err := pathID(r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	rule, err := h.rules.Toggle(r.Context(), id)
	if err != nil {
		h.writeRuleError(w, id, err, "Ошибка переключения правила")
		return
	}

	writeJSON(w, http.StatusOK, mapRule(rule))
}

// triggerResponse — ответ ручного запуска правила.
type triggerResponse struct {
	RuleID  string `json:"rule_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// TriggerRule — POST /api/v1/archive-rules/{id}/trigger.
// Ручной запуск правила вне расписания. Архивация выполняется
// асинхронно, ответ 202 Accepted.
// Доступ: admin.
func (h *APIHandler) TriggerRule(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil || !claims.HasAnyRole("admin") {
		apierrors.Forbidden(w, "Недостаточно прав: требуется роль admin")
		return
	}

	id, err := pathID(r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	if err := h.scheduler.TriggerRule(r.Context(), id); err != nil {
		if errors.Is(err, service.ErrRuleRunning) {
			apierrors.Conflict(w, "Правило уже выполняется")
			return
		}
		h.writeRuleError(w, id, err, "Ошибка запуска правила")
		return
	}

	writeJSON(w, http.StatusAccepted, triggerResponse{
		RuleID:  id,
		Status:  "accepted",
		Message: "Архивация запущена",
	})
}

// writeRuleError — общий разбор ошибок операций над правилами.
func (h *APIHandler) writeRuleError(w http.ResponseWriter, id string, err error, logMsg string) {
	if errors.Is(err, service.ErrNotFound) {
		apierrors.NotFound(w, "Правило не найдено")
		return
	}
	if errors.Is(err, service.ErrValidation) {
		apierrors.ValidationError(w, err.Error())
		return
	}
	if errors.Is(err, service.ErrConflict) {
		apierrors.Conflict(w, err.Error())
		return
	}
	h.logger.Error(logMsg, "rule_id", id, "error", err)
	apierrors.InternalError(w, logMsg)
}
