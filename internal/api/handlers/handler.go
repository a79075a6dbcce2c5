// handler.go — основной обработчик API Archive Module.
// Объединяет доменные обработчики и делегирует запросы в сервисный слой.
package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/medflow-emr/archive-module/internal/service"
)

// APIHandler — основной обработчик API Archive Module.
// Делегирует запросы в сервисный слой.
type APIHandler struct {
	health    *HealthHandler
	archives  *service.ArchiveService
	creator   *service.ArchiveCreator
	restorer  *service.ArchiveRestorer
	rules     *service.RetentionRuleService
	scheduler *service.Scheduler
	logger    *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(
	health *HealthHandler,
	archives *service.ArchiveService,
	creator *service.ArchiveCreator,
	restorer *service.ArchiveRestorer,
	rules *service.RetentionRuleService,
	scheduler *service.Scheduler,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:    health,
		archives:  archives,
		creator:   creator,
		restorer:  restorer,
		rules:     rules,
		scheduler: scheduler,
		logger:    logger.With(slog.String("component", "api_handler")),
	}
}

// HealthLive — liveness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики (делегируется в HealthHandler).
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// pathID извлекает path-параметр id и проверяет, что это корректный UUID.
// Некорректный идентификатор отсекается до обращения к базе.
func pathID(r *http.Request) (string, error) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		return "", fmt.Errorf("некорректный идентификатор %q", id)
	}
	return id, nil
}

// paginationParams извлекает limit и offset из query-параметров запроса.
// Возвращает нормализованные значения: limit 1-1000 (по умолчанию 100),
// offset >= 0 (по умолчанию 0).
func paginationParams(r *http.Request) (int, int) {
	l := 100
	o := 0

	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			l = v
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			o = v
		}
	}

	if l < 1 {
		l = 1
	}
	if l > 1000 {
		l = 1000
	}
	if o < 0 {
		o = 0
	}

	return l, o
}
