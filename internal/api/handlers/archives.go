// archives.go — обработчики /api/v1/archives endpoints.
// Создание, реестр, просмотр содержимого, восстановление и удаление архивов.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	apierrors "github.com/medflow-emr/archive-module/internal/api/errors"
	"github.com/medflow-emr/archive-module/internal/api/middleware"
	"github.com/medflow-emr/archive-module/internal/domain/model"
	"github.com/medflow-emr/archive-module/internal/service"
)

// archiveResponse — представление архива в API.
type archiveResponse struct {
	ID              string               `json:"id"`
	ArchiveName     string               `json:"archive_name"`
	Description     *string              `json:"description,omitempty"`
	ArchivedTables  []string             `json:"archived_tables"`
	ArchivedModules []string             `json:"archived_modules"`
	RecordCounts    map[string]int       `json:"record_counts"`
	TotalRecords    int                  `json:"total_records"`
	ArchivedBy      *string              `json:"archived_by,omitempty"`
	Status          string               `json:"status"`
	Metadata        model.ArchiveRunInfo `json:"metadata"`
	ArchiveDate     time.Time            `json:"archive_date"`
}

// mapArchive конвертирует domain model в API-представление.
func mapArchive(a *model.ArchiveMetadata) archiveResponse {
	return archiveResponse{
		ID:              a.ID,
		ArchiveName:     a.ArchiveName,
		Description:     a.Description,
		ArchivedTables:  a.ArchivedTables,
		ArchivedModules: a.ArchivedModules,
		RecordCounts:    a.RecordCounts,
		TotalRecords:    a.TotalRecords(),
		ArchivedBy:      a.ArchivedBy,
		Status:          a.Status,
		Metadata:        a.Metadata,
		ArchiveDate:     a.ArchiveDate,
	}
}

// archiveCreateRequest — тело запроса создания архива.
type archiveCreateRequest struct {
	ArchiveName     string     `json:"archive_name"`
	Description     *string    `json:"description,omitempty"`
	SelectedModules []string   `json:"selected_modules"`
	OlderThan       *time.Time `json:"older_than,omitempty"`
}

// CreateArchive — POST /api/v1/archives.
// Ручной запуск архивации выбранных модулей.
// Доступ: admin.
func (h *APIHandler) CreateArchive(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil || !claims.HasAnyRole("admin") {
		apierrors.Forbidden(w, "Недостаточно прав: требуется роль admin")
		return
	}

	var req archiveCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return
	}

	// archived_by — username инициатора, sub как fallback
	archivedBy := claims.PreferredUsername
	if archivedBy == "" {
		archivedBy = claims.Subject
	}

	meta, err := h.creator.CreateArchive(r.Context(), service.ArchiveCreateParams{
		ArchiveName:     req.ArchiveName,
		Description:     req.Description,
		SelectedModules: req.SelectedModules,
		OlderThan:       req.OlderThan,
		ArchivedBy:      &archivedBy,
	})
	if err != nil {
		if errors.Is(err, service.ErrValidation) {
			apierrors.ValidationError(w, err.Error())
			return
		}
		h.logger.Error("Ошибка создания архива", "archive_name", req.ArchiveName, "error", err)
		apierrors.InternalError(w, "Ошибка создания архива")
		return
	}

	writeJSON(w, http.StatusCreated, mapArchive(meta))
}

// archiveListResponse — ответ списка архивов.
type archiveListResponse struct {
	Items   []archiveResponse `json:"items"`
	Total   int               `json:"total"`
	Limit   int               `json:"limit"`
	Offset  int               `json:"offset"`
	HasMore bool              `json:"has_more"`
}

// ListArchives — GET /api/v1/archives.
// Реестр архивов с фильтром по статусу и пагинацией.
// Доступ: admin или readonly.
func (h *APIHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil || !claims.HasAnyRole("admin", "readonly") {
		apierrors.Forbidden(w, "Недостаточно прав: требуется роль admin или readonly")
		return
	}

	limit, offset := paginationParams(r)

	var status *string
	if raw := r.URL.Query().Get("status"); raw != "" {
		status = &raw
	}

	archives, total, err := h.archives.List(r.Context(), status, limit, offset)
	if err != nil {
		if errors.Is(err, service.ErrValidation) {
			apierrors.ValidationError(w, err.Error())
			return
		}
		h.logger.Error("Ошибка получения списка архивов", "error", err)
		apierrors.InternalError(w, "Ошибка получения списка архивов")
		return
	}

	items := make([]archiveResponse, len(archives))
	for i, a := range archives {
		items[i] = mapArchive(a)
	}

	writeJSON(w, http.StatusOK, archiveListResponse{
		Items:   items,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+limit < total,
	})
}

// archiveStatsResponse — сводная статистика реестра архивов.
type archiveStatsResponse struct {
	TotalArchives  int            `json:"total_archives"`
	TotalRecords   int            `json:"total_records"`
	TotalSizeBytes int64          `json:"total_size_bytes"`
	ByStatus       map[string]int `json:"by_status"`
}

// GetArchiveStats — GET /api/v1/archives/stats.
// Доступ: admin или readonly.
func (h *APIHandler) GetArchiveStats(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil || !claims.HasAnyRole("admin", "readonly") {
		apierrors.Forbidden(w, "Недостаточно прав: требуется роль admin или readonly")
		return
	}

	stats, err := h.archives.Stats(r.Context())
	if err != nil {
		h.logger.Error("Ошибка получения статистики архивов", "error", err)
		apierrors.InternalError(w, "Ошибка получения статистики архивов")
		return
	}

	writeJSON(w, http.StatusOK, archiveStatsResponse{
		TotalArchives:  stats.TotalArchives,
		TotalRecords:   stats.TotalRecords,
		TotalSizeBytes: stats.TotalSizeBytes,
		ByStatus:       stats.ByStatus,
	})
}

// GetArchive — GET /api/v1/archives/{id}.
// Доступ: admin или readonly.
func (h *APIHandler) GetArchive(w http.ResponseWriter, r *http.Request) {
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
	meta, err := h.archives.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			apierrors.NotFound(w, "Архив не найден")
			return
		}
		h.logger.Error("Ошибка получения архива", "archive_id", id, "error", err)
		apierrors.InternalError(w, "Ошибка получения архива")
		return
	}

	writeJSON(w, http.StatusOK, mapArchive(meta))
}

// tablePreviewResponse — страница данных одной таблицы архива.
type tablePreviewResponse struct {
	Table     string           `json:"table"`
	TotalRows int              `json:"total_rows"`
	Rows      []map[string]any `json:"rows"`
}

func mapTablePreview(p *model.TablePreview) tablePreviewResponse {
	return tablePreviewResponse{
		Table:     p.Table,
		TotalRows: p.TotalRows,
		Rows:      p.Rows,
	}
}

// browseSummaryResponse — обзор всех таблиц архива.
type browseSummaryResponse struct {
	ArchiveID string                 `json:"archive_id"`
	Tables    []tablePreviewResponse `json:"tables"`
}

// browseSummaryPreviewRows — строк на таблицу в обзорном режиме browse.
const browseSummaryPreviewRows = 5

// BrowseArchive — GET /api/v1/archives/{id}/browse.
// С параметром table — страница данных одной таблицы (limit/offset),
// без — краткий обзор всех заархивированных таблиц.
// Доступ: admin или readonly.
func (h *APIHandler) BrowseArchive(w http.ResponseWriter, r *http.Request) {
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
	table := r.URL.Query().Get("table")

	if table != "" {
		limit, offset := paginationParams(r)
		preview, err := h.archives.Browse(r.Context(), id, table, limit, offset)
		if err != nil {
			h.writeBrowseError(w, id, err)
			return
		}
		writeJSON(w, http.StatusOK, mapTablePreview(preview))
		return
	}

	previews, err := h.archives.BrowseSummary(r.Context(), id, browseSummaryPreviewRows)
	if err != nil {
		h.writeBrowseError(w, id, err)
		return
	}

	tables := make([]tablePreviewResponse, len(previews))
	for i := range previews {
		tables[i] = mapTablePreview(&previews[i])
	}

	writeJSON(w, http.StatusOK, browseSummaryResponse{
		ArchiveID: id,
		Tables:    tables,
	})
}

// writeBrowseError — общий разбор ошибок browse.
func (h *APIHandler) writeBrowseError(w http.ResponseWriter, id string, err error) {
	if errors.Is(err, service.ErrNotFound) {
		apierrors.NotFound(w, "Архив не найден")
		return
	}
	if errors.Is(err, service.ErrValidation) {
		apierrors.ValidationError(w, err.Error())
		return
	}
	h.logger.Error("Ошибка просмотра архива", "archive_id", id, "error", err)
	apierrors.InternalError(w, "Ошибка просмотра архива")
}

// restoreRequest — тело запроса восстановления.
// tables — подмножество archived_tables; пустой список — все таблицы.
type restoreRequest struct {
	Tables []string `json:"tables,omitempty"`
}

// restoreResponse — итог восстановления архива.
type restoreResponse struct {
	ArchiveID    string               `json:"archive_id"`
	ArchiveName  string               `json:"archive_name"`
	Tables       []tableRestoreResult `json:"tables"`
	TotalAdded   int                  `json:"total_added"`
	TotalSkipped int                  `json:"total_skipped"`
	Errors       []string             `json:"errors,omitempty"`
}

type tableRestoreResult struct {
	Table   string `json:"table"`
	Added   int    `json:"added"`
	Skipped int    `json:"skipped"`
}

// RestoreArchive — POST /api/v1/archives/{id}/restore.
// Восстанавливает данные архива в операционную базу.
// Доступ: admin.
func (h *APIHandler) RestoreArchive(w http.ResponseWriter, r *http.Request) {
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

	// Тело опционально: пустое тело означает восстановление всех таблиц
	var req restoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return
	}

	result, err := h.restorer.RestoreArchive(r.Context(), id, req.Tables)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			apierrors.NotFound(w, "Архив не найден")
			return
		}
		h.logger.Error("Ошибка восстановления архива", "archive_id", id, "error", err)
		apierrors.InternalError(w, "Ошибка восстановления архива")
		return
	}

	resp := restoreResponse{
		ArchiveID:    result.ArchiveID,
		ArchiveName:  result.ArchiveName,
		TotalAdded:   result.TotalAdded,
		TotalSkipped: result.TotalSkipped,
		Errors:       result.Errors,
	}
	for _, t := range result.Tables {
		resp.Tables = append(resp.Tables, tableRestoreResult{
			Table:   t.Table,
			Added:   t.Added,
			Skipped: t.Skipped,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// DeleteArchive — DELETE /api/v1/archives/{id}.
// Удаляет запись реестра; с delete_data=true очищает и данные
// заархивированных таблиц в архивной базе.
// Доступ: admin.
func (h *APIHandler) DeleteArchive(w http.ResponseWriter, r *http.Request) {
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
	deleteData := r.URL.Query().Get("delete_data") == "true"

	if err := h.archives.Delete(r.Context(), id, deleteData); err != nil {
		if errors.Is(err, service.ErrNotFound) {
			apierrors.NotFound(w, "Архив не найден")
			return
		}
		h.logger.Error("Ошибка удаления архива", "archive_id", id, "error", err)
		apierrors.InternalError(w, "Ошибка удаления архива")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
