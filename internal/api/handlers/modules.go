// modules.go — обработчик /api/v1/archive-modules.
// Справочник архивируемых модулей практики.
package handlers

import (
	"net/http"

	apierrors "github.com/medflow-emr/archive-module/internal/api/errors"
	"github.com/medflow-emr/archive-module/internal/api/middleware"
	"github.com/medflow-emr/archive-module/internal/domain/modules"
)

// moduleResponse — описание модуля в API.
type moduleResponse struct {
	Key         string   `json:"key"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tables      []string `json:"tables"`
}

// moduleListResponse — ответ справочника модулей.
type moduleListResponse struct {
	Items []moduleResponse `json:"items"`
	Total int              `json:"total"`
}

// ListArchiveModules — GET /api/v1/archive-modules.
// Возвращает статический реестр модулей в фиксированном порядке.
// Доступ: admin или readonly.
func (h *APIHandler) ListArchiveModules(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil || !claims.HasAnyRole("admin", "readonly") {
		apierrors.Forbidden(w, "Недостаточно прав: требуется роль admin или readonly")
		return
	}

	all := modules.All()
	items := make([]moduleResponse, len(all))
	for i, m := range all {
		items[i] = moduleResponse{
			Key:         m.Key,
			Name:        m.Name,
			Description: m.Description,
			Tables:      m.Tables,
		}
	}

	writeJSON(w, http.StatusOK, moduleListResponse{
		Items: items,
		Total: len(items),
	})
}
