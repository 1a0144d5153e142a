package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/sitegen-backend/internal/http/response"
	"github.com/yungbote/sitegen-backend/internal/services"
)

// Reconciler re-mirrors a project's repository copy to the object store.
type Reconciler interface {
	Reconcile(ctx context.Context, project string) (string, error)
}

type AdminHandler struct {
	ops        services.OperationService
	reconciler Reconciler
}

func NewAdminHandler(ops services.OperationService, reconciler Reconciler) *AdminHandler {
	return &AdminHandler{ops: ops, reconciler: reconciler}
}

// POST /api/admin/operations/:id/generate
func (h *AdminHandler) Generate(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_operation_id", err)
		return
	}
	ref := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	enqueued, err := h.ops.RequestGeneration(c.Request.Context(), id, ref)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondAccepted(c, gin.H{"operationId": id, "enqueued": enqueued})
}

// POST /api/admin/projects/:name/reconcile
func (h *AdminHandler) Reconcile(c *gin.Context) {
	name := c.Param("name")
	url, err := h.reconciler.Reconcile(c.Request.Context(), name)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"project": name, "siteUrl": url})
}
