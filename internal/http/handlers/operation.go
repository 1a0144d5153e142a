package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	types "github.com/yungbote/sitegen-backend/internal/domain"
	"github.com/yungbote/sitegen-backend/internal/http/response"
	"github.com/yungbote/sitegen-backend/internal/services"
)

// MaxCreateBody caps a create request. Images travel inline as data URLs.
const MaxCreateBody = 32 << 20

type OperationHandler struct {
	ops services.OperationService
}

func NewOperationHandler(ops services.OperationService) *OperationHandler {
	return &OperationHandler{ops: ops}
}

type operationView struct {
	ID            uuid.UUID  `json:"id"`
	Status        string     `json:"status"`
	ProjectName   string     `json:"projectName"`
	TemplateID    string     `json:"templateId"`
	SiteURL       string     `json:"siteUrl,omitempty"`
	FailureReason string     `json:"failureReason,omitempty"`
	Attempts      int        `json:"attempts"`
	CreatedAt     time.Time  `json:"createdAt"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
	DeployedAt    *time.Time `json:"deployedAt,omitempty"`
}

func viewOf(op *types.Operation) operationView {
	return operationView{
		ID:            op.ID,
		Status:        string(op.Status),
		ProjectName:   op.ProjectName,
		TemplateID:    op.TemplateID,
		SiteURL:       op.SiteURL,
		FailureReason: op.FailureReason,
		Attempts:      op.Attempts,
		CreatedAt:     op.CreatedAt,
		CompletedAt:   op.CompletedAt,
		DeployedAt:    op.DeployedAt,
	}
}

// POST /api/operations
func (h *OperationHandler) Create(c *gin.Context) {
	var req services.CreateOperationRequest
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxCreateBody)
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.RespondError(c, http.StatusRequestEntityTooLarge, "request_too_large", err)
			return
		}
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	op, err := h.ops.Create(c.Request.Context(), req)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"operation": viewOf(op)})
}

// GET /api/operations/:id
func (h *OperationHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_operation_id", err)
		return
	}
	op, err := h.ops.Get(c.Request.Context(), id)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"operation": viewOf(op)})
}
