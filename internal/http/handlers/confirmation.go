package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/sitegen-backend/internal/http/response"
	"github.com/yungbote/sitegen-backend/internal/services"
)

type ConfirmationHandler struct {
	codes services.ConfirmationService
}

func NewConfirmationHandler(codes services.ConfirmationService) *ConfirmationHandler {
	return &ConfirmationHandler{codes: codes}
}

// POST /api/projects/:name/confirmation
func (h *ConfirmationHandler) Issue(c *gin.Context) {
	if err := h.codes.Issue(c.Request.Context(), c.Param("name")); err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondAccepted(c, gin.H{"sent": true})
}

type verifyRequest struct {
	Code string `json:"code" binding:"required,len=6,numeric"`
}

// POST /api/projects/:name/confirmation/verify
func (h *ConfirmationHandler) Verify(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if err := h.codes.Verify(c.Request.Context(), c.Param("name"), req.Code); err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"verified": true})
}
