package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/sitegen-backend/internal/http/response"
	"github.com/yungbote/sitegen-backend/internal/ingestion"
	apperrors "github.com/yungbote/sitegen-backend/internal/pkg/errors"
)

const maxWebhookBody = 1 << 20

type PaymentWebhook interface {
	Handle(ctx context.Context, signature string, body []byte) (ingestion.Outcome, error)
}

type DeploymentWebhook interface {
	Handle(ctx context.Context, eventType, signature string, body []byte) (ingestion.DeploymentResult, error)
}

type WebhookHandler struct {
	payment    PaymentWebhook
	deployment DeploymentWebhook
}

func NewWebhookHandler(payment PaymentWebhook, deployment DeploymentWebhook) *WebhookHandler {
	return &WebhookHandler{payment: payment, deployment: deployment}
}

func readBody(c *gin.Context) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		return nil, apperrors.Validationf("read body: %v", err)
	}
	return body, nil
}

// POST /webhooks/payment
func (h *WebhookHandler) Payment(c *gin.Context) {
	body, err := readBody(c)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	out, err := h.payment.Handle(c.Request.Context(), c.GetHeader("Stripe-Signature"), body)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"received": true, "outcome": out})
}

// POST /webhooks/deployment
func (h *WebhookHandler) Deployment(c *gin.Context) {
	body, err := readBody(c)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	res, err := h.deployment.Handle(c.Request.Context(), c.GetHeader("X-GitHub-Event"), c.GetHeader("X-Hub-Signature-256"), body)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, res)
}
