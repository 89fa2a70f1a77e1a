package controllers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

const maxWebhookBody = 1 << 20

// HandlePaymentWebhook accepts provider callbacks for orders, top-ups and
// subscriptions. Anything that is not a transient failure is acknowledged
// so the provider stops retrying.
func HandlePaymentWebhook(ctx *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(ctx.Request.Body, maxWebhookBody))
	if err != nil {
		sendErrorResponse(ctx, http.StatusBadRequest, "Failed to read request body")
		return
	}
	res, err := svc.Webhooks.Handle(ctx.Request.Context(), ctx.Request.Header, body)
	if err != nil {
		sendAppError(ctx, err)
		return
	}
	sendJSONResponse(ctx, http.StatusOK, gin.H{"received": true, "result": res})
}
