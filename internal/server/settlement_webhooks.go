package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	obslogger "github.com/smallbiznis/splitledger/internal/observability/logger"
	settlementdomain "github.com/smallbiznis/splitledger/internal/settlement/domain"
)

const maxWebhookBody = 1 << 20

// HandleSettlementWebhook answers 200 once the delivery is admitted, is a
// duplicate, or was parked for an operator. Anything the gateway should
// redeliver gets a non-2xx.
func (s *Server) HandleSettlementWebhook(c *gin.Context) {
	provider := strings.TrimSpace(c.Param("provider"))
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	out, err := s.webhookSvc.Ingest(c.Request.Context(), provider, payload, c.Request.Header)
	disposition := settlementdomain.Classify(err)
	if out != nil {
		disposition = out.Disposition
	}
	c.Set(obslogger.OutcomeKey, disposition.String())

	switch disposition {
	case settlementdomain.DispositionAck, settlementdomain.DispositionAckAlert:
		body := gin.H{"status": "ok"}
		if out != nil && out.Result != nil {
			body["admission"] = out.Result.Admission
		}
		c.JSON(http.StatusOK, body)
	case settlementdomain.DispositionReject:
		status := http.StatusBadRequest
		switch {
		case errors.Is(err, settlementdomain.ErrInvalidSignature):
			status = http.StatusUnauthorized
		case errors.Is(err, settlementdomain.ErrProviderNotFound):
			status = http.StatusNotFound
		}
		c.AbortWithStatusJSON(status, errorResponse{Error: errorPayload{
			Type:    "webhook_rejected",
			Message: errorCode(err),
		}})
	default:
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, errorResponse{Error: errorPayload{
			Type:    "retry",
			Message: "delivery not processed, retry later",
		}})
	}
}

func errorCode(err error) string {
	for _, known := range []error{
		settlementdomain.ErrInvalidSignature,
		settlementdomain.ErrInvalidPayload,
		settlementdomain.ErrInvalidProvider,
		settlementdomain.ErrProviderNotFound,
		settlementdomain.ErrInvalidEvent,
	} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return "invalid_request"
}
