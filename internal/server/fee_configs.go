package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	feeconfigdomain "github.com/smallbiznis/splitledger/internal/feeconfig/domain"
)

type upsertFeeConfigRequest struct {
	Percentage *decimal.Decimal `json:"percentage"`
	FixedCents int64            `json:"fixed_cents"`
}

func (s *Server) GetFeeConfig(c *gin.Context) {
	resp, err := s.feeConfigSvc.GetPlatformFeeConfig(c.Request.Context(), orgIDFromContext(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) UpsertFeeConfig(c *gin.Context) {
	var req upsertFeeConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.Percentage == nil {
		AbortWithError(c, newValidationError("percentage", "invalid_percentage", "percentage is required"))
		return
	}

	resp, err := s.feeConfigSvc.Upsert(c.Request.Context(), feeconfigdomain.UpsertRequest{
		OrgID:      orgIDFromContext(c),
		Percentage: req.Percentage,
		FixedCents: req.FixedCents,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
