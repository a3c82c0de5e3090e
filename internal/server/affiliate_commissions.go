package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type recordCommissionRequest struct {
	AffiliateID string `json:"affiliate_id"`
	AmountCents int64  `json:"amount_cents"`
}

func (s *Server) GetAffiliateCommission(c *gin.Context) {
	saleID, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.affiliateSvc.GetAffiliateSplit(c.Request.Context(), saleID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if resp == nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// RecordAffiliateCommission stores the affiliate cut. It has to land before
// the sale is paid to take part in the split.
func (s *Server) RecordAffiliateCommission(c *gin.Context) {
	saleID, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req recordCommissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.affiliateSvc.RecordCommission(c.Request.Context(), saleID, strings.TrimSpace(req.AffiliateID), req.AmountCents)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}
