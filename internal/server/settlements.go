package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	settlementdomain "github.com/smallbiznis/splitledger/internal/settlement/domain"
	"github.com/smallbiznis/splitledger/pkg/db/pagination"
)

type triggerBatchRequest struct {
	Limit int `json:"limit"`
}

func (s *Server) GetSaleSettlement(c *gin.Context) {
	saleID, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.settlementSvc.GetSaleSettlement(c.Request.Context(), saleID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetVirtualAccountBalance(c *gin.Context) {
	accountID, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	verify, err := queryFlag(c, "verify")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.settlementSvc.GetVirtualAccountBalance(c.Request.Context(), accountID, verify)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListVirtualTransactions(c *gin.Context) {
	accountID, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	page.PageToken = strings.TrimSpace(page.PageToken)

	resp, err := s.settlementSvc.ListVirtualTransactions(c.Request.Context(), settlementdomain.ListTransactionsRequest{
		Pagination: page,
		AccountID:  accountID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Transactions, "page_info": resp.PageInfo})
}

// TriggerRelease runs a release sweep on demand, outside the scheduler.
func (s *Server) TriggerRelease(c *gin.Context) {
	var req triggerBatchRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.settlementSvc.ReleaseDue(c.Request.Context(), nowUTC(), req.Limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) TriggerFeeBackfill(c *gin.Context) {
	var req triggerBatchRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.settlementSvc.BackfillFees(c.Request.Context(), req.Limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func bindOptionalJSON(c *gin.Context, out any) error {
	if c.Request.ContentLength == 0 {
		return nil
	}
	return c.ShouldBindJSON(out)
}
