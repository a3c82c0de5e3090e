package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	paymentproviderdomain "github.com/smallbiznis/splitledger/internal/paymentprovider/domain"
)

// providerCredentials carries gateway secrets. They are encrypted before they
// reach storage and are never echoed back.
type providerCredentials struct {
	Config map[string]any `json:"config" binding:"required"`
}

type providerStatus struct {
	IsActive *bool `json:"is_active" binding:"required"`
}

func (s *Server) ListPaymentProviderCatalog(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": s.paymentProviderSvc.ListCatalog(c.Request.Context())})
}

func (s *Server) ListPaymentProviderConfigs(c *gin.Context) {
	configs, err := s.paymentProviderSvc.ListConfigs(c.Request.Context(), orgIDFromContext(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": configs})
}

// PutPaymentProviderConfig creates or rotates the credentials the webhook
// intake verifies deliveries with.
func (s *Server) PutPaymentProviderConfig(c *gin.Context) {
	var body providerCredentials
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, newValidationError("config", "invalid_config", "config is required"))
		return
	}

	summary, err := s.paymentProviderSvc.UpsertConfig(c.Request.Context(), orgIDFromContext(c), paymentproviderdomain.UpsertRequest{
		Provider: c.Param("provider"),
		Config:   body.Config,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": summary})
}

func (s *Server) SetPaymentProviderStatus(c *gin.Context) {
	var body providerStatus
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, newValidationError("is_active", "invalid_is_active", "is_active is required"))
		return
	}

	summary, err := s.paymentProviderSvc.SetActive(c.Request.Context(), orgIDFromContext(c), c.Param("provider"), *body.IsActive)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": summary})
}
