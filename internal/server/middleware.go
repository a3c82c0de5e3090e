package server

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/splitledger/internal/audit/domain"
	obscontext "github.com/smallbiznis/splitledger/internal/observability/context"
)

const (
	HeaderOrg       = "X-Org-ID"
	contextOrgIDKey = "org_id"
)

// AdminAuthRequired accepts a static bearer token. Admin routes stay closed
// when no token is configured.
func (s *Server) AdminAuthRequired() gin.HandlerFunc {
	expected := []byte(strings.TrimSpace(s.cfg.AdminAPIToken))
	return func(c *gin.Context) {
		if len(expected) == 0 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		parts := strings.Fields(c.GetHeader("Authorization"))
		if len(parts) != 2 || parts[0] != "Bearer" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if subtle.ConstantTimeCompare([]byte(parts[1]), expected) != 1 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := obscontext.WithActor(c.Request.Context(), string(auditdomain.ActorTypeAdmin), "admin_token")
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// OrgContext resolves the organization from the X-Org-ID header.
func OrgContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		orgID, err := snowflake.ParseString(strings.TrimSpace(c.GetHeader(HeaderOrg)))
		if err != nil || orgID == 0 {
			AbortWithError(c, ErrOrgRequired)
			return
		}

		c.Set(contextOrgIDKey, orgID)
		c.Request = c.Request.WithContext(obscontext.WithOrgID(c.Request.Context(), orgID.String()))
		c.Next()
	}
}

func orgIDFromContext(c *gin.Context) snowflake.ID {
	if value, ok := c.Get(contextOrgIDKey); ok {
		if id, ok := value.(snowflake.ID); ok {
			return id
		}
	}
	return 0
}

// APIRateLimit throttles read API clients per IP. It is a no-op without Redis.
func (s *Server) APIRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.apiLimiter == nil {
			c.Next()
			return
		}

		allowed, retryAfter := s.apiLimiter.Allow(c.Request.Context(), c.ClientIP())
		if !allowed {
			if seconds := int(retryAfter.Seconds()); seconds > 0 {
				c.Header("Retry-After", strconv.Itoa(seconds))
			}
			c.AbortWithStatusJSON(http.StatusTooManyRequests, errorResponse{Error: errorPayload{
				Type:    "rate_limited",
				Message: "too many requests",
			}})
			return
		}
		c.Next()
	}
}
