package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	affiliatedomain "github.com/smallbiznis/splitledger/internal/affiliate/domain"
	auditdomain "github.com/smallbiznis/splitledger/internal/audit/domain"
	feeconfigdomain "github.com/smallbiznis/splitledger/internal/feeconfig/domain"
	paymentproviderdomain "github.com/smallbiznis/splitledger/internal/paymentprovider/domain"
	settlementdomain "github.com/smallbiznis/splitledger/internal/settlement/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	if len(v.Errors) == 1 {
		return v.Errors[0].Code
	}
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not_found")
	ErrOrgRequired  = errors.New("invalid_organization")
)

// errorClass maps a family of sentinel errors onto one HTTP status.
type errorClass struct {
	status  int
	kind    string
	message string
	errs    []error
}

// Domain validation sentinels are reported as field errors; the field is the
// sentinel text with its invalid_ prefix removed.
var validationSentinels = []error{
	ErrOrgRequired,
	settlementdomain.ErrInvalidPageToken,
	auditdomain.ErrInvalidPageToken,
	auditdomain.ErrInvalidTimeRange,
	auditdomain.ErrInvalidOrganization,
	feeconfigdomain.ErrInvalidOrganization,
	feeconfigdomain.ErrInvalidPercentage,
	feeconfigdomain.ErrInvalidFixedFee,
	affiliatedomain.ErrInvalidSale,
	affiliatedomain.ErrInvalidAffiliate,
	affiliatedomain.ErrInvalidAmount,
	paymentproviderdomain.ErrInvalidOrganization,
	paymentproviderdomain.ErrInvalidProvider,
	paymentproviderdomain.ErrInvalidConfig,
}

var errorClasses = []errorClass{
	{http.StatusUnauthorized, "unauthorized", "unauthorized", []error{ErrUnauthorized}},
	{http.StatusConflict, "conflict", "conflict", []error{affiliatedomain.ErrAlreadyRecorded}},
	{http.StatusNotFound, "not_found", "not found", []error{
		ErrNotFound,
		settlementdomain.ErrSaleNotFound,
		settlementdomain.ErrAccountNotFound,
		feeconfigdomain.ErrNotConfigured,
		paymentproviderdomain.ErrNotFound,
		gorm.ErrRecordNotFound,
	}},
	{http.StatusServiceUnavailable, "service_unavailable", "service unavailable", []error{
		settlementdomain.ErrTransientStore,
		paymentproviderdomain.ErrEncryptionKeyMissing,
	}},
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		last := c.Errors.Last()
		if last == nil || c.Writer.Written() {
			return
		}
		status, payload := mapError(last.Err)
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{Errors: []ValidationError{{Field: field, Code: code, Message: message}}}
}

func mapError(err error) (int, errorPayload) {
	var verrs *ValidationErrors
	if errors.As(err, &verrs) && verrs != nil {
		return http.StatusBadRequest, errorPayload{Type: "validation_error", Message: "validation error", Errors: verrs.Errors}
	}
	for _, sentinel := range validationSentinels {
		if errors.Is(err, sentinel) {
			code := sentinel.Error()
			return http.StatusBadRequest, errorPayload{
				Type:    "validation_error",
				Message: "validation error",
				Errors: []ValidationError{{
					Field:   strings.TrimPrefix(code, "invalid_"),
					Code:    code,
					Message: "invalid value",
				}},
			}
		}
	}
	for _, class := range errorClasses {
		for _, target := range class.errs {
			if errors.Is(err, target) {
				return class.status, errorPayload{Type: class.kind, Message: class.message}
			}
		}
	}
	return http.StatusInternalServerError, errorPayload{Type: "internal_error", Message: "internal server error"}
}

// classifyErrorForLog feeds the request logger the same type the client sees.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	if len(payload.Errors) > 0 {
		return payload.Type, payload.Errors[0].Code
	}
	return payload.Type, payload.Type
}
