package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/slashbinslashnoname/hire-checkout/apperr"
)

var kindStatus = map[apperr.Kind]int{
	apperr.KindValidation:     http.StatusUnprocessableEntity,
	apperr.KindStateConflict:  http.StatusConflict,
	apperr.KindInProgress:     http.StatusConflict,
	apperr.KindNotFound:       http.StatusNotFound,
	apperr.KindTransient:      http.StatusBadGateway,
	apperr.KindPartialFailure: http.StatusInternalServerError,
	apperr.KindInternal:       http.StatusInternalServerError,
}

// respondError writes err with the status for its kind
func respondError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	body := gin.H{
		"error":     err.Error(),
		"kind":      kind,
		"requestId": GetRequestID(c),
	}

	var (
		validation *apperr.ValidationError
		partial    *apperr.PartialFailureError
	)
	switch {
	case errors.As(err, &validation):
		body["error"] = "validation failed"
		body["fields"] = validation.Fields
	case errors.As(err, &partial):
		body["error"] = "escrow funded but contract creation failed"
		body["idempotencyKey"] = partial.IdempotencyKey
	case kind == apperr.KindInternal:
		body["error"] = "Internal server error"
	}

	c.AbortWithStatusJSON(kindStatus[kind], body)
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg, "requestId": GetRequestID(c)})
}
