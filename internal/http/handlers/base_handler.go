// README: Base handler utilities (JSON helpers, error mapping).
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"dropoff/internal/modules/incentive"
	"dropoff/internal/modules/location"
	"dropoff/internal/modules/order"
	"dropoff/internal/modules/pricing"
	"dropoff/internal/modules/rider"
	"dropoff/internal/types"
)

type errorResponse struct {
	Error string `json:"error"`
}

// pathID reads a UUID path parameter, answering 400 when it is malformed.
func pathID(c *gin.Context, name string) (types.ID, bool) {
	v := c.Param(name)
	if _, err := uuid.Parse(v); err != nil {
		writeError(c, http.StatusBadRequest, "invalid "+name)
		return "", false
	}
	return types.ID(v), true
}

func bindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

// writeDomainError maps module sentinels onto status codes.
func writeDomainError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, location.ErrInvalidCoordinate),
		errors.Is(err, pricing.ErrInvalidInput),
		errors.Is(err, pricing.ErrDistanceExceeded),
		errors.Is(err, order.ErrBadRequest),
		errors.Is(err, rider.ErrBadRequest),
		errors.Is(err, incentive.ErrInvalidPoints):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, order.ErrForbidden):
		writeError(c, http.StatusForbidden, err.Error())
	case errors.Is(err, order.ErrNotFound), errors.Is(err, rider.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, order.ErrInvalidTransition),
		errors.Is(err, order.ErrConcurrentModification),
		errors.Is(err, order.ErrRiderUnavailable),
		errors.Is(err, incentive.ErrAlreadyRated),
		errors.Is(err, rider.ErrConcurrentModification):
		writeError(c, http.StatusConflict, err.Error())
	case errors.Is(err, incentive.ErrInsufficientPoints), errors.Is(err, incentive.ErrInsufficientBalance):
		writeError(c, http.StatusUnprocessableEntity, err.Error())
	default:
		_ = c.Error(err)
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}
