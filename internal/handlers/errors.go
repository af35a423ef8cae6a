package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/joshua-takyi/fieldbook/internal/helpers"
	"github.com/joshua-takyi/fieldbook/internal/models"
	"github.com/joshua-takyi/fieldbook/internal/payment"
)

type errorMapping struct {
	target error
	status int
	code   string
}

// Checked in order; the first match wins.
var errorTable = []errorMapping{
	{models.ErrSlotConflict, http.StatusConflict, "slot_conflict"},
	{models.ErrAlreadyTerminal, http.StatusConflict, "already_terminal"},
	{models.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{models.ErrAlreadyConsumed, http.StatusConflict, "already_consumed"},
	{models.ErrResourceUnavailable, http.StatusBadRequest, "resource_unavailable"},
	{models.ErrNotPaid, http.StatusBadRequest, "not_paid"},
	{models.ErrInvalidSlot, http.StatusBadRequest, "invalid_slot"},
	{models.ErrInvalidTicket, http.StatusBadRequest, "invalid_ticket"},
	{models.ErrValidation, http.StatusBadRequest, "validation_failed"},
	{models.ErrResourceNotFound, http.StatusNotFound, "resource_not_found"},
	{models.ErrNotFound, http.StatusNotFound, "not_found"},
	{models.ErrForbidden, http.StatusForbidden, "forbidden"},
	{payment.ErrNotConfigured, http.StatusServiceUnavailable, "payment_unavailable"},
}

// respondError writes the status for a known error. Anything else is handed to the
// ErrorHandler middleware, which logs it and answers 500 without details.
func respondError(c *gin.Context, err error) {
	for _, m := range errorTable {
		if !errors.Is(err, m.target) {
			continue
		}
		resp := models.CodedErrorResponse(m.code, err.Error())
		var consumed *models.AlreadyConsumedError
		if errors.As(err, &consumed) {
			resp.Data = gin.H{"consumed_at": consumed.ConsumedAt}
		}
		c.JSON(m.status, resp)
		return
	}
	_ = c.Error(err)
}

func currentUser(c *gin.Context) (*helpers.EnhancedClaims, bool) {
	userClaims, exists := c.Get("user")
	if !exists {
		c.JSON(http.StatusUnauthorized, models.ErrorResponse("unauthorized"))
		return nil, false
	}
	claims, ok := userClaims.(*helpers.EnhancedClaims)
	if !ok {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse("invalid user claims"))
		return nil, false
	}
	return claims, true
}

func pathID(c *gin.Context, name string) (string, bool) {
	id := helpers.StringTrim(c.Param(name))
	if id == "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse(name+" is required"))
		return "", false
	}
	return id, true
}

// pagination reads limit/offset query parameters.
func pagination(c *gin.Context) (offset, limit int, ok bool) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, models.ErrorResponse("invalid limit parameter"))
		return 0, 0, false
	}
	offset, err = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		c.JSON(http.StatusBadRequest, models.ErrorResponse("invalid offset parameter"))
		return 0, 0, false
	}
	return offset, limit, true
}
