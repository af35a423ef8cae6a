package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/joshua-takyi/fieldbook/internal/models"
	"github.com/joshua-takyi/fieldbook/internal/services"
)

func GetCheckin(cs *services.CheckinService) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := currentUser(c)
		if !ok {
			return
		}
		id, ok := pathID(c, "reservation_id")
		if !ok {
			return
		}

		token, err := cs.Get(c.Request.Context(), claims.Requester(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, models.SuccessResponse(token, ""))
	}
}

func CheckinQR(cs *services.CheckinService) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := currentUser(c)
		if !ok {
			return
		}
		id, ok := pathID(c, "reservation_id")
		if !ok {
			return
		}
		size, _ := strconv.Atoi(c.DefaultQuery("size", "256"))

		png, err := cs.QR(c.Request.Context(), claims.Requester(), id, size)
		if err != nil {
			respondError(c, err)
			return
		}
		c.Header("Cache-Control", "no-store")
		c.Data(http.StatusOK, "image/png", png)
	}
}

func ConsumeCheckin(cs *services.CheckinService) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := currentUser(c)
		if !ok {
			return
		}
		id, ok := pathID(c, "reservation_id")
		if !ok {
			return
		}

		token, err := cs.Consume(c.Request.Context(), claims.Requester(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, models.SuccessResponse(token, "Checked in"))
	}
}

type scanRequest struct {
	Payload string `json:"payload" binding:"required"`
}

func ScanCheckin(cs *services.CheckinService) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := currentUser(c)
		if !ok {
			return
		}

		var req scanRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorResponse(err.Error()))
			return
		}

		token, err := cs.ScanTicket(c.Request.Context(), claims.Requester(), req.Payload)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, models.SuccessResponse(token, "Checked in"))
	}
}
