package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/joshua-takyi/fieldbook/internal/helpers"
	"github.com/joshua-takyi/fieldbook/internal/models"
	"github.com/joshua-takyi/fieldbook/internal/services"
)

func CreateReservation(bs *services.BookingService) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := currentUser(c)
		if !ok {
			return
		}

		var req models.ReservationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorResponse(err.Error()))
			return
		}
		req.ResourceID = helpers.StringTrim(req.ResourceID)

		reservation, err := bs.Create(c.Request.Context(), claims.Requester(), req)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, models.SuccessResponse(reservation, "Reservation created successfully"))
	}
}

func ListMyReservations(bs *services.BookingService) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := currentUser(c)
		if !ok {
			return
		}
		offset, limit, ok := pagination(c)
		if !ok {
			return
		}

		list, total, err := bs.ListMine(c.Request.Context(), claims.Requester(), offset, limit)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, models.PaginatedResponse(list, offset/limit+1, limit, int(total)))
	}
}

func ListReservations(bs *services.BookingService) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := currentUser(c)
		if !ok {
			return
		}
		offset, limit, ok := pagination(c)
		if !ok {
			return
		}

		filter := models.ReservationFilter{
			ResourceID: helpers.StringTrim(c.Query("resource_id")),
			UserID:     helpers.StringTrim(c.Query("user_id")),
			Status:     models.ReservationStatus(helpers.StringTrim(c.Query("status"))),
			Offset:     offset,
			Limit:      limit,
		}
		list, total, err := bs.List(c.Request.Context(), claims.Requester(), filter)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, models.PaginatedResponse(list, offset/limit+1, limit, int(total)))
	}
}

func GetReservation(bs *services.BookingService) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := currentUser(c)
		if !ok {
			return
		}
		id, ok := pathID(c, "id")
		if !ok {
			return
		}

		reservation, err := bs.Get(c.Request.Context(), claims.Requester(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, models.SuccessResponse(reservation, ""))
	}
}

func CancelReservation(bs *services.BookingService) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := currentUser(c)
		if !ok {
			return
		}
		id, ok := pathID(c, "id")
		if !ok {
			return
		}

		reservation, err := bs.Cancel(c.Request.Context(), claims.Requester(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, models.SuccessResponse(reservation, "Reservation cancelled"))
	}
}

type statusRequest struct {
	Status models.ReservationStatus `json:"status" binding:"required"`
}

func UpdateReservationStatus(bs *services.BookingService) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := currentUser(c)
		if !ok {
			return
		}
		id, ok := pathID(c, "id")
		if !ok {
			return
		}

		var req statusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorResponse(err.Error()))
			return
		}

		reservation, err := bs.SetStatus(c.Request.Context(), claims.Requester(), id, req.Status)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, models.SuccessResponse(reservation, "Reservation status updated"))
	}
}

func DeleteReservationsByResource(bs *services.BookingService) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := currentUser(c)
		if !ok {
			return
		}
		resourceID, ok := pathID(c, "resource_id")
		if !ok {
			return
		}

		n, err := bs.DeleteByResource(c.Request.Context(), claims.Requester(), resourceID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, models.SuccessResponse(gin.H{"deleted": n}, "Reservations deleted"))
	}
}

func DeleteReservationsByUser(bs *services.BookingService) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := currentUser(c)
		if !ok {
			return
		}
		userID, ok := pathID(c, "user_id")
		if !ok {
			return
		}

		n, err := bs.DeleteByUser(c.Request.Context(), claims.Requester(), userID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, models.SuccessResponse(gin.H{"deleted": n}, "Reservations deleted"))
	}
}

func ResourceAvailability(bs *services.BookingService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}

		availability, err := bs.GetAvailability(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, models.SuccessResponse(availability, ""))
	}
}

func ResourceReservations(bs *services.BookingService) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := currentUser(c)
		if !ok {
			return
		}
		id, ok := pathID(c, "id")
		if !ok {
			return
		}

		list, err := bs.ActiveForResource(c.Request.Context(), claims.Requester(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, models.SuccessResponse(list, ""))
	}
}
