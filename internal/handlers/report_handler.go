package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/joshua-takyi/fieldbook/internal/models"
	"github.com/joshua-takyi/fieldbook/internal/services"
)

func DailyRevenue(rs *services.ReportService) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := currentUser(c)
		if !ok {
			return
		}

		summary, err := rs.RevenueByDay(c.Request.Context(), claims.Requester(), c.Query("date"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, models.SuccessResponse(summary, ""))
	}
}

func yearMonth(c *gin.Context) (int, int, bool) {
	year, err := strconv.Atoi(c.Query("year"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse("invalid year parameter"))
		return 0, 0, false
	}
	month, err := strconv.Atoi(c.Query("month"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse("invalid month parameter"))
		return 0, 0, false
	}
	return year, month, true
}

func MonthlyRevenue(rs *services.ReportService) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := currentUser(c)
		if !ok {
			return
		}
		year, month, ok := yearMonth(c)
		if !ok {
			return
		}

		summary, err := rs.RevenueByMonth(c.Request.Context(), claims.Requester(), year, month)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, models.SuccessResponse(summary, ""))
	}
}

func RevenueChart(rs *services.ReportService) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := currentUser(c)
		if !ok {
			return
		}
		year, month, ok := yearMonth(c)
		if !ok {
			return
		}

		days, err := rs.DailyChart(c.Request.Context(), claims.Requester(), year, month)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, models.SuccessResponse(days, ""))
	}
}
