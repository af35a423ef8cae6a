package routes

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joshua-takyi/fieldbook/internal/container"
	"github.com/joshua-takyi/fieldbook/internal/handlers"
	"github.com/joshua-takyi/fieldbook/internal/middleware"
	"github.com/joshua-takyi/fieldbook/internal/models"
)

// SetupRoutes configures all routes with the dependency container
func SetupRoutes(container *container.Container) *gin.Engine {
	if container.Config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(cors.New(cors.Config{
		AllowOrigins:     container.Config.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"},
		ExposeHeaders:    []string{"Content-Length", "X-Request-ID"},
		AllowCredentials: true,
	}))

	r.Use(middleware.RequestID())
	r.Use(middleware.StructuredLogger(container.Logger))
	r.Use(middleware.ErrorHandler(container.Logger))
	r.Use(gin.Recovery())

	v1 := r.Group("/api/v1")
	{
		v1.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"status":  "OK",
				"service": "fieldbook-api",
			})
		})

		// the gateway calls back without a user session
		callback := handlers.PaymentCallback(container.PaymentService, container.Config.FrontendURL, container.Logger)
		v1.GET("/payments/vnpay/callback", callback)
		v1.POST("/payments/vnpay/callback", callback)

		v1.GET("/resources/:id/availability", handlers.ResourceAvailability(container.BookingService))
	}

	protected := v1.Group("/")
	protected.Use(middleware.AuthMiddleware(container.Tokens, container.Roles, container.Logger))

	manage := middleware.RequireCapability(models.CapManageReservations)

	reservationRoutes := protected.Group("/reservations")
	{
		reservationRoutes.POST("", handlers.CreateReservation(container.BookingService))
		reservationRoutes.GET("/my", handlers.ListMyReservations(container.BookingService))
		reservationRoutes.GET("", manage, handlers.ListReservations(container.BookingService))
		reservationRoutes.GET("/:id", handlers.GetReservation(container.BookingService))
		reservationRoutes.DELETE("/:id", handlers.CancelReservation(container.BookingService))
		reservationRoutes.PUT("/:id/status", manage, handlers.UpdateReservationStatus(container.BookingService))
		reservationRoutes.DELETE("/resource/:resource_id", manage, handlers.DeleteReservationsByResource(container.BookingService))
		reservationRoutes.DELETE("/user/:user_id", manage, handlers.DeleteReservationsByUser(container.BookingService))
	}

	resourceRoutes := protected.Group("/resources")
	{
		resourceRoutes.GET("/:id/reservations", manage, handlers.ResourceReservations(container.BookingService))
	}

	paymentRoutes := protected.Group("/payments")
	{
		paymentRoutes.GET("/:reservation_id/redirect", handlers.PaymentRedirect(container.PaymentService))
	}

	scan := middleware.RequireCapability(models.CapScanCheckin)
	checkinRoutes := protected.Group("/checkin")
	{
		checkinRoutes.POST("/scan", scan, handlers.ScanCheckin(container.CheckinService))
		checkinRoutes.GET("/:reservation_id", handlers.GetCheckin(container.CheckinService))
		checkinRoutes.GET("/:reservation_id/qr", handlers.CheckinQR(container.CheckinService))
		checkinRoutes.POST("/:reservation_id/consume", scan, handlers.ConsumeCheckin(container.CheckinService))
	}

	reportRoutes := protected.Group("/reports")
	reportRoutes.Use(middleware.RequireCapability(models.CapViewReports))
	{
		reportRoutes.GET("/day", handlers.DailyRevenue(container.ReportService))
		reportRoutes.GET("/month", handlers.MonthlyRevenue(container.ReportService))
		reportRoutes.GET("/chart", handlers.RevenueChart(container.ReportService))
	}

	return r
}
