package handlers

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/joshua-takyi/fieldbook/internal/models"
	"github.com/joshua-takyi/fieldbook/internal/services"
)

func PaymentRedirect(ps *services.PaymentService) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := currentUser(c)
		if !ok {
			return
		}
		id, ok := pathID(c, "reservation_id")
		if !ok {
			return
		}

		payURL, err := ps.RedirectURL(c.Request.Context(), claims.Requester(), id, c.ClientIP())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, models.SuccessResponse(gin.H{"payment_url": payURL}, ""))
	}
}

// PaymentCallback handles the gateway return. Business outcomes, including bad
// signatures, always end in a redirect to the frontend; only a store failure is
// answered with an error status.
func PaymentCallback(ps *services.PaymentService, frontendURL string, logger *slog.Logger) gin.HandlerFunc {
	base := strings.TrimRight(frontendURL, "/")
	return func(c *gin.Context) {
		params := c.Request.URL.Query()
		if c.Request.Method == http.MethodPost {
			if err := c.Request.ParseForm(); err != nil {
				logger.Warn("Unreadable payment callback body", "error", err)
			} else {
				params = c.Request.Form
			}
		}

		res, err := ps.Reconcile(c.Request.Context(), params)
		if err != nil {
			respondError(c, err)
			return
		}

		target := base + "/payment-failed"
		if res.Succeeded() {
			target = base + "/payment-success"
		}
		q := url.Values{}
		q.Set("outcome", string(res.Outcome))
		if res.ReservationID != "" {
			q.Set("reservation_id", res.ReservationID)
		}
		c.Redirect(http.StatusFound, target+"?"+q.Encode())
	}
}
