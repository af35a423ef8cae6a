package services

import (
	"context"
	"fmt"
	"time"

	"github.com/joshua-takyi/fieldbook/internal/models"
)

// ReportService sums paid reservations by the day they were paid in loc.
type ReportService struct {
	store models.ReservationRepo
	loc   *time.Location
}

func NewReportService(store models.ReservationRepo, loc *time.Location) *ReportService {
	if loc == nil {
		loc = time.UTC
	}
	return &ReportService{store: store, loc: loc}
}

func (rs *ReportService) summarize(ctx context.Context, from, to time.Time) (*models.RevenueSummary, []models.DailyRevenue, error) {
	days, err := rs.store.RevenueByDay(ctx, from, to, rs.loc)
	if err != nil {
		return nil, nil, fmt.Errorf("revenue query: %w", err)
	}
	sum := &models.RevenueSummary{
		From: from.Format(models.DateLayout),
		To:   to.AddDate(0, 0, -1).Format(models.DateLayout),
	}
	for _, d := range days {
		sum.TotalRevenue += d.Revenue
		sum.Bookings += d.Bookings
	}
	return sum, days, nil
}

// RevenueByDay reports a single calendar day given as YYYY-MM-DD.
func (rs *ReportService) RevenueByDay(ctx context.Context, requester models.Requester, date string) (*models.RevenueSummary, error) {
	if !requester.Permits(models.CapViewReports) {
		return nil, models.ErrForbidden
	}
	day, err := time.ParseInLocation(models.DateLayout, date, rs.loc)
	if err != nil {
		return nil, fmt.Errorf("%w: date must be YYYY-MM-DD", models.ErrValidation)
	}
	sum, _, err := rs.summarize(ctx, day, day.AddDate(0, 0, 1))
	return sum, err
}

func (rs *ReportService) monthBounds(year, month int) (time.Time, time.Time, error) {
	if month < 1 || month > 12 || year < 1970 || year > 9999 {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: invalid year or month", models.ErrValidation)
	}
	from := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, rs.loc)
	return from, from.AddDate(0, 1, 0), nil
}

func (rs *ReportService) RevenueByMonth(ctx context.Context, requester models.Requester, year, month int) (*models.RevenueSummary, error) {
	if !requester.Permits(models.CapViewReports) {
		return nil, models.ErrForbidden
	}
	from, to, err := rs.monthBounds(year, month)
	if err != nil {
		return nil, err
	}
	sum, _, err := rs.summarize(ctx, from, to)
	return sum, err
}

// DailyChart returns one row per day of the month that had revenue, oldest first.
func (rs *ReportService) DailyChart(ctx context.Context, requester models.Requester, year, month int) ([]models.DailyRevenue, error) {
	if !requester.Permits(models.CapViewReports) {
		return nil, models.ErrForbidden
	}
	from, to, err := rs.monthBounds(year, month)
	if err != nil {
		return nil, err
	}
	_, days, err := rs.summarize(ctx, from, to)
	if err != nil {
		return nil, err
	}
	if days == nil {
		days = []models.DailyRevenue{}
	}
	return days, nil
}
