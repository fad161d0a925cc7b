package service

import (
	"context"

	"github.com/notimo/notimo-api/internal/domain"

	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
)

var dashboardTracer = otel.Tracer("service/dashboard")

// DashboardService bundles both tracks and the latest activity.
type DashboardService struct {
	stats        *StatisticsService
	transactions *TransactionService
}

// NewDashboardService creates a new dashboard service.
func NewDashboardService(stats *StatisticsService, transactions *TransactionService) *DashboardService {
	return &DashboardService{stats: stats, transactions: transactions}
}

// Dashboard computes the suivi and budget statistics and the recent
// transactions concurrently. The gap is the suivi balance minus the budget
// balance.
func (s *DashboardService) Dashboard(ctx context.Context, userID string) (*domain.Dashboard, error) {
	ctx, span := dashboardTracer.Start(ctx, "DashboardService.Dashboard")
	defer span.End()

	var (
		actual, budget *domain.Statistics
		recent         []domain.TransactionSummary
	)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		track := domain.TrackActual
		var err error
		actual, err = s.stats.Statistics(gctx, userID, domain.StatisticsFilter{Track: &track})
		return err
	})
	g.Go(func() error {
		track := domain.TrackBudget
		var err error
		budget, err = s.stats.Statistics(gctx, userID, domain.StatisticsFilter{Track: &track})
		return err
	})
	g.Go(func() error {
		var err error
		recent, err = s.transactions.Recent(gctx, userID)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &domain.Dashboard{
		Actual: *actual,
		Budget: *budget,
		Gap:    domain.FormatDecimal(actual.Balance.Sub(budget.Balance)),
		Recent: recent,
	}, nil
}
