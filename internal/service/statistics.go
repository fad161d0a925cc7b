package service

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/notimo/notimo-api/internal/domain"
	"github.com/notimo/notimo-api/internal/infra/observability"
	"github.com/notimo/notimo-api/internal/port"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var statsTracer = otel.Tracer("service/statistics")

// StatisticsService reduces a user's validated transactions into totals and
// per-category breakdowns. It only reads.
type StatisticsService struct {
	store           port.TransactionStore
	defaultCurrency string
	metrics         *observability.Metrics
	logger          *zap.Logger
}

// NewStatisticsService creates a new statistics service.
func NewStatisticsService(store port.TransactionStore, defaultCurrency string, metrics *observability.Metrics, logger *zap.Logger) *StatisticsService {
	return &StatisticsService{store: store, defaultCurrency: defaultCurrency, metrics: metrics, logger: logger}
}

// Statistics aggregates the caller's validated transactions matching filter.
func (s *StatisticsService) Statistics(ctx context.Context, userID string, filter domain.StatisticsFilter) (*domain.Statistics, error) {
	ctx, span := statsTracer.Start(ctx, "StatisticsService.Statistics")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))
	start := time.Now()
	defer func() { s.metrics.RecordRequestDuration("statistics", time.Since(start)) }()

	txs, _, err := s.store.ListTransactions(ctx, userID, filter.TransactionFilter())
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}

	track := "all"
	if filter.Track != nil {
		track = string(*filter.Track)
	}
	s.metrics.IncrStatistics(track)

	stats := Aggregate(txs)
	span.SetAttributes(attribute.Int("transactions", stats.TransactionCount))
	return &stats, nil
}

// Balance returns income minus expense over every validated transaction.
func (s *StatisticsService) Balance(ctx context.Context, userID string) (*domain.Balance, error) {
	stats, err := s.Statistics(ctx, userID, domain.StatisticsFilter{})
	if err != nil {
		return nil, err
	}
	return &domain.Balance{
		Balance:   domain.FormatDecimal(stats.Balance),
		Formatted: domain.FormatAmount(stats.Balance),
		Currency:  s.defaultCurrency,
	}, nil
}

type breakdownKey struct {
	name, color, icon string
}

// Aggregate computes the statistics record of txs. Transactions that are not
// validated are ignored. Groups are sorted by descending total; equal totals
// keep the order in which their category first appeared in txs.
func Aggregate(txs []domain.Transaction) domain.Statistics {
	stats := domain.Statistics{
		TotalIncome:       decimal.Zero,
		TotalExpense:      decimal.Zero,
		Balance:           decimal.Zero,
		ExpenseByCategory: []domain.CategoryBreakdown{},
		IncomeByCategory:  []domain.CategoryBreakdown{},
	}

	expenseIdx := map[breakdownKey]int{}
	incomeIdx := map[breakdownKey]int{}

	for i := range txs {
		t := &txs[i]
		if t.Status != domain.StatusValidated {
			continue
		}
		total := t.Total()
		stats.TransactionCount++

		var key breakdownKey
		if t.Category != nil {
			key = breakdownKey{t.Category.Name, t.Category.Color, t.Category.Icon}
		}

		switch t.Position {
		case domain.PositionIncome:
			stats.TotalIncome = stats.TotalIncome.Add(total)
			stats.IncomeByCategory = addToGroup(stats.IncomeByCategory, incomeIdx, key, total)
		case domain.PositionExpense:
			stats.TotalExpense = stats.TotalExpense.Add(total)
			stats.ExpenseByCategory = addToGroup(stats.ExpenseByCategory, expenseIdx, key, total)
		}
	}

	stats.Balance = stats.TotalIncome.Sub(stats.TotalExpense)
	sortBreakdown(stats.ExpenseByCategory)
	sortBreakdown(stats.IncomeByCategory)
	return stats
}

func addToGroup(groups []domain.CategoryBreakdown, idx map[breakdownKey]int, key breakdownKey, amount decimal.Decimal) []domain.CategoryBreakdown {
	i, ok := idx[key]
	if !ok {
		idx[key] = len(groups)
		return append(groups, domain.CategoryBreakdown{
			Name:             key.name,
			Color:            key.color,
			Icon:             key.icon,
			Total:            amount,
			TransactionCount: 1,
		})
	}
	groups[i].Total = groups[i].Total.Add(amount)
	groups[i].TransactionCount++
	return groups
}

func sortBreakdown(groups []domain.CategoryBreakdown) {
	slices.SortStableFunc(groups, func(a, b domain.CategoryBreakdown) int {
		return b.Total.Cmp(a.Total)
	})
}
