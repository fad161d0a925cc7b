package domain

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// ============================================================
// Statistics
// ============================================================

// StatisticsFilter selects the transactions that feed the aggregation.
type StatisticsFilter struct {
	Track    *Track
	DateFrom *Date
	DateTo   *Date
}

// TransactionFilter converts the statistics filter into a listing filter
// restricted to validated transactions.
func (f StatisticsFilter) TransactionFilter() TransactionFilter {
	validated := StatusValidated
	return TransactionFilter{
		Track:    f.Track,
		Status:   &validated,
		DateFrom: f.DateFrom,
		DateTo:   f.DateTo,
	}
}

// CategoryBreakdown is one group of the per-category statistics.
type CategoryBreakdown struct {
	Name             string          `json:"categorie__nom"`
	Color            string          `json:"categorie__couleur"`
	Icon             string          `json:"categorie__icone"`
	Total            decimal.Decimal `json:"total"`
	TransactionCount int             `json:"count"`
}

// MarshalJSON renders the total with exactly two fractional digits.
func (b CategoryBreakdown) MarshalJSON() ([]byte, error) {
	type alias CategoryBreakdown
	return json.Marshal(struct {
		alias
		Total string `json:"total"`
	}{alias: alias(b), Total: FormatDecimal(b.Total)})
}

// Statistics is the aggregate of one user's validated transactions.
type Statistics struct {
	TotalIncome       decimal.Decimal     `json:"total_revenus"`
	TotalExpense      decimal.Decimal     `json:"total_depenses"`
	Balance           decimal.Decimal     `json:"solde"`
	TransactionCount  int                 `json:"nb_transactions"`
	ExpenseByCategory []CategoryBreakdown `json:"depenses_par_categorie"`
	IncomeByCategory  []CategoryBreakdown `json:"revenus_par_categorie"`
}

// MarshalJSON renders amounts as fixed two-decimal strings and empty groups as [].
func (s Statistics) MarshalJSON() ([]byte, error) {
	expense := s.ExpenseByCategory
	if expense == nil {
		expense = []CategoryBreakdown{}
	}
	income := s.IncomeByCategory
	if income == nil {
		income = []CategoryBreakdown{}
	}
	return json.Marshal(struct {
		TotalIncome       string              `json:"total_revenus"`
		TotalExpense      string              `json:"total_depenses"`
		Balance           string              `json:"solde"`
		TransactionCount  int                 `json:"nb_transactions"`
		ExpenseByCategory []CategoryBreakdown `json:"depenses_par_categorie"`
		IncomeByCategory  []CategoryBreakdown `json:"revenus_par_categorie"`
	}{
		TotalIncome:       FormatDecimal(s.TotalIncome),
		TotalExpense:      FormatDecimal(s.TotalExpense),
		Balance:           FormatDecimal(s.Balance),
		TransactionCount:  s.TransactionCount,
		ExpenseByCategory: expense,
		IncomeByCategory:  income,
	})
}

// Balance is the response of GET /v1/transactions/solde.
type Balance struct {
	Balance   string `json:"solde"`
	Formatted string `json:"solde_formate"`
	Currency  string `json:"devise"`
}

// Dashboard bundles both tracks and the latest activity.
type Dashboard struct {
	Actual Statistics           `json:"suivi"`
	Budget Statistics           `json:"budget"`
	Gap    string               `json:"ecart_solde"`
	Recent []TransactionSummary `json:"recentes"`
}
