package domain_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/notimo/notimo-api/internal/domain"

	"github.com/shopspring/decimal"
)

func TestStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to domain.Status
		want     bool
	}{
		{domain.StatusPending, domain.StatusValidated, true},
		{domain.StatusPending, domain.StatusCancelled, true},
		{domain.StatusValidated, domain.StatusCancelled, true},
		{domain.StatusCancelled, domain.StatusValidated, true},
		{domain.StatusValidated, domain.StatusValidated, true},
		{domain.StatusValidated, domain.StatusPending, false},
		{domain.StatusCancelled, domain.StatusPending, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
			t.Errorf("%s -> %s: expected %v, got %v", tt.from, tt.to, tt.want, got)
		}
	}
}

func TestFormatAmount(t *testing.T) {
	tests := map[string]string{
		"0":          "0",
		"999":        "999",
		"2000":       "2 000",
		"2000.75":    "2 000",
		"1234567.10": "1 234 567",
		"-15000":     "-15 000",
	}
	for in, want := range tests {
		if got := domain.FormatAmount(decimal.RequireFromString(in)); got != want {
			t.Errorf("FormatAmount(%s): expected %q, got %q", in, want, got)
		}
	}
}

func TestValidateLineItems_FieldKeyed(t *testing.T) {
	day := domain.NewDate(2024, time.March, 1)
	ok := decimal.RequireFromString("10.00")
	negative := decimal.RequireFromString("-1")
	precise := decimal.RequireFromString("1.005")

	tests := []struct {
		name  string
		items []domain.LineItemInput
		field string
	}{
		{"empty", nil, "libelles"},
		{"missing name", []domain.LineItemInput{{Date: &day, Amount: &ok}}, "libelles[0].nom"},
		{"missing date", []domain.LineItemInput{{Name: "a", Amount: &ok}}, "libelles[0].date"},
		{"missing amount", []domain.LineItemInput{{Name: "a", Date: &day}}, "libelles[0].montant"},
		{"negative", []domain.LineItemInput{{Name: "a", Date: &day, Amount: &ok}, {Name: "b", Date: &day, Amount: &negative}}, "libelles[1].montant"},
		{"three decimals", []domain.LineItemInput{{Name: "a", Date: &day, Amount: &precise}}, "libelles[0].montant"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var verr *domain.ErrValidation
			if err := domain.ValidateLineItems(tt.items); !errors.As(err, &verr) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if verr.Field != tt.field {
				t.Errorf("expected field %q, got %q", tt.field, verr.Field)
			}
		})
	}

	zero := decimal.Zero
	if err := domain.ValidateLineItems([]domain.LineItemInput{{Name: "a", Date: &day, Amount: &zero}}); err != nil {
		t.Errorf("zero amount must be accepted: %v", err)
	}
}

func TestDate_JSON(t *testing.T) {
	var li domain.LineItemInput
	if err := json.Unmarshal([]byte(`{"nom":"x","date":"2024-03-10","montant":"12.50"}`), &li); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if li.Date == nil || li.Date.String() != "2024-03-10" {
		t.Errorf("unexpected date %v", li.Date)
	}

	var d domain.Date
	err := json.Unmarshal([]byte(`"10/03/2024"`), &d)
	var verr *domain.ErrValidation
	if !errors.As(err, &verr) || verr.Field != "date" {
		t.Errorf("expected a date validation error, got %v", err)
	}

	b, _ := json.Marshal(domain.NewDate(2024, time.January, 5))
	if string(b) != `"2024-01-05"` {
		t.Errorf("unexpected encoding %s", b)
	}
}

func TestValidateLineItems_MalformedValuesKeepIndex(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"bad date", `{"libelles":[{"nom":"a","date":"2024-03-10","montant":"1"},{"nom":"b","date":"10/03/2024","montant":"1"}]}`, "libelles[1].date"},
		{"date not a string", `{"libelles":[{"nom":"a","date":20240310,"montant":"1"}]}`, "libelles[0].date"},
		{"bad amount", `{"libelles":[{"nom":"a","date":"2024-03-10","montant":"douze"}]}`, "libelles[0].montant"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var in domain.TransactionInput
			if err := json.Unmarshal([]byte(tt.body), &in); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			var verr *domain.ErrValidation
			if err := domain.ValidateLineItems(in.LineItems); !errors.As(err, &verr) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if verr.Field != tt.field {
				t.Errorf("expected field %q, got %q", tt.field, verr.Field)
			}
		})
	}
}

func TestTransaction_TotalAndEffectiveDate(t *testing.T) {
	created := time.Date(2024, time.February, 1, 9, 0, 0, 0, time.UTC)
	tx := domain.Transaction{
		CreatedAt: created,
		LineItems: []domain.LineItem{
			{Date: domain.NewDate(2024, time.March, 3), Amount: decimal.RequireFromString("10.00")},
			{Date: domain.NewDate(2024, time.March, 9), Amount: decimal.RequireFromString("5.50")},
		},
	}
	if got := tx.Total(); !got.Equal(decimal.RequireFromString("15.50")) {
		t.Errorf("expected total 15.50, got %s", got)
	}
	if got := tx.EffectiveDate().String(); got != "2024-03-09" {
		t.Errorf("expected latest line-item date, got %s", got)
	}

	empty := domain.Transaction{CreatedAt: created}
	if got := empty.EffectiveDate().String(); got != "2024-02-01" {
		t.Errorf("expected creation date fallback, got %s", got)
	}
}

func TestTransactionFilter_EffectiveOrdering(t *testing.T) {
	if got := (domain.TransactionFilter{}).EffectiveOrdering(); got != domain.OrderCreatedDesc {
		t.Errorf("expected %s by default, got %s", domain.OrderCreatedDesc, got)
	}
	f := domain.TransactionFilter{Month: &domain.Month{Year: 2024, Month: time.March}}
	if got := f.EffectiveOrdering(); got != domain.OrderDateDesc {
		t.Errorf("expected %s with a month filter, got %s", domain.OrderDateDesc, got)
	}
	f.Ordering = "bogus"
	if got := f.EffectiveOrdering(); got != domain.OrderDateDesc {
		t.Errorf("unknown ordering must be ignored, got %s", got)
	}
	f.Ordering = domain.OrderCreatedAsc
	if got := f.EffectiveOrdering(); got != domain.OrderCreatedAsc {
		t.Errorf("explicit ordering must win, got %s", got)
	}
}
