package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================
// Transactions
// ============================================================

// Track (volet) separates recorded activity from projected activity.
type Track string

const (
	TrackActual Track = "suivi"
	TrackBudget Track = "budget"
)

// Valid reports whether t is a known track.
func (t Track) Valid() bool {
	return t == TrackActual || t == TrackBudget
}

// Display returns the label shown to users.
func (t Track) Display() string {
	switch t {
	case TrackActual:
		return "Suivi"
	case TrackBudget:
		return "Budget"
	}
	return string(t)
}

// Position tells whether a transaction is an expense or an income. Its values
// match CategoryType so the two can be compared directly.
type Position string

const (
	PositionExpense Position = "expense"
	PositionIncome  Position = "income"
)

// Valid reports whether p is a known position.
func (p Position) Valid() bool {
	return p == PositionExpense || p == PositionIncome
}

// Matches reports whether a category of type t may back a transaction at p.
func (p Position) Matches(t CategoryType) bool {
	return string(p) == string(t)
}

// Display returns the label shown to users.
func (p Position) Display() string {
	return CategoryType(p).Display()
}

// Status is the lifecycle state of a transaction.
type Status string

const (
	StatusPending   Status = "pending"
	StatusValidated Status = "validated"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusPending || s == StatusValidated || s == StatusCancelled
}

// Display returns the label shown to users.
func (s Status) Display() string {
	switch s {
	case StatusPending:
		return "En attente"
	case StatusValidated:
		return "Validée"
	case StatusCancelled:
		return "Annulée"
	}
	return string(s)
}

// CanTransitionTo reports whether an explicit status action may move s to next.
// Staying in place is always allowed; nothing returns to pending.
func (s Status) CanTransitionTo(next Status) bool {
	if s == next {
		return true
	}
	switch s {
	case StatusPending:
		return next == StatusValidated || next == StatusCancelled
	case StatusValidated:
		return next == StatusCancelled
	case StatusCancelled:
		return next == StatusValidated
	}
	return false
}

// DefaultStatus is the status of a transaction created without one.
const DefaultStatus = StatusValidated

// MaxLineItemAmount bounds a single amount (12 digits, 2 of them fractional).
var MaxLineItemAmount = decimal.New(1, 10)

// LineItem (libellé) is one dated amount inside a transaction.
type LineItem struct {
	ID            string          `json:"id"`
	TransactionID string          `json:"-"`
	Name          string          `json:"nom"`
	Date          Date            `json:"date"`
	Amount        decimal.Decimal `json:"montant"`
	Comment       string          `json:"commentaire"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Photo is a receipt image attached to a transaction.
type Photo struct {
	ID            string    `json:"id"`
	TransactionID string    `json:"-"`
	BlobRef       string    `json:"-"`
	Caption       string    `json:"legende"`
	CreatedAt     time.Time `json:"created_at"`
}

// Transaction is owned by exactly one user and references one category.
type Transaction struct {
	ID         string
	UserID     string
	Username   string
	Number     int64
	Track      Track
	Position   Position
	CategoryID string
	Category   *Category
	Status     Status
	Currency   string
	LineItems  []LineItem
	Photos     []Photo
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Total is the sum of the line-item amounts. It is computed on every read.
func (t *Transaction) Total() decimal.Decimal {
	return SumLineItems(t.LineItems)
}

// SumLineItems adds the amounts of items exactly.
func SumLineItems(items []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, li := range items {
		total = total.Add(li.Amount)
	}
	return total
}

// EffectiveDate is the latest line-item date, or the creation day when no
// line item carries one.
func (t *Transaction) EffectiveDate() Date {
	var latest Date
	for _, li := range t.LineItems {
		if !li.Date.IsZero() && li.Date.After(latest) {
			latest = li.Date
		}
	}
	if latest.IsZero() {
		return DateOf(t.CreatedAt)
	}
	return latest
}

// LineItemInput is one libellé as submitted by the client.
type LineItemInput struct {
	Name    string           `json:"nom"`
	Date    *Date            `json:"date"`
	Amount  *decimal.Decimal `json:"montant"`
	Comment string           `json:"commentaire"`

	// Set when the submitted value could not be parsed, so validation can
	// report it against the item's index.
	badDate   bool
	badAmount bool
}

func (li *LineItemInput) UnmarshalJSON(b []byte) error {
	var raw struct {
		Name    string          `json:"nom"`
		Date    json.RawMessage `json:"date"`
		Amount  json.RawMessage `json:"montant"`
		Comment string          `json:"commentaire"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*li = LineItemInput{Name: raw.Name, Comment: raw.Comment}

	if len(raw.Date) > 0 && string(raw.Date) != "null" {
		var d Date
		if err := json.Unmarshal(raw.Date, &d); err != nil {
			li.badDate = true
		} else {
			li.Date = &d
		}
	}
	if len(raw.Amount) > 0 && string(raw.Amount) != "null" {
		var a decimal.Decimal
		if err := json.Unmarshal(raw.Amount, &a); err != nil {
			li.badAmount = true
		} else {
			li.Amount = &a
		}
	}
	return nil
}

// ValidateLineItems checks the batch submitted with a create or replace.
func ValidateLineItems(items []LineItemInput) error {
	if len(items) == 0 {
		return &ErrValidation{Field: "libelles", Message: "Au moins un libellé est requis."}
	}
	for i := range items {
		li := &items[i]
		li.Name = strings.TrimSpace(li.Name)
		li.Comment = strings.TrimSpace(li.Comment)
		field := func(name string) string { return fmt.Sprintf("libelles[%d].%s", i, name) }

		if li.Name == "" {
			return &ErrValidation{Field: field("nom"), Message: "Ce champ est obligatoire."}
		}
		if len(li.Name) > 255 {
			return &ErrValidation{Field: field("nom"), Message: "255 caractères maximum."}
		}
		if li.badDate {
			return &ErrValidation{Field: field("date"), Message: "Date au format AAAA-MM-JJ attendue."}
		}
		if li.Date == nil || li.Date.IsZero() {
			return &ErrValidation{Field: field("date"), Message: "Ce champ est obligatoire."}
		}
		if li.badAmount {
			return &ErrValidation{Field: field("montant"), Message: "Nombre décimal attendu."}
		}
		if li.Amount == nil {
			return &ErrValidation{Field: field("montant"), Message: "Ce champ est obligatoire."}
		}
		if li.Amount.IsNegative() {
			return &ErrValidation{Field: field("montant"), Message: "Le montant doit être positif ou nul."}
		}
		if !li.Amount.Equal(li.Amount.Round(2)) {
			return &ErrValidation{Field: field("montant"), Message: "2 décimales maximum."}
		}
		if li.Amount.GreaterThanOrEqual(MaxLineItemAmount) {
			return &ErrValidation{Field: field("montant"), Message: "Montant trop élevé."}
		}
	}
	return nil
}

// TransactionInput is the body for POST and PUT /v1/transactions.
type TransactionInput struct {
	Track      Track           `json:"volet"`
	Position   Position        `json:"position"`
	CategoryID string          `json:"categorie"`
	Status     Status          `json:"statut"`
	Currency   string          `json:"devise"`
	LineItems  []LineItemInput `json:"libelles"`
}

// Normalize applies defaults for omitted optional fields.
func (in *TransactionInput) Normalize(defaultCurrency string) {
	in.CategoryID = strings.TrimSpace(in.CategoryID)
	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	if in.Currency == "" {
		in.Currency = defaultCurrency
	}
	if in.Status == "" {
		in.Status = DefaultStatus
	}
}

// ValidateHeader checks everything except the category and line items.
func (in *TransactionInput) ValidateHeader() error {
	if !in.Track.Valid() {
		return &ErrValidation{Field: "volet", Message: "Doit valoir 'suivi' ou 'budget'."}
	}
	if !in.Position.Valid() {
		return &ErrValidation{Field: "position", Message: "Doit valoir 'expense' ou 'income'."}
	}
	if in.CategoryID == "" {
		return &ErrValidation{Field: "categorie", Message: "Ce champ est obligatoire."}
	}
	if !in.Status.Valid() {
		return &ErrValidation{Field: "statut", Message: "Statut inconnu."}
	}
	return ValidateCurrency(in.Currency)
}

// ValidateCurrency checks a 3-letter currency code. The code is a label only.
func ValidateCurrency(code string) error {
	if len(code) != 3 {
		return &ErrValidation{Field: "devise", Message: "Code devise à 3 lettres attendu."}
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return &ErrValidation{Field: "devise", Message: "Code devise à 3 lettres attendu."}
		}
	}
	return nil
}

// TransactionPatch is the body for PATCH /v1/transactions/{id}; nil means unchanged.
// LineItems, when present, replaces the whole collection.
type TransactionPatch struct {
	Track      *Track           `json:"volet"`
	Position   *Position        `json:"position"`
	CategoryID *string          `json:"categorie"`
	Status     *Status          `json:"statut"`
	Currency   *string          `json:"devise"`
	LineItems  *[]LineItemInput `json:"libelles"`
}

// BulkStatusRequest is the body for POST /v1/transactions/bulk-status.
type BulkStatusRequest struct {
	IDs    []string `json:"ids"`
	Status Status   `json:"statut"`
}

// ============================================================
// Filtering
// ============================================================

// Ordering values accepted by transaction listings.
const (
	OrderCreatedDesc = "-created_at"
	OrderCreatedAsc  = "created_at"
	OrderDateDesc    = "-date"
	OrderDateAsc     = "date"
)

// ValidOrdering reports whether o is an accepted ordering.
func ValidOrdering(o string) bool {
	switch o {
	case OrderCreatedDesc, OrderCreatedAsc, OrderDateDesc, OrderDateAsc:
		return true
	}
	return false
}

// Month is a calendar month used by the month filter.
type Month struct {
	Year  int
	Month time.Month
}

// TransactionFilter narrows the caller's own transactions. Zero values mean
// "not applied". Ownership is never part of the filter: it is always enforced.
type TransactionFilter struct {
	Track      *Track
	Position   *Position
	Status     *Status
	CategoryID string
	Search     string
	DateFrom   *Date
	DateTo     *Date
	Month      *Month
	Ordering   string
	Limit      int
	Offset     int
}

// HasDateFilter reports whether a month or date range is applied.
func (f TransactionFilter) HasDateFilter() bool {
	return f.Month != nil || f.DateFrom != nil || f.DateTo != nil
}

// EffectiveOrdering resolves the ordering, defaulting to newest first, or to
// latest line-item date when a date filter is applied.
func (f TransactionFilter) EffectiveOrdering() string {
	if ValidOrdering(f.Ordering) {
		return f.Ordering
	}
	if f.HasDateFilter() {
		return OrderDateDesc
	}
	return OrderCreatedDesc
}
