package domain

import (
	"time"
)

// ============================================================
// Response projections
// ============================================================

// LineItemView is a line item as rendered by the API.
type LineItemView struct {
	ID        string    `json:"id"`
	Name      string    `json:"nom"`
	Date      Date      `json:"date"`
	Amount    string    `json:"montant"`
	Comment   string    `json:"commentaire"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PhotoView is a photo with its resolved URL.
type PhotoView struct {
	ID        string    `json:"id"`
	ImageURL  string    `json:"image_url"`
	Caption   string    `json:"legende"`
	CreatedAt time.Time `json:"created_at"`
}

// TransactionDetail is the full projection used by detail, create and update.
type TransactionDetail struct {
	ID              string         `json:"id"`
	Number          int64          `json:"numero"`
	UserID          string         `json:"user"`
	Username        string         `json:"user_username"`
	Track           Track          `json:"volet"`
	TrackDisplay    string         `json:"volet_display"`
	Position        Position       `json:"position"`
	PositionDisplay string         `json:"position_display"`
	CategoryID      string         `json:"categorie"`
	Category        *CategoryRef   `json:"categorie_detail"`
	Status          Status         `json:"statut"`
	StatusDisplay   string         `json:"statut_display"`
	Currency        string         `json:"devise"`
	LineItems       []LineItemView `json:"libelles"`
	Photos          []PhotoView    `json:"photos"`
	Total           string         `json:"montant_total"`
	TotalFormatted  string         `json:"montant_total_formate"`
	LineItemCount   int            `json:"nb_libelles"`
	Date            Date           `json:"date"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// TransactionSummary is the compact projection used by listings.
type TransactionSummary struct {
	ID            string   `json:"id"`
	Number        int64    `json:"numero"`
	Track         Track    `json:"volet"`
	Position      Position `json:"position"`
	CategoryName  string   `json:"categorie_nom"`
	CategoryColor string   `json:"categorie_couleur"`
	CategoryIcon  string   `json:"categorie_icone"`
	FirstLabel    string   `json:"libelle"`
	Total         string   `json:"montant_total"`
	LineItemCount int      `json:"nb_libelles"`
	Currency      string   `json:"devise"`
	Date          Date     `json:"date"`
	Status        Status   `json:"statut"`
}

// NewTransactionDetail renders t; urlFor resolves photo blob references.
func NewTransactionDetail(t *Transaction, urlFor func(ref string) string) TransactionDetail {
	total := t.Total()
	d := TransactionDetail{
		ID:              t.ID,
		Number:          t.Number,
		UserID:          t.UserID,
		Username:        t.Username,
		Track:           t.Track,
		TrackDisplay:    t.Track.Display(),
		Position:        t.Position,
		PositionDisplay: t.Position.Display(),
		CategoryID:      t.CategoryID,
		Status:          t.Status,
		StatusDisplay:   t.Status.Display(),
		Currency:        t.Currency,
		LineItems:       make([]LineItemView, 0, len(t.LineItems)),
		Photos:          make([]PhotoView, 0, len(t.Photos)),
		Total:           FormatDecimal(total),
		TotalFormatted:  FormatAmount(total),
		LineItemCount:   len(t.LineItems),
		Date:            t.EffectiveDate(),
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
	}
	if t.Category != nil {
		ref := t.Category.Ref()
		d.Category = &ref
	}
	for _, li := range t.LineItems {
		d.LineItems = append(d.LineItems, LineItemView{
			ID:        li.ID,
			Name:      li.Name,
			Date:      li.Date,
			Amount:    FormatDecimal(li.Amount),
			Comment:   li.Comment,
			CreatedAt: li.CreatedAt,
			UpdatedAt: li.UpdatedAt,
		})
	}
	for _, p := range t.Photos {
		url := ""
		if urlFor != nil {
			url = urlFor(p.BlobRef)
		}
		d.Photos = append(d.Photos, PhotoView{ID: p.ID, ImageURL: url, Caption: p.Caption, CreatedAt: p.CreatedAt})
	}
	return d
}

// NewTransactionSummary renders the list projection of t.
func NewTransactionSummary(t *Transaction) TransactionSummary {
	s := TransactionSummary{
		ID:            t.ID,
		Number:        t.Number,
		Track:         t.Track,
		Position:      t.Position,
		Total:         FormatDecimal(t.Total()),
		LineItemCount: len(t.LineItems),
		Currency:      t.Currency,
		Date:          t.EffectiveDate(),
		Status:        t.Status,
	}
	if t.Category != nil {
		s.CategoryName = t.Category.Name
		s.CategoryColor = t.Category.Color
		s.CategoryIcon = t.Category.Icon
	}
	if len(t.LineItems) > 0 {
		s.FirstLabel = t.LineItems[0].Name
	}
	return s
}

// TransactionPage is a paginated listing.
type TransactionPage struct {
	Count    int                  `json:"count"`
	Page     int                  `json:"page"`
	PageSize int                  `json:"page_size"`
	Results  []TransactionSummary `json:"results"`
}
