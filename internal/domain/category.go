package domain

import (
	"regexp"
	"strings"
	"time"
)

// ============================================================
// Categories
// ============================================================

// CategoryType is the side of the ledger a category belongs to.
type CategoryType string

const (
	CategoryExpense CategoryType = "expense"
	CategoryIncome  CategoryType = "income"
)

// Valid reports whether t is a known category type.
func (t CategoryType) Valid() bool {
	return t == CategoryExpense || t == CategoryIncome
}

// Display returns the label shown to users.
func (t CategoryType) Display() string {
	switch t {
	case CategoryExpense:
		return "Dépense"
	case CategoryIncome:
		return "Revenu"
	}
	return string(t)
}

// DefaultCategoryColor is applied when a category is created without a color.
const DefaultCategoryColor = "#6366F1"

var hexColor = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

// ValidColor reports whether c is a #RGB or #RRGGBB hex string.
func ValidColor(c string) bool {
	return hexColor.MatchString(c)
}

// Category is either predefined (global, no owner) or personal (owned by one user).
type Category struct {
	ID           string       `json:"id"`
	Name         string       `json:"nom"`
	Type         CategoryType `json:"type_categorie"`
	Icon         string       `json:"icone"`
	Color        string       `json:"couleur"`
	IsPredefined bool         `json:"est_predefinie"`
	IsActive     bool         `json:"est_active"`
	OwnerID      *string      `json:"creee_par,omitempty"`
	Order        int          `json:"ordre"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// VisibleTo reports whether userID may reference the category.
func (c *Category) VisibleTo(userID string) bool {
	if c.IsPredefined {
		return true
	}
	return c.OwnerID != nil && *c.OwnerID == userID
}

// CategoryInput is the body for POST /v1/categories.
type CategoryInput struct {
	Name  string       `json:"nom"`
	Type  CategoryType `json:"type_categorie"`
	Icon  string       `json:"icone"`
	Color string       `json:"couleur"`
	Order *int         `json:"ordre"`
}

// Normalize trims free-text fields and applies defaults.
func (in *CategoryInput) Normalize() {
	in.Name = strings.TrimSpace(in.Name)
	in.Icon = strings.TrimSpace(in.Icon)
	in.Color = strings.TrimSpace(in.Color)
	if in.Color == "" {
		in.Color = DefaultCategoryColor
	}
}

// Validate checks the required fields of a new category.
func (in *CategoryInput) Validate() error {
	if in.Name == "" {
		return &ErrValidation{Field: "nom", Message: "Ce champ est obligatoire."}
	}
	if len(in.Name) > 100 {
		return &ErrValidation{Field: "nom", Message: "100 caractères maximum."}
	}
	if !in.Type.Valid() {
		return &ErrValidation{Field: "type_categorie", Message: "Doit valoir 'expense' ou 'income'."}
	}
	if !ValidColor(in.Color) {
		return &ErrValidation{Field: "couleur", Message: "Couleur hexadécimale attendue (#RRGGBB)."}
	}
	return nil
}

// CategoryPatch carries the mutable fields of a category; nil means unchanged.
// The type is deliberately absent: it is authoritative for grouping once set.
type CategoryPatch struct {
	Name     *string `json:"nom"`
	Icon     *string `json:"icone"`
	Color    *string `json:"couleur"`
	Order    *int    `json:"ordre"`
	IsActive *bool   `json:"est_active"`
}

// Apply validates the patch and writes it onto c.
func (p *CategoryPatch) Apply(c *Category) error {
	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if name == "" {
			return &ErrValidation{Field: "nom", Message: "Ce champ ne peut être vide."}
		}
		if len(name) > 100 {
			return &ErrValidation{Field: "nom", Message: "100 caractères maximum."}
		}
		c.Name = name
	}
	if p.Icon != nil {
		c.Icon = strings.TrimSpace(*p.Icon)
	}
	if p.Color != nil {
		color := strings.TrimSpace(*p.Color)
		if !ValidColor(color) {
			return &ErrValidation{Field: "couleur", Message: "Couleur hexadécimale attendue (#RRGGBB)."}
		}
		c.Color = color
	}
	if p.Order != nil {
		c.Order = *p.Order
	}
	if p.IsActive != nil {
		c.IsActive = *p.IsActive
	}
	return nil
}

// CategoryScope selects which owners a category listing covers.
type CategoryScope int

const (
	ScopeVisible    CategoryScope = iota // predefined or owned by the caller
	ScopePredefined                      // predefined only
	ScopePersonal                        // owned by the caller only
)

// CategoryFilter narrows category listings. A nil Active lists active
// categories only.
type CategoryFilter struct {
	Scope  CategoryScope
	Type   *CategoryType
	Active *bool
}

// WantActive resolves the active flag the listing selects.
func (f CategoryFilter) WantActive() bool {
	return f.Active == nil || *f.Active
}

// CategoryView is the API projection of a category.
type CategoryView struct {
	Category
	TypeDisplay      string `json:"type_categorie_display"`
	TransactionCount int    `json:"nb_transactions"`
}

// CategoryRef is the compact category shape nested in transactions.
type CategoryRef struct {
	ID    string       `json:"id"`
	Name  string       `json:"nom"`
	Icon  string       `json:"icone"`
	Color string       `json:"couleur"`
	Type  CategoryType `json:"type_categorie"`
}

// Ref returns the compact nested projection of c.
func (c *Category) Ref() CategoryRef {
	return CategoryRef{ID: c.ID, Name: c.Name, Icon: c.Icon, Color: c.Color, Type: c.Type}
}

// PredefinedCategory describes one entry of the seeded catalogue.
type PredefinedCategory struct {
	Name  string
	Type  CategoryType
	Icon  string
	Color string
}

// PredefinedCatalogue is the system-seeded category set.
var PredefinedCatalogue = []PredefinedCategory{
	{Name: "Alimentation", Type: CategoryExpense, Icon: "cart", Color: "#F97316"},
	{Name: "Transport", Type: CategoryExpense, Icon: "car", Color: "#0EA5E9"},
	{Name: "Logement", Type: CategoryExpense, Icon: "home", Color: "#8B5CF6"},
	{Name: "Santé", Type: CategoryExpense, Icon: "heart", Color: "#EF4444"},
	{Name: "Éducation", Type: CategoryExpense, Icon: "book", Color: "#14B8A6"},
	{Name: "Loisirs", Type: CategoryExpense, Icon: "music", Color: "#EC4899"},
	{Name: "Factures", Type: CategoryExpense, Icon: "receipt", Color: "#64748B"},
	{Name: "Autres dépenses", Type: CategoryExpense, Icon: "tag", Color: DefaultCategoryColor},
	{Name: "Salaire", Type: CategoryIncome, Icon: "briefcase", Color: "#22C55E"},
	{Name: "Commerce", Type: CategoryIncome, Icon: "store", Color: "#84CC16"},
	{Name: "Cadeaux", Type: CategoryIncome, Icon: "gift", Color: "#EAB308"},
	{Name: "Autres revenus", Type: CategoryIncome, Icon: "tag", Color: "#10B981"},
}

// WelcomeCategoryName is the predefined income category used by the
// post-registration welcome transaction.
const WelcomeCategoryName = "Autres revenus"
