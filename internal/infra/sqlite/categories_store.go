package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/notimo/notimo-api/internal/domain"
)

// CategoryStore implements port.CategoryStore.
type CategoryStore struct {
	db *DB
}

// NewCategoryStore returns a category store over db.
func NewCategoryStore(db *DB) *CategoryStore {
	return &CategoryStore{db: db}
}

const categoryColumns = `id, nom, type_categorie, icone, couleur, est_predefinie, est_active, creee_par, ordre, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCategory(row rowScanner) (*domain.Category, error) {
	var (
		c                  domain.Category
		typ                string
		predefined, active int
		owner              sql.NullString
		created, updated   string
	)
	if err := row.Scan(&c.ID, &c.Name, &typ, &c.Icon, &c.Color, &predefined, &active, &owner, &c.Order, &created, &updated); err != nil {
		return nil, err
	}
	c.Type = domain.CategoryType(typ)
	c.IsPredefined = predefined == 1
	c.IsActive = active == 1
	if owner.Valid {
		o := owner.String
		c.OwnerID = &o
	}
	c.CreatedAt = parseTime(created)
	c.UpdatedAt = parseTime(updated)
	return &c, nil
}

// ListCategories returns the categories in filter.Scope for userID, ordered
// by display order then name.
func (s *CategoryStore) ListCategories(ctx context.Context, userID string, filter domain.CategoryFilter) ([]domain.Category, error) {
	ctx, span := tracer.Start(ctx, "CategoryStore.ListCategories")
	defer span.End()

	var (
		where []string
		args  []any
	)
	switch filter.Scope {
	case domain.ScopePredefined:
		where = append(where, "est_predefinie = 1")
	case domain.ScopePersonal:
		where = append(where, "creee_par = ?")
		args = append(args, userID)
	default:
		where = append(where, "(est_predefinie = 1 OR creee_par = ?)")
		args = append(args, userID)
	}
	where = append(where, "est_active = ?")
	args = append(args, boolInt(filter.WantActive()))
	if filter.Type != nil {
		where = append(where, "type_categorie = ?")
		args = append(args, string(*filter.Type))
	}

	query := `SELECT ` + categoryColumns + ` FROM categories WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY ordre, nom`

	rows, err := s.db.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer rows.Close()

	out := []domain.Category{}
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// GetCategory returns the category or (nil, nil) when absent.
func (s *CategoryStore) GetCategory(ctx context.Context, id string) (*domain.Category, error) {
	row := s.db.sql.QueryRowContext(ctx, `SELECT `+categoryColumns+` FROM categories WHERE id = ?`, id)
	c, err := scanCategory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get category: %w", err)
	}
	return c, nil
}

// FindPredefined returns the predefined category with that name and type.
func (s *CategoryStore) FindPredefined(ctx context.Context, name string, typ domain.CategoryType) (*domain.Category, error) {
	row := s.db.sql.QueryRowContext(ctx,
		`SELECT `+categoryColumns+` FROM categories WHERE est_predefinie = 1 AND nom = ? AND type_categorie = ?`,
		name, string(typ))
	c, err := scanCategory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find predefined category: %w", err)
	}
	return c, nil
}

// CreateCategory inserts c, filling ID and timestamps when empty.
func (s *CategoryStore) CreateCategory(ctx context.Context, c *domain.Category) error {
	ctx, span := tracer.Start(ctx, "CategoryStore.CreateCategory")
	defer span.End()

	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := s.db.now()
	c.CreatedAt, c.UpdatedAt = now, now

	_, err := s.db.sql.ExecContext(ctx,
		`INSERT INTO categories (`+categoryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, string(c.Type), c.Icon, c.Color, boolInt(c.IsPredefined), boolInt(c.IsActive),
		ownerArg(c.OwnerID), c.Order, formatTime(now), formatTime(now))
	if err != nil {
		if classify(err) == uniqueConstraint {
			return &domain.ErrValidation{Field: "nom", Message: duplicateCategoryMessage(c)}
		}
		return fmt.Errorf("insert category: %w", err)
	}
	return nil
}

// UpdateCategory writes the mutable columns of c.
func (s *CategoryStore) UpdateCategory(ctx context.Context, c *domain.Category) error {
	ctx, span := tracer.Start(ctx, "CategoryStore.UpdateCategory")
	defer span.End()

	c.UpdatedAt = s.db.now()
	res, err := s.db.sql.ExecContext(ctx,
		`UPDATE categories SET nom = ?, icone = ?, couleur = ?, ordre = ?, est_active = ?, updated_at = ? WHERE id = ?`,
		c.Name, c.Icon, c.Color, c.Order, boolInt(c.IsActive), formatTime(c.UpdatedAt), c.ID)
	if err != nil {
		if classify(err) == uniqueConstraint {
			return &domain.ErrValidation{Field: "nom", Message: duplicateCategoryMessage(c)}
		}
		return fmt.Errorf("update category: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &domain.ErrNotFound{Resource: "category", ID: c.ID}
	}
	return nil
}

// DeleteCategory hard-deletes the category. The foreign key on
// transactions.categorie_id rejects the delete of a referenced category.
func (s *CategoryStore) DeleteCategory(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "CategoryStore.DeleteCategory")
	defer span.End()

	res, err := s.db.sql.ExecContext(ctx, `DELETE FROM categories WHERE id = ?`, id)
	if err != nil {
		if classify(err) == foreignKeyConstraint {
			return &domain.ErrConflict{Message: "Impossible de supprimer une catégorie utilisée par des transactions."}
		}
		return fmt.Errorf("delete category: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &domain.ErrNotFound{Resource: "category", ID: id}
	}
	return nil
}

// CountCategoryReferences counts the transactions of every user that
// reference the category.
func (s *CategoryStore) CountCategoryReferences(ctx context.Context, id string) (int, error) {
	var n int
	if err := s.db.sql.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions WHERE categorie_id = ?`, id).Scan(&n); err != nil {
		return 0, fmt.Errorf("count category references: %w", err)
	}
	return n, nil
}

// CountTransactionsByCategory counts userID's transactions per category.
func (s *CategoryStore) CountTransactionsByCategory(ctx context.Context, userID string) (map[string]int, error) {
	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT categorie_id, COUNT(*) FROM transactions WHERE user_id = ? GROUP BY categorie_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("count transactions by category: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			id string
			n  int
		)
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[id] = n
	}
	return counts, rows.Err()
}

// SeedPredefined inserts the catalogue entries that do not exist yet.
// Existing predefined rows are left untouched so operator edits survive.
func (s *CategoryStore) SeedPredefined(ctx context.Context, catalogue []domain.PredefinedCategory) (int, error) {
	ctx, span := tracer.Start(ctx, "CategoryStore.SeedPredefined")
	defer span.End()

	added := 0
	err := s.db.inTx(ctx, func(tx *sql.Tx) error {
		now := formatTime(s.db.now())
		for i, p := range catalogue {
			res, err := tx.ExecContext(ctx,
				`INSERT INTO categories (`+categoryColumns+`)
				 SELECT ?, ?, ?, ?, ?, 1, 1, NULL, ?, ?, ?
				 WHERE NOT EXISTS (
				     SELECT 1 FROM categories WHERE est_predefinie = 1 AND nom = ? AND type_categorie = ?
				 )`,
				uuid.NewString(), p.Name, string(p.Type), p.Icon, p.Color, i, now, now,
				p.Name, string(p.Type))
			if err != nil {
				return fmt.Errorf("seed category %q: %w", p.Name, err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				added++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return added, nil
}

func ownerArg(owner *string) any {
	if owner == nil {
		return nil
	}
	return *owner
}

func duplicateCategoryMessage(c *domain.Category) string {
	return fmt.Sprintf("Une catégorie '%s' de type '%s' existe déjà.", c.Name, c.Type.Display())
}
