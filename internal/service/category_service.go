// Package service provides the business logic layer (use cases).
// CategoryService is the registry of predefined and personal categories.
package service

import (
	"context"
	"fmt"

	"github.com/notimo/notimo-api/internal/domain"
	"github.com/notimo/notimo-api/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var categoryTracer = otel.Tracer("service/category")

// CategoryService owns category definitions and their lifecycle.
type CategoryService struct {
	store  port.CategoryStore
	logger *zap.Logger
}

// NewCategoryService creates a new category service.
func NewCategoryService(store port.CategoryStore, logger *zap.Logger) *CategoryService {
	return &CategoryService{store: store, logger: logger}
}

// ============================================================
// Listings — GET /v1/categories[/predefined|/personal]
// ============================================================

// List returns the categories selected by filter, each with the number of
// the caller's transactions that reference it.
func (s *CategoryService) List(ctx context.Context, userID string, filter domain.CategoryFilter) ([]domain.CategoryView, error) {
	ctx, span := categoryTracer.Start(ctx, "CategoryService.List")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID), attribute.Int("scope", int(filter.Scope)))

	cats, err := s.store.ListCategories(ctx, userID, filter)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	counts, err := s.store.CountTransactionsByCategory(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("count transactions: %w", err)
	}

	views := make([]domain.CategoryView, 0, len(cats))
	for _, c := range cats {
		views = append(views, newCategoryView(c, counts[c.ID]))
	}
	return views, nil
}

// ListVisible returns active categories that are predefined or owned by userID.
func (s *CategoryService) ListVisible(ctx context.Context, userID string) ([]domain.CategoryView, error) {
	return s.List(ctx, userID, domain.CategoryFilter{Scope: domain.ScopeVisible})
}

// ListPredefined returns active predefined categories.
func (s *CategoryService) ListPredefined(ctx context.Context, userID string) ([]domain.CategoryView, error) {
	return s.List(ctx, userID, domain.CategoryFilter{Scope: domain.ScopePredefined})
}

// ListPersonal returns active categories owned by userID.
func (s *CategoryService) ListPersonal(ctx context.Context, userID string) ([]domain.CategoryView, error) {
	return s.List(ctx, userID, domain.CategoryFilter{Scope: domain.ScopePersonal})
}

// Get returns a category visible to userID.
func (s *CategoryService) Get(ctx context.Context, userID, id string) (*domain.CategoryView, error) {
	ctx, span := categoryTracer.Start(ctx, "CategoryService.Get")
	defer span.End()

	c, err := s.visible(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	counts, err := s.store.CountTransactionsByCategory(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("count transactions: %w", err)
	}
	v := newCategoryView(*c, counts[c.ID])
	return &v, nil
}

// ============================================================
// Create — POST /v1/categories
// ============================================================

func (s *CategoryService) Create(ctx context.Context, userID string, in *domain.CategoryInput) (*domain.CategoryView, error) {
	ctx, span := categoryTracer.Start(ctx, "CategoryService.Create")
	defer span.End()

	in.Normalize()
	if err := in.Validate(); err != nil {
		return nil, err
	}

	owner := userID
	c := &domain.Category{
		Name:     in.Name,
		Type:     in.Type,
		Icon:     in.Icon,
		Color:    in.Color,
		IsActive: true,
		OwnerID:  &owner,
	}
	if in.Order != nil {
		c.Order = *in.Order
	}
	if err := s.store.CreateCategory(ctx, c); err != nil {
		return nil, err
	}

	s.logger.Info("category created",
		zap.String("user_id", userID),
		zap.String("category_id", c.ID),
		zap.String("type", string(c.Type)),
	)
	v := newCategoryView(*c, 0)
	return &v, nil
}

// ============================================================
// Update — PUT/PATCH /v1/categories/{id}
// ============================================================

// Replace applies a full update. The type cannot change.
func (s *CategoryService) Replace(ctx context.Context, userID, id string, in *domain.CategoryInput) (*domain.CategoryView, error) {
	in.Normalize()
	if err := in.Validate(); err != nil {
		return nil, err
	}
	order := 0
	if in.Order != nil {
		order = *in.Order
	}
	return s.update(ctx, userID, id, &domain.CategoryPatch{
		Name:  &in.Name,
		Icon:  &in.Icon,
		Color: &in.Color,
		Order: &order,
	}, &in.Type)
}

// Patch updates the provided fields of a personal category.
func (s *CategoryService) Patch(ctx context.Context, userID, id string, patch *domain.CategoryPatch) (*domain.CategoryView, error) {
	return s.update(ctx, userID, id, patch, nil)
}

func (s *CategoryService) update(ctx context.Context, userID, id string, patch *domain.CategoryPatch, typ *domain.CategoryType) (*domain.CategoryView, error) {
	ctx, span := categoryTracer.Start(ctx, "CategoryService.Update")
	defer span.End()

	c, err := s.visible(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if c.IsPredefined {
		return nil, &domain.ErrForbidden{Action: "Les catégories prédéfinies ne peuvent pas être modifiées."}
	}
	if typ != nil && *typ != c.Type {
		return nil, &domain.ErrValidation{Field: "type_categorie", Message: "Le type d'une catégorie ne peut pas être modifié."}
	}
	if err := patch.Apply(c); err != nil {
		return nil, err
	}
	if err := s.store.UpdateCategory(ctx, c); err != nil {
		return nil, err
	}

	counts, err := s.store.CountTransactionsByCategory(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("count transactions: %w", err)
	}
	s.logger.Info("category updated", zap.String("user_id", userID), zap.String("category_id", c.ID))
	v := newCategoryView(*c, counts[c.ID])
	return &v, nil
}

// UpdateAsSystem applies patch to any category, predefined ones included.
// It backs the operator CLI and is never reachable from the HTTP API.
func (s *CategoryService) UpdateAsSystem(ctx context.Context, id string, patch *domain.CategoryPatch) (*domain.Category, error) {
	ctx, span := categoryTracer.Start(ctx, "CategoryService.UpdateAsSystem")
	defer span.End()

	c, err := s.store.GetCategory(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get category: %w", err)
	}
	if c == nil {
		return nil, &domain.ErrNotFound{Resource: "category", ID: id}
	}
	if err := patch.Apply(c); err != nil {
		return nil, err
	}
	if err := s.store.UpdateCategory(ctx, c); err != nil {
		return nil, err
	}
	s.logger.Info("category updated by operator", zap.String("category_id", c.ID))
	return c, nil
}

// ============================================================
// Delete — DELETE /v1/categories/{id}
// ============================================================

func (s *CategoryService) Delete(ctx context.Context, userID, id string) error {
	ctx, span := categoryTracer.Start(ctx, "CategoryService.Delete")
	defer span.End()

	c, err := s.visible(ctx, userID, id)
	if err != nil {
		return err
	}
	if c.IsPredefined {
		return &domain.ErrForbidden{Action: "Les catégories prédéfinies ne peuvent pas être supprimées."}
	}

	refs, err := s.store.CountCategoryReferences(ctx, id)
	if err != nil {
		return fmt.Errorf("count references: %w", err)
	}
	if refs > 0 {
		return &domain.ErrConflict{Message: fmt.Sprintf(
			"Impossible de supprimer cette catégorie : %d transaction(s) l'utilisent. Désactivez-la plutôt.", refs)}
	}

	// The foreign key still rejects a reference committed after the count.
	if err := s.store.DeleteCategory(ctx, id); err != nil {
		return err
	}
	s.logger.Info("category deleted", zap.String("user_id", userID), zap.String("category_id", id))
	return nil
}

// ============================================================
// Transaction gate
// ============================================================

// ResolveForTransaction returns the category when it is active and either
// predefined or owned by userID. Anything else is reported as not found.
func (s *CategoryService) ResolveForTransaction(ctx context.Context, userID, id string) (*domain.Category, error) {
	c, err := s.store.GetCategory(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get category: %w", err)
	}
	if c == nil || !c.IsActive || !c.VisibleTo(userID) {
		return nil, &domain.ErrNotFound{Resource: "category", ID: id}
	}
	return c, nil
}

// Seed inserts the missing predefined categories.
func (s *CategoryService) Seed(ctx context.Context) (int, error) {
	ctx, span := categoryTracer.Start(ctx, "CategoryService.Seed")
	defer span.End()

	added, err := s.store.SeedPredefined(ctx, domain.PredefinedCatalogue)
	if err != nil {
		return 0, fmt.Errorf("seed predefined categories: %w", err)
	}
	if added > 0 {
		s.logger.Info("predefined categories seeded", zap.Int("added", added))
	}
	return added, nil
}

func (s *CategoryService) visible(ctx context.Context, userID, id string) (*domain.Category, error) {
	c, err := s.store.GetCategory(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get category: %w", err)
	}
	if c == nil || !c.VisibleTo(userID) {
		return nil, &domain.ErrNotFound{Resource: "category", ID: id}
	}
	return c, nil
}

func newCategoryView(c domain.Category, count int) domain.CategoryView {
	return domain.CategoryView{
		Category:         c,
		TypeDisplay:      c.Type.Display(),
		TransactionCount: count,
	}
}
