package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/notimo/notimo-api/internal/domain"
	"github.com/notimo/notimo-api/internal/infra/observability"
	"github.com/notimo/notimo-api/internal/infra/resilience"
	"github.com/notimo/notimo-api/internal/port"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var txTracer = otel.Tracer("service/transaction")

// RecentLimit is the size of the "recent transactions" listing.
const RecentLimit = 10

// WelcomeLabel names the line item of the welcome transaction.
const WelcomeLabel = "Bienvenue sur Notimo"

// TransactionService owns transactions with their line items.
type TransactionService struct {
	store           port.TransactionStore
	categories      *CategoryService
	blobs           port.BlobStore
	retry           resilience.Config
	defaultCurrency string
	metrics         *observability.Metrics
	logger          *zap.Logger
	now             func() time.Time
}

// NewTransactionService creates a new transaction service. retry governs
// how often a per-user number collision is retried.
func NewTransactionService(
	store port.TransactionStore,
	categories *CategoryService,
	blobs port.BlobStore,
	retry resilience.Config,
	defaultCurrency string,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *TransactionService {
	return &TransactionService{
		store:           store,
		categories:      categories,
		blobs:           blobs,
		retry:           retry,
		defaultCurrency: defaultCurrency,
		metrics:         metrics,
		logger:          logger,
		now:             time.Now,
	}
}

// Detail renders the full projection of t with resolved photo URLs.
func (s *TransactionService) Detail(t *domain.Transaction) domain.TransactionDetail {
	return domain.NewTransactionDetail(t, s.blobs.URL)
}

// ============================================================
// Create — POST /v1/transactions
// ============================================================

func (s *TransactionService) Create(ctx context.Context, userID string, in *domain.TransactionInput) (*domain.Transaction, error) {
	ctx, span := txTracer.Start(ctx, "TransactionService.Create")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))
	start := time.Now()
	defer func() { s.metrics.RecordRequestDuration("transaction.create", time.Since(start)) }()

	in.Normalize(s.defaultCurrency)
	if err := in.ValidateHeader(); err != nil {
		return nil, err
	}
	cat, err := s.resolveCategory(ctx, userID, in.CategoryID, in.Position)
	if err != nil {
		return nil, err
	}
	if err := domain.ValidateLineItems(in.LineItems); err != nil {
		return nil, err
	}

	t := &domain.Transaction{
		UserID:     userID,
		Track:      in.Track,
		Position:   in.Position,
		CategoryID: cat.ID,
		Category:   cat,
		Status:     in.Status,
		Currency:   in.Currency,
		LineItems:  lineItemsFrom(in.LineItems),
	}
	if err := s.insert(ctx, t); err != nil {
		return nil, err
	}

	s.metrics.IncrTransactionWritten(t.Track, t.Position)
	s.logger.Info("transaction created",
		zap.String("user_id", userID),
		zap.String("transaction_id", t.ID),
		zap.Int64("numero", t.Number),
		zap.String("total", domain.FormatDecimal(t.Total())),
	)
	return s.reload(ctx, userID, t.ID)
}

// insert writes t, retrying when a concurrent write took the same number.
func (s *TransactionService) insert(ctx context.Context, t *domain.Transaction) error {
	err := resilience.RetryWithBackoff(ctx, s.retry, func() error {
		t.ID = ""
		err := s.store.CreateTransaction(ctx, t)
		if err == nil || errors.Is(err, port.ErrNumberTaken) {
			return err
		}
		return resilience.Permanent(err)
	})
	var nf *domain.ErrNotFound
	if errors.As(err, &nf) && nf.Resource == "category" {
		return categoryNotFound()
	}
	if err != nil {
		return fmt.Errorf("create transaction: %w", err)
	}
	return nil
}

// ============================================================
// Update — PUT/PATCH /v1/transactions/{id}
// ============================================================

// Replace rewrites every mutable field and the whole line-item collection.
func (s *TransactionService) Replace(ctx context.Context, userID, id string, in *domain.TransactionInput) (*domain.Transaction, error) {
	ctx, span := txTracer.Start(ctx, "TransactionService.Replace")
	defer span.End()
	span.SetAttributes(attribute.String("transaction.id", id))

	t, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	// An omitted statut or devise keeps the stored value.
	if in.Status == "" {
		in.Status = t.Status
	}
	if strings.TrimSpace(in.Currency) == "" {
		in.Currency = t.Currency
	}
	in.Normalize(s.defaultCurrency)
	if err := in.ValidateHeader(); err != nil {
		return nil, err
	}
	if !t.Status.CanTransitionTo(in.Status) {
		return nil, statusTransitionError(t.Status, in.Status)
	}
	cat, err := s.resolveCategory(ctx, userID, in.CategoryID, in.Position)
	if err != nil {
		return nil, err
	}
	if err := domain.ValidateLineItems(in.LineItems); err != nil {
		return nil, err
	}

	t.Track = in.Track
	t.Position = in.Position
	t.CategoryID = cat.ID
	t.Status = in.Status
	t.Currency = in.Currency
	t.LineItems = lineItemsFrom(in.LineItems)
	if err := s.store.UpdateTransaction(ctx, t, true); err != nil {
		return nil, s.mapWriteError(err)
	}

	s.logger.Info("transaction replaced", zap.String("user_id", userID), zap.String("transaction_id", id))
	return s.reload(ctx, userID, id)
}

// Patch updates the provided fields. Line items, when given, replace the
// stored collection wholesale.
func (s *TransactionService) Patch(ctx context.Context, userID, id string, p *domain.TransactionPatch) (*domain.Transaction, error) {
	ctx, span := txTracer.Start(ctx, "TransactionService.Patch")
	defer span.End()
	span.SetAttributes(attribute.String("transaction.id", id))

	t, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	if p.Track != nil {
		if !p.Track.Valid() {
			return nil, &domain.ErrValidation{Field: "volet", Message: "Doit valoir 'suivi' ou 'budget'."}
		}
		t.Track = *p.Track
	}
	if p.Position != nil {
		if !p.Position.Valid() {
			return nil, &domain.ErrValidation{Field: "position", Message: "Doit valoir 'expense' ou 'income'."}
		}
		t.Position = *p.Position
	}
	if p.Status != nil {
		if !p.Status.Valid() {
			return nil, &domain.ErrValidation{Field: "statut", Message: "Statut inconnu."}
		}
		if !t.Status.CanTransitionTo(*p.Status) {
			return nil, statusTransitionError(t.Status, *p.Status)
		}
		t.Status = *p.Status
	}
	if p.Currency != nil {
		code := strings.ToUpper(strings.TrimSpace(*p.Currency))
		if err := domain.ValidateCurrency(code); err != nil {
			return nil, err
		}
		t.Currency = code
	}

	switch {
	case p.CategoryID != nil:
		cat, err := s.resolveCategory(ctx, userID, strings.TrimSpace(*p.CategoryID), t.Position)
		if err != nil {
			return nil, err
		}
		t.CategoryID, t.Category = cat.ID, cat
	case p.Position != nil:
		if t.Category != nil && !t.Position.Matches(t.Category.Type) {
			return nil, categoryTypeMismatch(t.Position)
		}
	}

	replace := p.LineItems != nil
	if replace {
		if err := domain.ValidateLineItems(*p.LineItems); err != nil {
			return nil, err
		}
		t.LineItems = lineItemsFrom(*p.LineItems)
	}

	if err := s.store.UpdateTransaction(ctx, t, replace); err != nil {
		return nil, s.mapWriteError(err)
	}
	s.logger.Info("transaction patched",
		zap.String("user_id", userID),
		zap.String("transaction_id", id),
		zap.Bool("line_items_replaced", replace),
	)
	return s.reload(ctx, userID, id)
}

// ============================================================
// Delete — DELETE /v1/transactions/{id}
// ============================================================

func (s *TransactionService) Delete(ctx context.Context, userID, id string) error {
	ctx, span := txTracer.Start(ctx, "TransactionService.Delete")
	defer span.End()
	span.SetAttributes(attribute.String("transaction.id", id))

	refs, err := s.store.DeleteTransaction(ctx, userID, id)
	if err != nil {
		return err
	}
	s.metrics.IncrTransactionDeleted()

	// Rows are gone; orphaned blobs only cost storage.
	for _, ref := range refs {
		if err := s.blobs.Delete(ctx, ref); err != nil {
			s.metrics.IncrBlobError("delete")
			s.logger.Warn("photo blob not removed",
				zap.String("transaction_id", id),
				zap.String("blob_ref", ref),
				zap.Error(err),
			)
		}
	}
	s.logger.Info("transaction deleted",
		zap.String("user_id", userID),
		zap.String("transaction_id", id),
		zap.Int("photos", len(refs)),
	)
	return nil
}

// ============================================================
// Reads
// ============================================================

// Get returns the caller's transaction. Another user's transaction is
// reported as not found.
func (s *TransactionService) Get(ctx context.Context, userID, id string) (*domain.Transaction, error) {
	ctx, span := txTracer.Start(ctx, "TransactionService.Get")
	defer span.End()

	t, err := s.store.GetTransaction(ctx, userID, id)
	if err != nil {
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	if t == nil {
		return nil, &domain.ErrNotFound{Resource: "transaction", ID: id}
	}
	return t, nil
}

// List returns one page of the caller's transactions in summary projection.
func (s *TransactionService) List(ctx context.Context, userID string, filter domain.TransactionFilter, page, pageSize int) (*domain.TransactionPage, error) {
	ctx, span := txTracer.Start(ctx, "TransactionService.List")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID), attribute.Int("page", page))
	start := time.Now()
	defer func() { s.metrics.RecordRequestDuration("transaction.list", time.Since(start)) }()

	filter.Limit = pageSize
	filter.Offset = (page - 1) * pageSize
	txs, total, err := s.store.ListTransactions(ctx, userID, filter)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}

	return &domain.TransactionPage{
		Count:    total,
		Page:     page,
		PageSize: pageSize,
		Results:  summaries(txs),
	}, nil
}

// Recent returns the caller's latest transactions, newest first.
func (s *TransactionService) Recent(ctx context.Context, userID string) ([]domain.TransactionSummary, error) {
	ctx, span := txTracer.Start(ctx, "TransactionService.Recent")
	defer span.End()

	txs, _, err := s.store.ListTransactions(ctx, userID, domain.TransactionFilter{
		Ordering: domain.OrderCreatedDesc,
		Limit:    RecentLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("list recent transactions: %w", err)
	}
	return summaries(txs), nil
}

// ============================================================
// Bulk status — POST /v1/transactions/bulk-status
// ============================================================

// BulkStatus moves the caller's selected transactions to req.Status and
// returns how many changed. Foreign ids and disallowed transitions are skipped.
func (s *TransactionService) BulkStatus(ctx context.Context, userID string, req *domain.BulkStatusRequest) (int, error) {
	ctx, span := txTracer.Start(ctx, "TransactionService.BulkStatus")
	defer span.End()

	if req.Status != domain.StatusValidated && req.Status != domain.StatusCancelled {
		return 0, &domain.ErrValidation{Field: "statut", Message: "Doit valoir 'validated' ou 'cancelled'."}
	}
	ids := dedupe(req.IDs)
	if len(ids) == 0 {
		return 0, &domain.ErrValidation{Field: "ids", Message: "Au moins un identifiant est requis."}
	}
	span.SetAttributes(attribute.Int("ids", len(ids)), attribute.String("statut", string(req.Status)))

	next := req.Status
	updated, err := s.store.UpdateStatuses(ctx, userID, ids, next, func(current domain.Status) bool {
		return current.CanTransitionTo(next)
	})
	if err != nil {
		return 0, fmt.Errorf("update statuses: %w", err)
	}
	s.logger.Info("transaction statuses updated",
		zap.String("user_id", userID),
		zap.String("statut", string(next)),
		zap.Int("requested", len(ids)),
		zap.Int("updated", updated),
	)
	return updated, nil
}

// ============================================================
// Welcome — explicit post-registration step
// ============================================================

// Welcome records a pending zero-amount transaction for a new account, in
// the predefined welcome income category. It is skipped when that category
// is absent or inactive.
func (s *TransactionService) Welcome(ctx context.Context, userID string) error {
	ctx, span := txTracer.Start(ctx, "TransactionService.Welcome")
	defer span.End()

	cat, err := s.categories.store.FindPredefined(ctx, domain.WelcomeCategoryName, domain.CategoryIncome)
	if err != nil {
		return fmt.Errorf("find welcome category: %w", err)
	}
	if cat == nil || !cat.IsActive {
		s.logger.Debug("welcome transaction skipped: no category", zap.String("user_id", userID))
		return nil
	}

	today := domain.DateOf(s.now())
	t := &domain.Transaction{
		UserID:     userID,
		Track:      domain.TrackActual,
		Position:   domain.PositionIncome,
		CategoryID: cat.ID,
		Category:   cat,
		Status:     domain.StatusPending,
		Currency:   s.defaultCurrency,
		LineItems: []domain.LineItem{{
			Name:   WelcomeLabel,
			Date:   today,
			Amount: decimal.Zero,
		}},
	}
	if err := s.insert(ctx, t); err != nil {
		return err
	}
	s.logger.Info("welcome transaction created", zap.String("user_id", userID), zap.String("transaction_id", t.ID))
	return nil
}

// ============================================================
// Helpers
// ============================================================

func (s *TransactionService) resolveCategory(ctx context.Context, userID, categoryID string, position domain.Position) (*domain.Category, error) {
	if categoryID == "" {
		return nil, &domain.ErrValidation{Field: "categorie", Message: "Ce champ est obligatoire."}
	}
	cat, err := s.categories.ResolveForTransaction(ctx, userID, categoryID)
	if err != nil {
		var nf *domain.ErrNotFound
		if errors.As(err, &nf) {
			return nil, categoryNotFound()
		}
		return nil, err
	}
	if !position.Matches(cat.Type) {
		return nil, categoryTypeMismatch(position)
	}
	return cat, nil
}

func (s *TransactionService) reload(ctx context.Context, userID, id string) (*domain.Transaction, error) {
	t, err := s.store.GetTransaction(ctx, userID, id)
	if err != nil {
		return nil, fmt.Errorf("reload transaction: %w", err)
	}
	if t == nil {
		return nil, &domain.ErrNotFound{Resource: "transaction", ID: id}
	}
	return t, nil
}

// mapWriteError turns a category foreign-key failure into a field error.
func (s *TransactionService) mapWriteError(err error) error {
	var nf *domain.ErrNotFound
	if errors.As(err, &nf) && nf.Resource == "category" {
		return categoryNotFound()
	}
	return err
}

func categoryNotFound() error {
	return &domain.ErrValidation{Field: "categorie", Message: "Catégorie introuvable ou inactive."}
}

func categoryTypeMismatch(position domain.Position) error {
	return &domain.ErrValidation{
		Field:   "categorie",
		Message: fmt.Sprintf("La catégorie doit être de type '%s'.", domain.CategoryType(position).Display()),
	}
}

func statusTransitionError(from, to domain.Status) error {
	return &domain.ErrValidation{
		Field:   "statut",
		Message: fmt.Sprintf("Transition '%s' vers '%s' non autorisée.", from.Display(), to.Display()),
	}
}

func lineItemsFrom(in []domain.LineItemInput) []domain.LineItem {
	items := make([]domain.LineItem, 0, len(in))
	for _, li := range in {
		items = append(items, domain.LineItem{
			Name:    li.Name,
			Date:    *li.Date,
			Amount:  li.Amount.Round(2),
			Comment: li.Comment,
		})
	}
	return items
}

func summaries(txs []domain.Transaction) []domain.TransactionSummary {
	out := make([]domain.TransactionSummary, 0, len(txs))
	for i := range txs {
		out = append(out, domain.NewTransactionSummary(&txs[i]))
	}
	return out
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
