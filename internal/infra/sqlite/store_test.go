package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/notimo/notimo-api/internal/domain"
	"github.com/notimo/notimo-api/internal/infra/sqlite"
)

// --- Fixtures ---

func newTestDB(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "notimo.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func mustUser(t *testing.T, db *sqlite.DB, username string) string {
	t.Helper()
	u := &domain.User{Username: username, Email: username + "@example.com", PasswordHash: "x"}
	if err := sqlite.NewUserStore(db).CreateUser(context.Background(), u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u.ID
}

func mustCategory(t *testing.T, db *sqlite.DB, owner string, name string, typ domain.CategoryType) *domain.Category {
	t.Helper()
	c := &domain.Category{Name: name, Type: typ, Color: domain.DefaultCategoryColor, IsActive: true}
	if owner == "" {
		c.IsPredefined = true
	} else {
		c.OwnerID = &owner
	}
	if err := sqlite.NewCategoryStore(db).CreateCategory(context.Background(), c); err != nil {
		t.Fatalf("create category: %v", err)
	}
	return c
}

func lineItem(name, date, amount string) domain.LineItem {
	d, err := domain.ParseDate(date)
	if err != nil {
		panic(err)
	}
	return domain.LineItem{Name: name, Date: d, Amount: decimal.RequireFromString(amount)}
}

func mustTransaction(t *testing.T, db *sqlite.DB, userID string, cat *domain.Category, items ...domain.LineItem) *domain.Transaction {
	t.Helper()
	pos := domain.PositionExpense
	if cat.Type == domain.CategoryIncome {
		pos = domain.PositionIncome
	}
	tx := &domain.Transaction{
		UserID:     userID,
		Track:      domain.TrackActual,
		Position:   pos,
		CategoryID: cat.ID,
		Status:     domain.StatusValidated,
		Currency:   "XOF",
		LineItems:  items,
	}
	if err := sqlite.NewTransactionStore(db).CreateTransaction(context.Background(), tx); err != nil {
		t.Fatalf("create transaction: %v", err)
	}
	return tx
}

// --- Migrations ---

func TestOpen_ReopenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notimo.db")
	db, err := sqlite.Open(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	db.Close()

	db, err = sqlite.Open(path)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer db.Close()

	if err := db.Ping(context.Background()); err != nil {
		t.Errorf("ping: %v", err)
	}
}

// --- Categories ---

func TestCategoryStore_UniquePerOwner(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	store := sqlite.NewCategoryStore(db)
	alice := mustUser(t, db, "alice")
	bob := mustUser(t, db, "bob")

	mustCategory(t, db, "", "Alimentation", domain.CategoryExpense)
	mustCategory(t, db, alice, "Alimentation", domain.CategoryExpense)
	mustCategory(t, db, bob, "Alimentation", domain.CategoryExpense)
	mustCategory(t, db, alice, "Alimentation", domain.CategoryIncome)

	dup := &domain.Category{Name: "Alimentation", Type: domain.CategoryExpense, Color: "#000000", IsActive: true, OwnerID: &alice}
	err := store.CreateCategory(ctx, dup)
	var ve *domain.ErrValidation
	if !errors.As(err, &ve) || ve.Field != "nom" {
		t.Fatalf("expected validation error on nom, got %v", err)
	}

	predefDup := &domain.Category{Name: "Alimentation", Type: domain.CategoryExpense, Color: "#000000", IsActive: true, IsPredefined: true}
	if err := store.CreateCategory(ctx, predefDup); !errors.As(err, &ve) || ve.Field != "nom" {
		t.Fatalf("expected validation error on nom for duplicate predefined, got %v", err)
	}

	other := &domain.Category{Name: "Autre", Type: domain.CategoryExpense, Color: "#000000", IsActive: true, OwnerID: &alice}
	if err := store.CreateCategory(ctx, other); err != nil {
		t.Fatalf("create: %v", err)
	}
	other.Name = "Alimentation"
	if err := store.UpdateCategory(ctx, other); !errors.As(err, &ve) || ve.Field != "nom" {
		t.Fatalf("expected validation error on nom for rename onto a taken name, got %v", err)
	}
}

func TestCategoryStore_ListScopes(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	store := sqlite.NewCategoryStore(db)
	alice := mustUser(t, db, "alice")
	bob := mustUser(t, db, "bob")

	mustCategory(t, db, "", "Salaire", domain.CategoryIncome)
	mustCategory(t, db, alice, "Jardin", domain.CategoryExpense)
	mustCategory(t, db, bob, "Moto", domain.CategoryExpense)
	inactive := mustCategory(t, db, alice, "Ancien", domain.CategoryExpense)
	inactive.IsActive = false
	if err := store.UpdateCategory(ctx, inactive); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	tests := []struct {
		name   string
		filter domain.CategoryFilter
		want   []string
	}{
		{"visible", domain.CategoryFilter{Scope: domain.ScopeVisible}, []string{"Jardin", "Salaire"}},
		{"predefined", domain.CategoryFilter{Scope: domain.ScopePredefined}, []string{"Salaire"}},
		{"personal", domain.CategoryFilter{Scope: domain.ScopePersonal}, []string{"Jardin"}},
		{"inactive", domain.CategoryFilter{Active: ptr(false)}, []string{"Ancien"}},
		{"income only", domain.CategoryFilter{Type: ptr(domain.CategoryIncome)}, []string{"Salaire"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.ListCategories(ctx, alice, tt.filter)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("expected %d categories, got %d (%v)", len(tt.want), len(got), got)
			}
			for i, c := range got {
				if c.Name != tt.want[i] {
					t.Errorf("position %d: expected %q, got %q", i, tt.want[i], c.Name)
				}
			}
		})
	}
}

func TestCategoryStore_DeleteReferencedIsRejected(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	store := sqlite.NewCategoryStore(db)
	alice := mustUser(t, db, "alice")
	cat := mustCategory(t, db, alice, "Jardin", domain.CategoryExpense)
	mustTransaction(t, db, alice, cat, lineItem("Graines", "2024-03-01", "4.50"))

	err := store.DeleteCategory(ctx, cat.ID)
	var conflict *domain.ErrConflict
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ErrConflict from foreign key, got %v", err)
	}

	n, err := store.CountCategoryReferences(ctx, cat.ID)
	if err != nil || n != 1 {
		t.Errorf("expected 1 reference, got %d (%v)", n, err)
	}
}

func TestCategoryStore_SeedPredefinedIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	store := sqlite.NewCategoryStore(db)

	added, err := store.SeedPredefined(ctx, domain.PredefinedCatalogue)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if added != len(domain.PredefinedCatalogue) {
		t.Errorf("expected %d added, got %d", len(domain.PredefinedCatalogue), added)
	}

	added, err = store.SeedPredefined(ctx, domain.PredefinedCatalogue)
	if err != nil {
		t.Fatalf("reseed: %v", err)
	}
	if added != 0 {
		t.Errorf("expected reseed to add nothing, got %d", added)
	}

	c, err := store.FindPredefined(ctx, domain.WelcomeCategoryName, domain.CategoryIncome)
	if err != nil || c == nil {
		t.Fatalf("expected welcome category, got %v (%v)", c, err)
	}
}

// --- Transactions ---

func TestTransactionStore_CreateAndGet(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	store := sqlite.NewTransactionStore(db)
	alice := mustUser(t, db, "alice")
	cat := mustCategory(t, db, "", "Salaire", domain.CategoryIncome)

	created := mustTransaction(t, db, alice, cat,
		lineItem("Mars", "2024-03-01", "1500.00"),
		lineItem("Prime", "2024-03-15", "250.25"),
	)
	if created.Number != 1 {
		t.Errorf("expected number 1, got %d", created.Number)
	}

	got, err := store.GetTransaction(ctx, alice, created.ID)
	if err != nil || got == nil {
		t.Fatalf("get: %v (%v)", got, err)
	}
	if got.Username != "alice" {
		t.Errorf("expected username alice, got %q", got.Username)
	}
	if got.Category == nil || got.Category.Name != "Salaire" {
		t.Errorf("expected category Salaire, got %+v", got.Category)
	}
	if len(got.LineItems) != 2 || got.LineItems[0].Name != "Mars" {
		t.Fatalf("expected ordered line items, got %+v", got.LineItems)
	}
	if !got.Total().Equal(decimal.RequireFromString("1750.25")) {
		t.Errorf("expected total 1750.25, got %s", got.Total())
	}
}

func TestTransactionStore_ForeignTransactionIsInvisible(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	store := sqlite.NewTransactionStore(db)
	alice := mustUser(t, db, "alice")
	mallory := mustUser(t, db, "mallory")
	cat := mustCategory(t, db, "", "Salaire", domain.CategoryIncome)
	tx := mustTransaction(t, db, alice, cat, lineItem("Mars", "2024-03-01", "10.00"))

	got, err := store.GetTransaction(ctx, mallory, tx.ID)
	if err != nil || got != nil {
		t.Fatalf("expected (nil, nil), got %v, %v", got, err)
	}

	var notFound *domain.ErrNotFound
	if _, err := store.DeleteTransaction(ctx, mallory, tx.ID); !errors.As(err, &notFound) {
		t.Errorf("expected ErrNotFound on foreign delete, got %v", err)
	}

	foreign := *tx
	foreign.UserID = mallory
	if err := store.UpdateTransaction(ctx, &foreign, false); !errors.As(err, &notFound) {
		t.Errorf("expected ErrNotFound on foreign update, got %v", err)
	}
}

func TestTransactionStore_NumbersArePerUserAndUnique(t *testing.T) {
	db := newTestDB(t)
	store := sqlite.NewTransactionStore(db)
	alice := mustUser(t, db, "alice")
	bob := mustUser(t, db, "bob")
	cat := mustCategory(t, db, "", "Alimentation", domain.CategoryExpense)

	const n = 20
	var wg sync.WaitGroup
	numbers := make(chan int64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tx := &domain.Transaction{
				UserID: alice, Track: domain.TrackActual, Position: domain.PositionExpense,
				CategoryID: cat.ID, Status: domain.StatusValidated, Currency: "XOF",
				LineItems: []domain.LineItem{lineItem("Pain", "2024-03-01", "1.00")},
			}
			if err := store.CreateTransaction(context.Background(), tx); err != nil {
				t.Errorf("create transaction: %v", err)
				return
			}
			numbers <- tx.Number
		}()
	}
	wg.Wait()
	close(numbers)

	seen := make(map[int64]bool)
	for num := range numbers {
		if seen[num] {
			t.Fatalf("duplicate number %d", num)
		}
		seen[num] = true
	}
	for i := int64(1); i <= n; i++ {
		if !seen[i] {
			t.Errorf("missing number %d", i)
		}
	}

	first := mustTransaction(t, db, bob, cat, lineItem("Pain", "2024-03-01", "1.00"))
	if first.Number != 1 {
		t.Errorf("expected bob's first number to be 1, got %d", first.Number)
	}
}

func TestTransactionStore_ReplaceLineItems(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	store := sqlite.NewTransactionStore(db)
	alice := mustUser(t, db, "alice")
	cat := mustCategory(t, db, "", "Alimentation", domain.CategoryExpense)
	tx := mustTransaction(t, db, alice, cat,
		lineItem("Pain", "2024-03-01", "1.00"),
		lineItem("Lait", "2024-03-01", "2.00"),
		lineItem("Oeufs", "2024-03-01", "3.00"),
	)

	tx.LineItems = []domain.LineItem{lineItem("Marché", "2024-03-02", "12.40")}
	if err := store.UpdateTransaction(ctx, tx, true); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := store.GetTransaction(ctx, alice, tx.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.LineItems) != 1 {
		t.Fatalf("expected 1 line item after replace, got %d", len(got.LineItems))
	}
	if !got.Total().Equal(decimal.RequireFromString("12.40")) {
		t.Errorf("expected total 12.40, got %s", got.Total())
	}
}

func TestTransactionStore_ListFilters(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	store := sqlite.NewTransactionStore(db)
	alice := mustUser(t, db, "alice")
	bob := mustUser(t, db, "bob")
	food := mustCategory(t, db, "", "Alimentation", domain.CategoryExpense)
	salary := mustCategory(t, db, "", "Salaire", domain.CategoryIncome)

	march := mustTransaction(t, db, alice, food, lineItem("Boulangerie", "2024-03-05", "3.00"))
	april := mustTransaction(t, db, alice, food, lineItem("Marché", "2024-04-10", "20.00"))
	pay := mustTransaction(t, db, alice, salary, lineItem("Paie", "2024-03-31", "1500.00"))
	mustTransaction(t, db, bob, food, lineItem("Boulangerie", "2024-03-05", "9.00"))

	from, _ := domain.ParseDate("2024-03-01")
	to, _ := domain.ParseDate("2024-03-31")

	tests := []struct {
		name   string
		filter domain.TransactionFilter
		want   []string
	}{
		{"all newest first", domain.TransactionFilter{}, []string{pay.ID, april.ID, march.ID}},
		{"oldest first", domain.TransactionFilter{Ordering: domain.OrderCreatedAsc}, []string{march.ID, april.ID, pay.ID}},
		{"position", domain.TransactionFilter{Position: ptr(domain.PositionIncome)}, []string{pay.ID}},
		{"category", domain.TransactionFilter{CategoryID: food.ID}, []string{april.ID, march.ID}},
		{"search line item", domain.TransactionFilter{Search: "boulan"}, []string{march.ID}},
		{"search category", domain.TransactionFilter{Search: "salaire"}, []string{pay.ID}},
		{"date range by date", domain.TransactionFilter{DateFrom: &from, DateTo: &to}, []string{pay.ID, march.ID}},
		{"month", domain.TransactionFilter{Month: &domain.Month{Year: 2024, Month: time.April}}, []string{april.ID}},
		{"date ascending", domain.TransactionFilter{Ordering: domain.OrderDateAsc}, []string{march.ID, pay.ID, april.ID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, total, err := store.ListTransactions(ctx, alice, tt.filter)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if total != len(tt.want) {
				t.Errorf("expected total %d, got %d", len(tt.want), total)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("expected %d transactions, got %d", len(tt.want), len(got))
			}
			for i := range got {
				if got[i].ID != tt.want[i] {
					t.Errorf("position %d: expected %s, got %s", i, tt.want[i], got[i].ID)
				}
			}
		})
	}

	page, total, err := store.ListTransactions(ctx, alice, domain.TransactionFilter{Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("paged list: %v", err)
	}
	if total != 3 || len(page) != 1 || page[0].ID != march.ID {
		t.Errorf("expected last page with march only, got total=%d page=%d", total, len(page))
	}
}

func TestTransactionStore_DeleteCascadesAndReturnsPhotoRefs(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	store := sqlite.NewTransactionStore(db)
	alice := mustUser(t, db, "alice")
	cat := mustCategory(t, db, "", "Alimentation", domain.CategoryExpense)
	tx := mustTransaction(t, db, alice, cat, lineItem("Pain", "2024-03-01", "1.00"))

	photo := &domain.Photo{TransactionID: tx.ID, BlobRef: "receipts/a.jpg", Caption: "ticket"}
	if err := store.AddPhoto(ctx, alice, photo); err != nil {
		t.Fatalf("add photo: %v", err)
	}

	refs, err := store.DeleteTransaction(ctx, alice, tx.ID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(refs) != 1 || refs[0] != "receipts/a.jpg" {
		t.Errorf("expected photo ref returned, got %v", refs)
	}

	got, _, err := store.ListTransactions(ctx, alice, domain.TransactionFilter{})
	if err != nil || len(got) != 0 {
		t.Errorf("expected no transactions left, got %d (%v)", len(got), err)
	}

	// The category is free again once its only transaction is gone.
	if err := sqlite.NewCategoryStore(db).DeleteCategory(ctx, cat.ID); err != nil {
		t.Errorf("expected category delete to succeed, got %v", err)
	}
}

func TestTransactionStore_PhotoOwnership(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	store := sqlite.NewTransactionStore(db)
	alice := mustUser(t, db, "alice")
	mallory := mustUser(t, db, "mallory")
	cat := mustCategory(t, db, "", "Alimentation", domain.CategoryExpense)
	tx := mustTransaction(t, db, alice, cat, lineItem("Pain", "2024-03-01", "1.00"))

	var notFound *domain.ErrNotFound
	if err := store.AddPhoto(ctx, mallory, &domain.Photo{TransactionID: tx.ID, BlobRef: "x"}); !errors.As(err, &notFound) {
		t.Fatalf("expected ErrNotFound for foreign photo add, got %v", err)
	}

	photo := &domain.Photo{TransactionID: tx.ID, BlobRef: "receipts/b.jpg"}
	if err := store.AddPhoto(ctx, alice, photo); err != nil {
		t.Fatalf("add photo: %v", err)
	}
	if _, err := store.DeletePhoto(ctx, mallory, tx.ID, photo.ID); !errors.As(err, &notFound) {
		t.Errorf("expected ErrNotFound for foreign photo delete, got %v", err)
	}
	ref, err := store.DeletePhoto(ctx, alice, tx.ID, photo.ID)
	if err != nil || ref != "receipts/b.jpg" {
		t.Errorf("expected ref receipts/b.jpg, got %q (%v)", ref, err)
	}
}

func TestTransactionStore_UpdateStatuses(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	store := sqlite.NewTransactionStore(db)
	alice := mustUser(t, db, "alice")
	bob := mustUser(t, db, "bob")
	cat := mustCategory(t, db, "", "Alimentation", domain.CategoryExpense)

	a := mustTransaction(t, db, alice, cat, lineItem("Pain", "2024-03-01", "1.00"))
	b := mustTransaction(t, db, alice, cat, lineItem("Lait", "2024-03-01", "1.00"))
	foreign := mustTransaction(t, db, bob, cat, lineItem("Lait", "2024-03-01", "1.00"))

	allowed := func(from domain.Status) bool { return from.CanTransitionTo(domain.StatusCancelled) }
	n, err := store.UpdateStatuses(ctx, alice, []string{a.ID, b.ID, foreign.ID}, domain.StatusCancelled, allowed)
	if err != nil {
		t.Fatalf("update statuses: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 updated, got %d", n)
	}

	got, _ := store.GetTransaction(ctx, bob, foreign.ID)
	if got.Status != domain.StatusValidated {
		t.Errorf("foreign transaction must be untouched, got %s", got.Status)
	}
}

// --- Users ---

func TestUserStore_UsernameTaken(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	store := sqlite.NewUserStore(db)
	mustUser(t, db, "alice")

	err := store.CreateUser(ctx, &domain.User{Username: "alice", PasswordHash: "y"})
	var conflict *domain.ErrConflict
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestUserStore_RefreshTokens(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	store := sqlite.NewUserStore(db)
	alice := mustUser(t, db, "alice")

	if err := store.StoreRefreshToken(ctx, alice, "h1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := store.StoreRefreshToken(ctx, alice, "h2", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("store: %v", err)
	}

	tok, err := store.GetRefreshToken(ctx, "h1")
	if err != nil || tok == nil || tok.UserID != alice {
		t.Fatalf("expected token for alice, got %v (%v)", tok, err)
	}

	if err := store.RevokeRefreshToken(ctx, "h1"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if tok, _ := store.GetRefreshToken(ctx, "h1"); tok != nil {
		t.Error("expected revoked token to be gone")
	}

	if err := store.RevokeAllRefreshTokens(ctx, alice); err != nil {
		t.Fatalf("revoke all: %v", err)
	}
	if tok, _ := store.GetRefreshToken(ctx, "h2"); tok != nil {
		t.Error("expected all tokens revoked")
	}
}

func ptr[T any](v T) *T { return &v }
