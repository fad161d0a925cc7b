package service_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/notimo/notimo-api/internal/domain"
	"github.com/notimo/notimo-api/internal/infra/observability"
	"github.com/notimo/notimo-api/internal/infra/resilience"
	"github.com/notimo/notimo-api/internal/infra/sqlite"
	"github.com/notimo/notimo-api/internal/port"
	"github.com/notimo/notimo-api/internal/service"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// --- Mocks ---

type mockBlobStore struct {
	mu           sync.Mutex
	objects      map[string][]byte
	contentTypes map[string]string
	deleted      []string
	putErr       error
}

func newMockBlobStore() *mockBlobStore {
	return &mockBlobStore{objects: map[string][]byte{}, contentTypes: map[string]string{}}
}

func (m *mockBlobStore) Put(_ context.Context, name, contentType string, r io.Reader) (string, error) {
	if m.putErr != nil {
		return "", m.putErr
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[name] = b
	m.contentTypes[name] = contentType
	return name, nil
}

func (m *mockBlobStore) Delete(_ context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, ref)
	m.deleted = append(m.deleted, ref)
	return nil
}

func (m *mockBlobStore) URL(ref string) string { return "https://blobs.test/" + ref }

func (m *mockBlobStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

// collidingStore reports a number collision for the first n creates.
type collidingStore struct {
	port.TransactionStore
	collisions int
	calls      int
}

func (s *collidingStore) CreateTransaction(ctx context.Context, t *domain.Transaction) error {
	s.calls++
	if s.calls <= s.collisions {
		return port.ErrNumberTaken
	}
	return s.TransactionStore.CreateTransaction(ctx, t)
}

// failingPhotoStore rejects every AddPhoto.
type failingPhotoStore struct {
	port.TransactionStore
}

func (s *failingPhotoStore) AddPhoto(context.Context, string, *domain.Photo) error {
	return errors.New("disk full")
}

// --- Fixtures ---

type env struct {
	db           *sqlite.DB
	users        *sqlite.UserStore
	txStore      *sqlite.TransactionStore
	blobs        *mockBlobStore
	categories   *service.CategoryService
	transactions *service.TransactionService
	stats        *service.StatisticsService
	metrics      *observability.Metrics
}

var testRetry = resilience.Config{MaxRetries: 3, InitialBackoff: time.Millisecond, MaxConcurrency: 2}

func newEnv(t *testing.T) *env {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "notimo.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	e := &env{
		db:      db,
		users:   sqlite.NewUserStore(db),
		txStore: sqlite.NewTransactionStore(db),
		blobs:   newMockBlobStore(),
		metrics: observability.NewMetrics(),
	}
	e.categories = service.NewCategoryService(sqlite.NewCategoryStore(db), zap.NewNop())
	e.transactions = service.NewTransactionService(e.txStore, e.categories, e.blobs, testRetry, "XOF", e.metrics, zap.NewNop())
	e.stats = service.NewStatisticsService(e.txStore, "XOF", e.metrics, zap.NewNop())
	return e
}

func (e *env) user(t *testing.T, name string) string {
	t.Helper()
	u := &domain.User{Username: name, PasswordHash: "x"}
	if err := e.users.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u.ID
}

func (e *env) category(t *testing.T, userID, name string, typ domain.CategoryType) string {
	t.Helper()
	v, err := e.categories.Create(context.Background(), userID, &domain.CategoryInput{Name: name, Type: typ})
	if err != nil {
		t.Fatalf("create category: %v", err)
	}
	return v.ID
}

func item(name, date, amount string) domain.LineItemInput {
	d, err := domain.ParseDate(date)
	if err != nil {
		panic(err)
	}
	a := decimal.RequireFromString(amount)
	return domain.LineItemInput{Name: name, Date: &d, Amount: &a}
}

func input(pos domain.Position, categoryID string, items ...domain.LineItemInput) *domain.TransactionInput {
	return &domain.TransactionInput{
		Track:      domain.TrackActual,
		Position:   pos,
		CategoryID: categoryID,
		LineItems:  items,
	}
}

func (e *env) create(t *testing.T, userID string, in *domain.TransactionInput) *domain.Transaction {
	t.Helper()
	tx, err := e.transactions.Create(context.Background(), userID, in)
	if err != nil {
		t.Fatalf("create transaction: %v", err)
	}
	return tx
}

func validationField(t *testing.T, err error) string {
	t.Helper()
	var ve *domain.ErrValidation
	if !errors.As(err, &ve) {
		t.Fatalf("expected ErrValidation, got %T: %v", err, err)
	}
	return ve.Field
}

func isNotFound(err error) bool {
	var nf *domain.ErrNotFound
	return errors.As(err, &nf)
}

var (
	jpegImage = []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00\x01")
	pngImage  = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	pdfDoc    = []byte("%PDF-1.4\n%fake")
	htmlPage  = []byte("<!DOCTYPE html><html><script>alert(1)</script></html>")
)

func photo(content []byte) *service.PhotoUpload {
	return &service.PhotoUpload{
		Filename: "receipt.JPG",
		Caption:  "  ticket  ",
		Body:     bytes.NewReader(content),
	}
}

func resilienceBulkhead() *resilience.Bulkhead {
	return resilience.NewBulkhead(testRetry.MaxConcurrency)
}
