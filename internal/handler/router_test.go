package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/notimo/notimo-api/internal/domain"
	"github.com/notimo/notimo-api/internal/handler"
	"github.com/notimo/notimo-api/internal/infra/blob"
	"github.com/notimo/notimo-api/internal/infra/cache"
	"github.com/notimo/notimo-api/internal/infra/observability"
	"github.com/notimo/notimo-api/internal/infra/resilience"
	"github.com/notimo/notimo-api/internal/infra/sqlite"
	"github.com/notimo/notimo-api/internal/service"

	"go.uber.org/zap"
)

type testServer struct {
	handler   http.Handler
	mediaRoot string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()

	db, err := sqlite.Open(filepath.Join(dir, "notimo.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	mediaRoot := filepath.Join(dir, "media")
	blobs, err := blob.NewLocalStore(mediaRoot, "http://localhost/media")
	if err != nil {
		t.Fatalf("local store: %v", err)
	}

	attempts := cache.New[int](time.Minute)
	t.Cleanup(attempts.Close)

	logger := zap.NewNop()
	metrics := observability.NewMetrics()
	retry := resilience.Config{MaxRetries: 3, InitialBackoff: time.Millisecond, MaxConcurrency: 2}

	txStore := sqlite.NewTransactionStore(db)
	categories := service.NewCategoryService(sqlite.NewCategoryStore(db), logger)
	if _, err := categories.Seed(context.Background()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	transactions := service.NewTransactionService(txStore, categories, blobs, retry, "XOF", metrics, logger)
	stats := service.NewStatisticsService(txStore, "XOF", metrics, logger)

	svcs := handler.Services{
		Auth: service.NewAuthService(sqlite.NewUserStore(db), attempts, transactions, service.AuthOptions{
			JWTSecret:        "test-secret",
			AccessTTL:        time.Hour,
			RefreshTTL:       24 * time.Hour,
			MaxLoginAttempts: 3,
		}, metrics, logger),
		Categories:   categories,
		Transactions: transactions,
		Statistics:   stats,
		Dashboard:    service.NewDashboardService(stats, transactions),
		Photos:       service.NewPhotoService(txStore, blobs, resilience.NewBulkhead(2), metrics, logger),
	}
	cfg := handler.RouterConfig{
		CORSAllowedOrigins: []string{"*"},
		MaxUploadBytes:     1 << 20,
		MediaRoot:          mediaRoot,
		DB:                 db,
	}
	return &testServer{handler: handler.NewRouter(svcs, cfg, metrics, logger), mediaRoot: mediaRoot}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

// login registers username and returns an access token.
func (s *testServer) login(t *testing.T, username string) string {
	t.Helper()
	creds := map[string]string{"username": username, "password": "s3cret!"}
	if rec := s.do(t, http.MethodPost, "/v1/auth/register", "", creds); rec.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	rec := s.do(t, http.MethodPost, "/v1/auth/login", "", creds)
	if rec.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp domain.LoginResponse
	decode(t, rec, &resp)
	if resp.AccessToken == "" || resp.RefreshToken == "" {
		t.Fatalf("expected tokens, got %+v", resp)
	}
	return resp.AccessToken
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rec.Body.String())
	}
}

func (s *testServer) createCategory(t *testing.T, token, name string, typ domain.CategoryType) string {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/v1/categories", token, map[string]any{"nom": name, "type_categorie": typ})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create category: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var v domain.CategoryView
	decode(t, rec, &v)
	return v.ID
}

func transactionBody(track, position, categoryID, status string, amounts ...string) map[string]any {
	items := make([]map[string]any, 0, len(amounts))
	for _, a := range amounts {
		items = append(items, map[string]any{"nom": "ligne", "date": "2024-03-10", "montant": a})
	}
	return map[string]any{
		"volet":     track,
		"position":  position,
		"categorie": categoryID,
		"statut":    status,
		"libelles":  items,
	}
}

func (s *testServer) createTransaction(t *testing.T, token string, body map[string]any) domain.TransactionDetail {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/v1/transactions", token, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create transaction: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var d domain.TransactionDetail
	decode(t, rec, &d)
	return d
}

// --- Operational endpoints ---

func TestHealthz(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var h domain.HealthStatus
	decode(t, rec, &h)
	if h.Status != "healthy" || len(h.Services) != 2 {
		t.Errorf("unexpected health %+v", h)
	}
}

func TestReadyzAndPing(t *testing.T) {
	s := newTestServer(t)

	for _, path := range []string{"/readyz", "/ping"} {
		if rec := s.do(t, http.MethodGet, path, "", nil); rec.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, rec.Code)
		}
	}
}

func TestMetrics(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "metrics")
	s.do(t, http.MethodGet, "/v1/transactions/statistics", token, nil)

	rec := s.do(t, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "notimo_") {
		t.Errorf("expected notimo metrics in exposition")
	}

	rec = s.do(t, http.MethodGet, "/v1/metrics/app", "", nil)
	var m domain.AppMetrics
	decode(t, rec, &m)
	if m.StatisticsComputed < 1 {
		t.Errorf("expected statistics counted, got %+v", m)
	}
}

// --- Auth ---

func TestProtectedRoutesRequireToken(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/v1/transactions", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", rec.Code)
	}
	rec = s.do(t, http.MethodGet, "/v1/categories", "not-a-jwt", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with garbage token, got %d", rec.Code)
	}
}

func TestRegister_DuplicateAndMissingFields(t *testing.T) {
	s := newTestServer(t)
	s.login(t, "alice")

	rec := s.do(t, http.MethodPost, "/v1/auth/register", "", map[string]string{"username": "alice", "password": "x"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for duplicate username, got %d", rec.Code)
	}

	rec = s.do(t, http.MethodPost, "/v1/auth/register", "", map[string]string{"username": "bob"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing password, got %d", rec.Code)
	}
	var e struct{ Field string }
	decode(t, rec, &e)
	if e.Field != "password" {
		t.Errorf("expected field password, got %q", e.Field)
	}
}

func TestMe(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "carol")

	rec := s.do(t, http.MethodGet, "/v1/auth/me", token, nil)
	var me map[string]string
	decode(t, rec, &me)
	if me["username"] != "carol" || me["id"] == "" {
		t.Errorf("unexpected principal %v", me)
	}
}

// --- Categories ---

func TestCategories(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "dave")

	rec := s.do(t, http.MethodGet, "/v1/categories/predefined", token, nil)
	var predefined []domain.CategoryView
	decode(t, rec, &predefined)
	if len(predefined) != len(domain.PredefinedCatalogue) {
		t.Fatalf("expected %d predefined, got %d", len(domain.PredefinedCatalogue), len(predefined))
	}

	own := s.createCategory(t, token, "Freelance", domain.CategoryIncome)

	rec = s.do(t, http.MethodPost, "/v1/categories", token, map[string]any{"nom": "Freelance", "type_categorie": domain.CategoryIncome})
	var dup struct{ Error, Field string }
	decode(t, rec, &dup)
	if rec.Code != http.StatusBadRequest || dup.Field != "nom" {
		t.Errorf("expected 400 on nom for a duplicate category, got %d %q", rec.Code, dup.Field)
	}

	rec = s.do(t, http.MethodGet, "/v1/categories/personal", token, nil)
	var personal []domain.CategoryView
	decode(t, rec, &personal)
	if len(personal) != 1 || personal[0].ID != own {
		t.Fatalf("expected the one personal category, got %+v", personal)
	}

	rec = s.do(t, http.MethodGet, "/v1/categories?type=income", token, nil)
	var income []domain.CategoryView
	decode(t, rec, &income)
	for _, c := range income {
		if c.Type != domain.CategoryIncome {
			t.Errorf("type filter leaked %q", c.Type)
		}
	}

	rec = s.do(t, http.MethodDelete, "/v1/categories/"+predefined[0].ID, token, nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 deleting a predefined category, got %d", rec.Code)
	}

	rec = s.do(t, http.MethodPatch, "/v1/categories/"+own, token, map[string]any{"couleur": "#000000"})
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 patching own category, got %d: %s", rec.Code, rec.Body.String())
	}

	other := s.login(t, "eve")
	rec = s.do(t, http.MethodGet, "/v1/categories/"+own, other, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for a foreign category, got %d", rec.Code)
	}

	s.createTransaction(t, token, transactionBody("suivi", "income", own, "validated", "10.00"))
	rec = s.do(t, http.MethodDelete, "/v1/categories/"+own, token, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 deleting a referenced category, got %d", rec.Code)
	}
}

// --- Transactions ---

func TestTransactionLifecycle(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "frank")
	food := s.createCategory(t, token, "Courses", domain.CategoryExpense)
	salary := s.createCategory(t, token, "Paie", domain.CategoryIncome)

	d := s.createTransaction(t, token, transactionBody("suivi", "expense", food, "validated", "1500.00", "500.50"))
	if d.Total != "2000.50" || d.TotalFormatted != "2 000" {
		t.Errorf("unexpected totals %q / %q", d.Total, d.TotalFormatted)
	}
	s.createTransaction(t, token, transactionBody("suivi", "income", salary, "validated", "5000.00"))
	s.createTransaction(t, token, transactionBody("budget", "expense", food, "validated", "1000.00"))

	rec := s.do(t, http.MethodGet, "/v1/transactions/statistics?volet=suivi", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("statistics: expected 200, got %d", rec.Code)
	}
	var stats map[string]any
	decode(t, rec, &stats)
	if stats["total_revenus"] != "5000.00" || stats["total_depenses"] != "2000.50" || stats["solde"] != "2999.50" {
		t.Errorf("unexpected statistics %v", stats)
	}

	rec = s.do(t, http.MethodGet, "/v1/transactions?volet=budget", token, nil)
	var page domain.TransactionPage
	decode(t, rec, &page)
	if page.Count != 1 || len(page.Results) != 1 {
		t.Errorf("expected 1 budget transaction, got %+v", page)
	}

	rec = s.do(t, http.MethodGet, "/v1/transactions/recent", token, nil)
	var recent []domain.TransactionSummary
	decode(t, rec, &recent)
	// The welcome transaction is listed as well.
	if len(recent) != 4 {
		t.Errorf("expected 4 recent transactions, got %d", len(recent))
	}

	rec = s.do(t, http.MethodGet, "/v1/transactions/dashboard", token, nil)
	var dash map[string]any
	decode(t, rec, &dash)
	if dash["ecart_solde"] != "3999.50" {
		t.Errorf("expected gap 3999.50, got %v", dash["ecart_solde"])
	}

	rec = s.do(t, http.MethodGet, "/v1/transactions/solde", token, nil)
	var bal domain.Balance
	decode(t, rec, &bal)
	if bal.Balance != "1999.50" || bal.Currency != "XOF" {
		t.Errorf("unexpected balance %+v", bal)
	}

	rec = s.do(t, http.MethodPatch, "/v1/transactions/"+d.ID, token, map[string]any{"statut": "cancelled"})
	if rec.Code != http.StatusOK {
		t.Fatalf("patch: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = s.do(t, http.MethodPatch, "/v1/transactions/"+d.ID, token, map[string]any{"statut": "pending"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 moving back to pending, got %d", rec.Code)
	}

	rec = s.do(t, http.MethodDelete, "/v1/transactions/"+d.ID, token, nil)
	if rec.Code != http.StatusNoContent {
		t.Errorf("delete: expected 204, got %d", rec.Code)
	}
	rec = s.do(t, http.MethodGet, "/v1/transactions/"+d.ID, token, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestCreateTransaction_ValidationField(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "grace")
	salary := s.createCategory(t, token, "Paie", domain.CategoryIncome)

	rec := s.do(t, http.MethodPost, "/v1/transactions", token, transactionBody("suivi", "expense", salary, "", "10.00"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var e struct{ Error, Field string }
	decode(t, rec, &e)
	if e.Field != "categorie" {
		t.Errorf("expected field categorie, got %q (%s)", e.Field, e.Error)
	}

	rec = s.do(t, http.MethodPost, "/v1/transactions", token, transactionBody("suivi", "income", salary, ""))
	decode(t, rec, &e)
	if rec.Code != http.StatusBadRequest || e.Field != "libelles" {
		t.Errorf("expected 400 on libelles, got %d %q", rec.Code, e.Field)
	}

	body := transactionBody("suivi", "income", salary, "", "10.00", "5.00")
	body["libelles"].([]map[string]any)[1]["date"] = "31/12/2024"
	rec = s.do(t, http.MethodPost, "/v1/transactions", token, body)
	decode(t, rec, &e)
	if rec.Code != http.StatusBadRequest || e.Field != "libelles[1].date" {
		t.Errorf("expected 400 on libelles[1].date, got %d %q", rec.Code, e.Field)
	}
}

func TestTransactions_ForeignIsNotFound(t *testing.T) {
	s := newTestServer(t)
	owner := s.login(t, "heidi")
	cat := s.createCategory(t, owner, "Courses", domain.CategoryExpense)
	d := s.createTransaction(t, owner, transactionBody("suivi", "expense", cat, "pending", "3.00"))

	intruder := s.login(t, "ivan")
	for _, method := range []string{http.MethodGet, http.MethodDelete} {
		if rec := s.do(t, method, "/v1/transactions/"+d.ID, intruder, nil); rec.Code != http.StatusNotFound {
			t.Errorf("%s foreign transaction: expected 404, got %d", method, rec.Code)
		}
	}

	rec := s.do(t, http.MethodPost, "/v1/transactions/bulk-status", intruder, map[string]any{"ids": []string{d.ID}, "statut": "validated"})
	var resp struct{ Updated int }
	decode(t, rec, &resp)
	if resp.Updated != 0 {
		t.Errorf("bulk status touched a foreign transaction")
	}

	rec = s.do(t, http.MethodPost, "/v1/transactions/bulk-status", owner, map[string]any{"ids": []string{d.ID}, "statut": "validated"})
	decode(t, rec, &resp)
	if resp.Updated != 1 {
		t.Errorf("expected 1 updated, got %d", resp.Updated)
	}
}

// --- Photos ---

func multipartBody(t *testing.T, filename, partType string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, filename))
	h.Set("Content-Type", partType)
	fw, err := mw.CreatePart(h)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	fw.Write(content)
	mw.WriteField("legende", "ticket de caisse")
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestPhotos_UploadServeDelete(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "judy")
	cat := s.createCategory(t, token, "Courses", domain.CategoryExpense)
	d := s.createTransaction(t, token, transactionBody("suivi", "expense", cat, "pending", "3.00"))

	png := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 64)...)
	body, contentType := multipartBody(t, "Ticket.PNG", "application/octet-stream", png)
	req := httptest.NewRequest(http.MethodPost, "/v1/transactions/"+d.ID+"/photos", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var photo domain.PhotoView
	decode(t, rec, &photo)
	if photo.Caption != "ticket de caisse" || !strings.HasSuffix(photo.ImageURL, ".png") {
		t.Errorf("unexpected photo %+v", photo)
	}

	path := strings.TrimPrefix(photo.ImageURL, "http://localhost")
	rec = s.do(t, http.MethodGet, path, "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("media: expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("media: expected nosniff, got %q", got)
	}
	if got := rec.Header().Get("Content-Type"); got != "image/png" {
		t.Errorf("media: expected image/png, got %q", got)
	}

	if rec := s.do(t, http.MethodDelete, "/v1/transactions/"+d.ID+"/photos/"+photo.ID, token, nil); rec.Code != http.StatusNoContent {
		t.Errorf("delete photo: expected 204, got %d", rec.Code)
	}
	ref := strings.TrimPrefix(path, "/media/")
	if _, err := os.Stat(filepath.Join(s.mediaRoot, ref)); !os.IsNotExist(err) {
		t.Errorf("expected blob removed, stat err=%v", err)
	}
}

func TestPhotos_RejectsNonImage(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "mallory")
	cat := s.createCategory(t, token, "Courses", domain.CategoryExpense)
	d := s.createTransaction(t, token, transactionBody("suivi", "expense", cat, "pending", "3.00"))

	cases := []struct {
		name, filename, partType string
		content                  []byte
	}{
		{"plain text", "Ticket.PNG", "application/octet-stream", []byte("plain text, not an image")},
		{"html declared as png", "x.html", "image/png", []byte("<!DOCTYPE html><html><script>alert(1)</script></html>")},
	}
	for _, tc := range cases {
		body, contentType := multipartBody(t, tc.filename, tc.partType, tc.content)
		req := httptest.NewRequest(http.MethodPost, "/v1/transactions/"+d.ID+"/photos", body)
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		s.handler.ServeHTTP(rec, req)
		var e struct{ Error, Field string }
		decode(t, rec, &e)
		if rec.Code != http.StatusBadRequest || e.Field != "image" {
			t.Errorf("%s: expected 400 on image, got %d %q", tc.name, rec.Code, e.Field)
		}
	}

	entries, _ := os.ReadDir(s.mediaRoot)
	if len(entries) != 0 {
		t.Errorf("expected nothing stored under media root, got %d entries", len(entries))
	}
}
