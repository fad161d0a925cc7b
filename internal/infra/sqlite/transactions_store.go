package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"github.com/notimo/notimo-api/internal/domain"
	"github.com/notimo/notimo-api/internal/port"
)

// TransactionStore implements port.TransactionStore.
type TransactionStore struct {
	db *DB
}

// NewTransactionStore returns a transaction store over db.
func NewTransactionStore(db *DB) *TransactionStore {
	return &TransactionStore{db: db}
}

const transactionSelect = `SELECT t.id, t.user_id, u.username, t.numero, t.volet, t.position, t.categorie_id,
       t.statut, t.devise, t.created_at, t.updated_at,
       c.id, c.nom, c.type_categorie, c.icone, c.couleur, c.est_predefinie, c.est_active,
       c.creee_par, c.ordre, c.created_at, c.updated_at
FROM transactions t
JOIN users u ON u.id = t.user_id
JOIN categories c ON c.id = t.categorie_id`

// effectiveDateExpr is the latest line-item date, falling back to the creation day.
const effectiveDateExpr = `COALESCE((SELECT MAX(li.date) FROM line_items li WHERE li.transaction_id = t.id), substr(t.created_at, 1, 10))`

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var (
		t                  domain.Transaction
		track, pos, status string
		created, updated   string
		c                  domain.Category
		ctype              string
		predefined, active int
		owner              sql.NullString
		cCreated, cUpdated string
	)
	if err := row.Scan(
		&t.ID, &t.UserID, &t.Username, &t.Number, &track, &pos, &t.CategoryID,
		&status, &t.Currency, &created, &updated,
		&c.ID, &c.Name, &ctype, &c.Icon, &c.Color, &predefined, &active,
		&owner, &c.Order, &cCreated, &cUpdated,
	); err != nil {
		return nil, err
	}
	t.Track = domain.Track(track)
	t.Position = domain.Position(pos)
	t.Status = domain.Status(status)
	t.CreatedAt = parseTime(created)
	t.UpdatedAt = parseTime(updated)

	c.Type = domain.CategoryType(ctype)
	c.IsPredefined = predefined == 1
	c.IsActive = active == 1
	if owner.Valid {
		o := owner.String
		c.OwnerID = &o
	}
	c.CreatedAt = parseTime(cCreated)
	c.UpdatedAt = parseTime(cUpdated)
	t.Category = &c
	return &t, nil
}

// CreateTransaction assigns the next per-user number and writes the
// transaction with its line items in one SQL transaction.
func (s *TransactionStore) CreateTransaction(ctx context.Context, t *domain.Transaction) error {
	ctx, span := tracer.Start(ctx, "TransactionStore.CreateTransaction")
	defer span.End()
	span.SetAttributes(attribute.String("user_id", t.UserID), attribute.Int("line_items", len(t.LineItems)))

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := s.db.now()

	err := s.db.inTx(ctx, func(tx *sql.Tx) error {
		number, err := nextNumber(ctx, tx, t.UserID)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO transactions (id, user_id, numero, volet, position, categorie_id, statut, devise, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.UserID, number, string(t.Track), string(t.Position), t.CategoryID,
			string(t.Status), t.Currency, formatTime(now), formatTime(now))
		if err != nil {
			switch classify(err) {
			case uniqueConstraint:
				return port.ErrNumberTaken
			case foreignKeyConstraint:
				return &domain.ErrNotFound{Resource: "category", ID: t.CategoryID}
			}
			return fmt.Errorf("insert transaction: %w", err)
		}

		if err := insertLineItems(ctx, tx, t.ID, t.LineItems, now); err != nil {
			return err
		}
		t.Number = number
		return nil
	})
	if err != nil {
		return err
	}

	t.CreatedAt, t.UpdatedAt = now, now
	return nil
}

// nextNumber bumps the caller's counter. The counter never falls behind the
// highest stored number, so a drifted counter heals on the next write.
func nextNumber(ctx context.Context, tx *sql.Tx, userID string) (int64, error) {
	var n int64
	err := tx.QueryRowContext(ctx,
		`INSERT INTO user_counters (user_id, last_numero)
		 VALUES (?, COALESCE((SELECT MAX(numero) FROM transactions WHERE user_id = ?), 0) + 1)
		 ON CONFLICT(user_id) DO UPDATE SET last_numero = MAX(
		     user_counters.last_numero,
		     COALESCE((SELECT MAX(numero) FROM transactions WHERE user_id = excluded.user_id), 0)
		 ) + 1
		 RETURNING last_numero`,
		userID, userID).Scan(&n)
	if err != nil {
		if classify(err) == foreignKeyConstraint {
			return 0, &domain.ErrNotFound{Resource: "user", ID: userID}
		}
		return 0, fmt.Errorf("next transaction number: %w", err)
	}
	return n, nil
}

func insertLineItems(ctx context.Context, tx *sql.Tx, transactionID string, items []domain.LineItem, now time.Time) error {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO line_items (id, transaction_id, rang, nom, date, montant_cents, commentaire, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare line item insert: %w", err)
	}
	defer stmt.Close()

	for i := range items {
		li := &items[i]
		if li.ID == "" {
			li.ID = uuid.NewString()
		}
		li.TransactionID = transactionID
		li.CreatedAt, li.UpdatedAt = now, now
		if _, err := stmt.ExecContext(ctx,
			li.ID, transactionID, i, li.Name, li.Date.String(), toCents(li.Amount), li.Comment,
			formatTime(now), formatTime(now)); err != nil {
			return fmt.Errorf("insert line item %d: %w", i, err)
		}
	}
	return nil
}

// GetTransaction returns the caller's transaction with its children, or
// (nil, nil) when it does not exist or belongs to someone else.
func (s *TransactionStore) GetTransaction(ctx context.Context, userID, id string) (*domain.Transaction, error) {
	ctx, span := tracer.Start(ctx, "TransactionStore.GetTransaction")
	defer span.End()

	row := s.db.sql.QueryRowContext(ctx, transactionSelect+` WHERE t.id = ? AND t.user_id = ?`, id, userID)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction: %w", err)
	}

	txs := []domain.Transaction{*t}
	if err := s.loadChildren(ctx, txs); err != nil {
		return nil, err
	}
	return &txs[0], nil
}

// UpdateTransaction writes the header and, when asked, swaps the line items.
func (s *TransactionStore) UpdateTransaction(ctx context.Context, t *domain.Transaction, replaceLineItems bool) error {
	ctx, span := tracer.Start(ctx, "TransactionStore.UpdateTransaction")
	defer span.End()
	span.SetAttributes(attribute.String("transaction_id", t.ID), attribute.Bool("replace_line_items", replaceLineItems))

	now := s.db.now()
	err := s.db.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE transactions SET volet = ?, position = ?, categorie_id = ?, statut = ?, devise = ?, updated_at = ?
			 WHERE id = ? AND user_id = ?`,
			string(t.Track), string(t.Position), t.CategoryID, string(t.Status), t.Currency, formatTime(now),
			t.ID, t.UserID)
		if err != nil {
			if classify(err) == foreignKeyConstraint {
				return &domain.ErrNotFound{Resource: "category", ID: t.CategoryID}
			}
			return fmt.Errorf("update transaction: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return &domain.ErrNotFound{Resource: "transaction", ID: t.ID}
		}

		if !replaceLineItems {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM line_items WHERE transaction_id = ?`, t.ID); err != nil {
			return fmt.Errorf("delete line items: %w", err)
		}
		for i := range t.LineItems {
			t.LineItems[i].ID = ""
		}
		return insertLineItems(ctx, tx, t.ID, t.LineItems, now)
	})
	if err != nil {
		return err
	}
	t.UpdatedAt = now
	return nil
}

// DeleteTransaction removes the caller's transaction; line items and photos
// go with it through the cascade.
func (s *TransactionStore) DeleteTransaction(ctx context.Context, userID, id string) ([]string, error) {
	ctx, span := tracer.Start(ctx, "TransactionStore.DeleteTransaction")
	defer span.End()

	var refs []string
	err := s.db.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT p.blob_ref FROM photos p JOIN transactions t ON t.id = p.transaction_id
			 WHERE t.id = ? AND t.user_id = ?`, id, userID)
		if err != nil {
			return fmt.Errorf("query photo refs: %w", err)
		}
		for rows.Next() {
			var ref string
			if err := rows.Scan(&ref); err != nil {
				rows.Close()
				return fmt.Errorf("scan photo ref: %w", err)
			}
			refs = append(refs, ref)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `DELETE FROM transactions WHERE id = ? AND user_id = ?`, id, userID)
		if err != nil {
			return fmt.Errorf("delete transaction: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return &domain.ErrNotFound{Resource: "transaction", ID: id}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return refs, nil
}

// ListTransactions returns the caller's transactions matching filter.
func (s *TransactionStore) ListTransactions(ctx context.Context, userID string, filter domain.TransactionFilter) ([]domain.Transaction, int, error) {
	ctx, span := tracer.Start(ctx, "TransactionStore.ListTransactions")
	defer span.End()
	span.SetAttributes(attribute.String("user_id", userID))

	where, args := transactionWhere(userID, filter)

	var total int
	countQuery := `SELECT COUNT(*) FROM transactions t JOIN categories c ON c.id = t.categorie_id WHERE ` + where
	if err := s.db.sql.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count transactions: %w", err)
	}

	query := transactionSelect + ` WHERE ` + where + ` ORDER BY ` + orderClause(filter.EffectiveOrdering())
	if filter.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := s.db.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	txs := []domain.Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan transaction: %w", err)
		}
		txs = append(txs, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	rows.Close()

	if err := s.loadChildren(ctx, txs); err != nil {
		return nil, 0, err
	}
	return txs, total, nil
}

func transactionWhere(userID string, f domain.TransactionFilter) (string, []any) {
	clauses := []string{"t.user_id = ?"}
	args := []any{userID}

	if f.Track != nil {
		clauses = append(clauses, "t.volet = ?")
		args = append(args, string(*f.Track))
	}
	if f.Position != nil {
		clauses = append(clauses, "t.position = ?")
		args = append(args, string(*f.Position))
	}
	if f.Status != nil {
		clauses = append(clauses, "t.statut = ?")
		args = append(args, string(*f.Status))
	}
	if f.CategoryID != "" {
		clauses = append(clauses, "t.categorie_id = ?")
		args = append(args, f.CategoryID)
	}
	if q := strings.TrimSpace(f.Search); q != "" {
		pattern := "%" + escapeLike(q) + "%"
		clauses = append(clauses, `(c.nom LIKE ? ESCAPE '\' OR EXISTS (
			SELECT 1 FROM line_items li WHERE li.transaction_id = t.id AND li.nom LIKE ? ESCAPE '\'))`)
		args = append(args, pattern, pattern)
	}
	if f.DateFrom != nil || f.DateTo != nil {
		cond := []string{"li.transaction_id = t.id"}
		if f.DateFrom != nil {
			cond = append(cond, "li.date >= ?")
			args = append(args, f.DateFrom.String())
		}
		if f.DateTo != nil {
			cond = append(cond, "li.date <= ?")
			args = append(args, f.DateTo.String())
		}
		clauses = append(clauses, "EXISTS (SELECT 1 FROM line_items li WHERE "+strings.Join(cond, " AND ")+")")
	}
	if f.Month != nil {
		first := domain.NewDate(f.Month.Year, f.Month.Month, 1)
		next := domain.DateOf(first.Time().AddDate(0, 1, 0))
		clauses = append(clauses, "EXISTS (SELECT 1 FROM line_items li WHERE li.transaction_id = t.id AND li.date >= ? AND li.date < ?)")
		args = append(args, first.String(), next.String())
	}
	return strings.Join(clauses, " AND "), args
}

func orderClause(ordering string) string {
	switch ordering {
	case domain.OrderCreatedAsc:
		return "t.created_at ASC, t.numero ASC"
	case domain.OrderDateDesc:
		return effectiveDateExpr + " DESC, t.created_at DESC, t.numero DESC"
	case domain.OrderDateAsc:
		return effectiveDateExpr + " ASC, t.created_at ASC, t.numero ASC"
	default:
		return "t.created_at DESC, t.numero DESC"
	}
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// loadChildren fills line items and photos of txs with two batched queries.
func (s *TransactionStore) loadChildren(ctx context.Context, txs []domain.Transaction) error {
	if len(txs) == 0 {
		return nil
	}
	index := make(map[string]int, len(txs))
	ids := make([]any, len(txs))
	for i := range txs {
		index[txs[i].ID] = i
		ids[i] = txs[i].ID
		txs[i].LineItems = []domain.LineItem{}
		txs[i].Photos = []domain.Photo{}
	}
	in := placeholders(len(ids))

	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT id, transaction_id, nom, date, montant_cents, commentaire, created_at, updated_at
		 FROM line_items WHERE transaction_id IN (`+in+`) ORDER BY transaction_id, rang`, ids...)
	if err != nil {
		return fmt.Errorf("query line items: %w", err)
	}
	for rows.Next() {
		var (
			li               domain.LineItem
			date             string
			cents            int64
			created, updated string
		)
		if err := rows.Scan(&li.ID, &li.TransactionID, &li.Name, &date, &cents, &li.Comment, &created, &updated); err != nil {
			rows.Close()
			return fmt.Errorf("scan line item: %w", err)
		}
		li.Date, _ = domain.ParseDate(date)
		li.Amount = fromCents(cents)
		li.CreatedAt = parseTime(created)
		li.UpdatedAt = parseTime(updated)
		t := &txs[index[li.TransactionID]]
		t.LineItems = append(t.LineItems, li)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = s.db.sql.QueryContext(ctx,
		`SELECT id, transaction_id, blob_ref, legende, created_at
		 FROM photos WHERE transaction_id IN (`+in+`) ORDER BY created_at`, ids...)
	if err != nil {
		return fmt.Errorf("query photos: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			p       domain.Photo
			created string
		)
		if err := rows.Scan(&p.ID, &p.TransactionID, &p.BlobRef, &p.Caption, &created); err != nil {
			return fmt.Errorf("scan photo: %w", err)
		}
		p.CreatedAt = parseTime(created)
		t := &txs[index[p.TransactionID]]
		t.Photos = append(t.Photos, p)
	}
	return rows.Err()
}

// UpdateStatuses applies a bulk status change to the caller's transactions.
// Rows already in next, or whose transition is not allowed, are left alone.
func (s *TransactionStore) UpdateStatuses(ctx context.Context, userID string, ids []string, next domain.Status, allowed func(domain.Status) bool) (int, error) {
	ctx, span := tracer.Start(ctx, "TransactionStore.UpdateStatuses")
	defer span.End()
	span.SetAttributes(attribute.Int("ids", len(ids)), attribute.String("status", string(next)))

	if len(ids) == 0 {
		return 0, nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, userID)
	for _, id := range ids {
		args = append(args, id)
	}

	updated := 0
	err := s.db.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT id, statut FROM transactions WHERE user_id = ? AND id IN (`+placeholders(len(ids))+`)`, args...)
		if err != nil {
			return fmt.Errorf("query statuses: %w", err)
		}
		var targets []string
		for rows.Next() {
			var id, status string
			if err := rows.Scan(&id, &status); err != nil {
				rows.Close()
				return fmt.Errorf("scan status: %w", err)
			}
			current := domain.Status(status)
			if current != next && allowed(current) {
				targets = append(targets, id)
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		now := formatTime(s.db.now())
		for _, id := range targets {
			if _, err := tx.ExecContext(ctx,
				`UPDATE transactions SET statut = ?, updated_at = ? WHERE id = ? AND user_id = ?`,
				string(next), now, id, userID); err != nil {
				return fmt.Errorf("update status: %w", err)
			}
		}
		updated = len(targets)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return updated, nil
}

// AddPhoto attaches p to one of the caller's transactions.
func (s *TransactionStore) AddPhoto(ctx context.Context, userID string, p *domain.Photo) error {
	ctx, span := tracer.Start(ctx, "TransactionStore.AddPhoto")
	defer span.End()

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.CreatedAt = s.db.now()

	return s.db.inTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx,
			`SELECT 1 FROM transactions WHERE id = ? AND user_id = ?`, p.TransactionID, userID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return &domain.ErrNotFound{Resource: "transaction", ID: p.TransactionID}
		}
		if err != nil {
			return fmt.Errorf("check transaction: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO photos (id, transaction_id, blob_ref, legende, created_at) VALUES (?, ?, ?, ?, ?)`,
			p.ID, p.TransactionID, p.BlobRef, p.Caption, formatTime(p.CreatedAt)); err != nil {
			return fmt.Errorf("insert photo: %w", err)
		}
		return nil
	})
}

// DeletePhoto removes one photo of the caller's transaction.
func (s *TransactionStore) DeletePhoto(ctx context.Context, userID, transactionID, photoID string) (string, error) {
	ctx, span := tracer.Start(ctx, "TransactionStore.DeletePhoto")
	defer span.End()

	var ref string
	err := s.db.inTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			`SELECT p.blob_ref FROM photos p JOIN transactions t ON t.id = p.transaction_id
			 WHERE p.id = ? AND t.id = ? AND t.user_id = ?`, photoID, transactionID, userID).Scan(&ref)
		if errors.Is(err, sql.ErrNoRows) {
			return &domain.ErrNotFound{Resource: "photo", ID: photoID}
		}
		if err != nil {
			return fmt.Errorf("get photo: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM photos WHERE id = ?`, photoID); err != nil {
			return fmt.Errorf("delete photo: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return ref, nil
}

func toCents(d decimal.Decimal) int64 {
	return d.Round(2).Shift(2).IntPart()
}

func fromCents(c int64) decimal.Decimal {
	return decimal.New(c, -2)
}
