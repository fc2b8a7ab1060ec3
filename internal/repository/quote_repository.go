package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"quote-tracker/internal/domain"
)

type QuoteRepository interface {
	Create(ctx context.Context, quote *domain.Quote) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Quote, error)
	List(ctx context.Context, filter domain.QuoteFilter, params domain.PaginationParams) ([]domain.Quote, int64, error)
	ListIDs(ctx context.Context) ([]uuid.UUID, error)
	// CountByStatus counts quotes outside the trash per status.
	CountByStatus(ctx context.Context) (map[domain.Status]int64, error)
	Update(ctx context.Context, quote *domain.Quote) error
	SetPDFRef(ctx context.Context, id uuid.UUID, ref *string) error
	UpdateStatusFields(ctx context.Context, id uuid.UUID, expected domain.StatusVersion, fields domain.StatusFields) error
	Trash(ctx context.Context, id uuid.UUID) error
	Restore(ctx context.Context, id uuid.UUID) error
	Delete(ctx context.Context, id uuid.UUID) error
	NextNumber(ctx context.Context) (string, error)
}

type quoteRepository struct {
	db *sqlx.DB
}

func NewQuoteRepository(db *sqlx.DB) QuoteRepository {
	return &quoteRepository{db: db}
}

// FormatQuoteNumber renders the human-facing quote number.
func FormatQuoteNumber(seq int64) string {
	return fmt.Sprintf("Q-%06d", seq)
}

func (r *quoteRepository) Create(ctx context.Context, quote *domain.Quote) error {
	query := `
		INSERT INTO quotes (
			id, number, client_name, client_email, client_phone, client_address,
			items, subtotal_cents, tax_rate, tax_cents, total_cents, notes, pdf_ref,
			created_by, status, viewed, signed, declined, status_timestamps, revision
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		RETURNING created_at, updated_at`

	return r.db.QueryRowxContext(ctx, query,
		quote.ID, quote.Number, quote.ClientName, quote.ClientEmail, quote.ClientPhone, quote.ClientAddress,
		quote.Items, quote.SubtotalCents, quote.TaxRate, quote.TaxCents, quote.TotalCents, quote.Notes, quote.PDFRef,
		quote.CreatedBy, quote.Status, quote.Viewed, quote.Signed, quote.Declined, quote.StatusTimestamps, quote.Revision,
	).Scan(&quote.CreatedAt, &quote.UpdatedAt)
}

func (r *quoteRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Quote, error) {
	var quote domain.Quote
	query := `SELECT * FROM quotes WHERE id = $1`

	err := r.db.GetContext(ctx, &quote, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrQuoteNotFound
	}
	if err != nil {
		return nil, err
	}
	return &quote, nil
}

func (r *quoteRepository) List(ctx context.Context, filter domain.QuoteFilter, params domain.PaginationParams) ([]domain.Quote, int64, error) {
	params.Validate()

	var (
		conditions []string
		args       []interface{}
	)
	switch {
	case filter.TrashedOnly:
		conditions = append(conditions, "deleted_at IS NOT NULL")
	case !filter.IncludeTrashed:
		conditions = append(conditions, "deleted_at IS NULL")
	}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int64
	countQuery := `SELECT COUNT(*) FROM quotes ` + where
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`
		SELECT * FROM quotes
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`, where, len(args)+1, len(args)+2)
	args = append(args, params.PageSize, params.Offset())

	var quotes []domain.Quote
	err := r.db.SelectContext(ctx, &quotes, query, args...)
	return quotes, total, err
}

func (r *quoteRepository) ListIDs(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.SelectContext(ctx, &ids, `SELECT id FROM quotes ORDER BY created_at`)
	return ids, err
}

func (r *quoteRepository) CountByStatus(ctx context.Context) (map[domain.Status]int64, error) {
	var rows []struct {
		Status domain.Status `db:"status"`
		Count  int64         `db:"count"`
	}
	query := `SELECT status, COUNT(*) AS count FROM quotes WHERE deleted_at IS NULL GROUP BY status`
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, err
	}

	counts := make(map[domain.Status]int64, len(domain.AllStatuses))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

// Update writes the editable fields. Signed or declined quotes are rejected
// with domain.ErrQuoteLocked.
func (r *quoteRepository) Update(ctx context.Context, quote *domain.Quote) error {
	query := `
		UPDATE quotes
		SET client_name = $2, client_email = $3, client_phone = $4, client_address = $5,
			items = $6, subtotal_cents = $7, tax_rate = $8, tax_cents = $9, total_cents = $10,
			notes = $11, updated_at = NOW()
		WHERE id = $1 AND NOT signed AND NOT declined
		RETURNING updated_at`

	err := r.db.QueryRowxContext(ctx, query,
		quote.ID, quote.ClientName, quote.ClientEmail, quote.ClientPhone, quote.ClientAddress,
		quote.Items, quote.SubtotalCents, quote.TaxRate, quote.TaxCents, quote.TotalCents, quote.Notes,
	).Scan(&quote.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := r.Get(ctx, quote.ID); getErr != nil {
			return getErr
		}
		return domain.ErrQuoteLocked
	}
	return err
}

func (r *quoteRepository) SetPDFRef(ctx context.Context, id uuid.UUID, ref *string) error {
	query := `UPDATE quotes SET pdf_ref = $2, updated_at = NOW() WHERE id = $1`
	return r.expectRow(r.db.ExecContext(ctx, query, id, ref))
}

// UpdateStatusFields is a compare-and-swap on (status, revision).
func (r *quoteRepository) UpdateStatusFields(ctx context.Context, id uuid.UUID, expected domain.StatusVersion, fields domain.StatusFields) error {
	query := `
		UPDATE quotes
		SET status = $4, viewed = $5, signed = $6, declined = $7, status_timestamps = $8,
			revision = revision + 1, updated_at = NOW()
		WHERE id = $1 AND status = $2 AND revision = $3`

	res, err := r.db.ExecContext(ctx, query,
		id, expected.Status, expected.Revision,
		fields.Status, fields.Viewed, fields.Signed, fields.Declined, fields.StatusTimestamps,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	var exists bool
	if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM quotes WHERE id = $1)`, id); err != nil {
		return err
	}
	if !exists {
		return domain.ErrQuoteNotFound
	}
	return domain.ErrConflictRetry
}

func (r *quoteRepository) Trash(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE quotes SET deleted_at = COALESCE(deleted_at, NOW()), updated_at = NOW() WHERE id = $1`
	return r.expectRow(r.db.ExecContext(ctx, query, id))
}

func (r *quoteRepository) Restore(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE quotes SET deleted_at = NULL, updated_at = NOW() WHERE id = $1`
	return r.expectRow(r.db.ExecContext(ctx, query, id))
}

// Delete removes the quote and, through the foreign key, its events.
func (r *quoteRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.expectRow(r.db.ExecContext(ctx, `DELETE FROM quotes WHERE id = $1`, id))
}

func (r *quoteRepository) NextNumber(ctx context.Context) (string, error) {
	var seq int64
	if err := r.db.GetContext(ctx, &seq, `SELECT nextval('quote_number_seq')`); err != nil {
		return "", err
	}
	return FormatQuoteNumber(seq), nil
}

func (r *quoteRepository) expectRow(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrQuoteNotFound
	}
	return nil
}
