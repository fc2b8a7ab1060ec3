package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Quote struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	Number        string     `json:"number" db:"number"`
	ClientName    string     `json:"client_name" db:"client_name"`
	ClientEmail   string     `json:"client_email" db:"client_email"`
	ClientPhone   *string    `json:"client_phone,omitempty" db:"client_phone"`
	ClientAddress *string    `json:"client_address,omitempty" db:"client_address"`
	Items         LineItems  `json:"items" db:"items"`
	SubtotalCents int64      `json:"subtotal_cents" db:"subtotal_cents"`
	TaxRate       float64    `json:"tax_rate" db:"tax_rate"`
	TaxCents      int64      `json:"tax_cents" db:"tax_cents"`
	TotalCents    int64      `json:"total_cents" db:"total_cents"`
	Notes         *string    `json:"notes,omitempty" db:"notes"`
	PDFRef        *string    `json:"pdf_ref,omitempty" db:"pdf_ref"`
	CreatedBy     uuid.UUID  `json:"created_by" db:"created_by"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
	DeletedAt     *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`

	// Denormalized projection of the event log.
	Status           Status           `json:"status" db:"status"`
	Viewed           bool             `json:"viewed" db:"viewed"`
	Signed           bool             `json:"signed" db:"signed"`
	Declined         bool             `json:"declined" db:"declined"`
	StatusTimestamps StatusTimestamps `json:"status_timestamps" db:"status_timestamps"`
	Revision         int64            `json:"revision" db:"revision"`
}

func (q *Quote) IsTrashed() bool {
	return q.DeletedAt != nil
}

func (q *Quote) StatusFields() StatusFields {
	return StatusFields{
		Status:           q.Status,
		Viewed:           q.Viewed,
		Signed:           q.Signed,
		Declined:         q.Declined,
		StatusTimestamps: q.StatusTimestamps.Clone(),
	}
}

func (q *Quote) SetStatusFields(f StatusFields) {
	q.Status = f.Status
	q.Viewed = f.Viewed
	q.Signed = f.Signed
	q.Declined = f.Declined
	q.StatusTimestamps = f.StatusTimestamps.Clone()
}

func (q *Quote) Version() StatusVersion {
	return StatusVersion{Status: q.Status, Revision: q.Revision}
}

// StatusFields is the part of a quote record that mirrors its event log.
type StatusFields struct {
	Status           Status
	Viewed           bool
	Signed           bool
	Declined         bool
	StatusTimestamps StatusTimestamps
}

func NewStatusFields() StatusFields {
	return StatusFields{Status: StatusDraft, StatusTimestamps: StatusTimestamps{}}
}

func (f StatusFields) Equal(o StatusFields) bool {
	if f.Status != o.Status || f.Viewed != o.Viewed || f.Signed != o.Signed || f.Declined != o.Declined {
		return false
	}
	if len(f.StatusTimestamps) != len(o.StatusTimestamps) {
		return false
	}
	for k, v := range f.StatusTimestamps {
		ov, ok := o.StatusTimestamps[k]
		if !ok || !ov.Equal(v) {
			return false
		}
	}
	return true
}

// StatusVersion is the compare-and-swap token for status field updates.
type StatusVersion struct {
	Status   Status
	Revision int64
}

// StatusTimestamps maps a status to the time it was first reached.
type StatusTimestamps map[Status]time.Time

func (t StatusTimestamps) Clone() StatusTimestamps {
	out := make(StatusTimestamps, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// SetFirst records at for status unless an earlier time is already present.
func (t StatusTimestamps) SetFirst(status Status, at time.Time) {
	if prev, ok := t[status]; ok && !at.Before(prev) {
		return
	}
	t[status] = at
}

func (t StatusTimestamps) Value() (driver.Value, error) {
	if t == nil {
		return "{}", nil
	}
	b, err := json.Marshal(map[Status]time.Time(t))
	return string(b), err
}

func (t *StatusTimestamps) Scan(src interface{}) error {
	raw, err := jsonBytes(src)
	if err != nil {
		return err
	}
	out := StatusTimestamps{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, (*map[Status]time.Time)(&out)); err != nil {
			return err
		}
	}
	*t = out
	return nil
}

type LineItem struct {
	Type           string  `json:"type"`
	Style          string  `json:"style,omitempty"`
	Material       string  `json:"material,omitempty"`
	WidthIn        float64 `json:"width_in"`
	HeightIn       float64 `json:"height_in"`
	Quantity       int     `json:"quantity"`
	UnitPriceCents int64   `json:"unit_price_cents"`
	Description    string  `json:"description,omitempty"`
}

func (i LineItem) TotalCents() int64 {
	return int64(i.Quantity) * i.UnitPriceCents
}

type LineItems []LineItem

func (l LineItems) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]LineItem(l))
	return string(b), err
}

func (l *LineItems) Scan(src interface{}) error {
	raw, err := jsonBytes(src)
	if err != nil {
		return err
	}
	out := LineItems{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, (*[]LineItem)(&out)); err != nil {
			return err
		}
	}
	*l = out
	return nil
}

func jsonBytes(src interface{}) ([]byte, error) {
	switch v := src.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	}
	return nil, fmt.Errorf("unsupported JSON column type %T", src)
}

// ComputeTotals returns subtotal, tax and total in cents. Tax is rounded
// half away from zero.
func ComputeTotals(items []LineItem, taxRate float64) (subtotal, tax, total int64) {
	for _, item := range items {
		subtotal += item.TotalCents()
	}
	tax = int64(math.Round(float64(subtotal) * taxRate))
	return subtotal, tax, subtotal + tax
}

type CreateQuoteInput struct {
	ClientName    string     `json:"client_name" validate:"required,max=200"`
	ClientEmail   string     `json:"client_email" validate:"omitempty,email,max=255"`
	ClientPhone   *string    `json:"client_phone,omitempty" validate:"omitempty,max=30"`
	ClientAddress *string    `json:"client_address,omitempty" validate:"omitempty,max=500"`
	Items         []LineItem `json:"items"`
	Notes         *string    `json:"notes,omitempty" validate:"omitempty,max=4000"`
}

type UpdateQuoteInput struct {
	ClientName    *string        `json:"client_name" validate:"omitempty,max=200"`
	ClientEmail   *string        `json:"client_email" validate:"omitempty,email,max=255"`
	ClientPhone   NullableString `json:"client_phone"`
	ClientAddress NullableString `json:"client_address"`
	Items         *[]LineItem    `json:"items"`
	Notes         NullableString `json:"notes"`
}

func (in CreateQuoteInput) Validate() error {
	if strings.TrimSpace(in.ClientName) == "" {
		return fmt.Errorf("%w: client_name is required", ErrValidation)
	}
	return validateItems(in.Items)
}

func (in UpdateQuoteInput) Validate() error {
	if in.ClientName != nil && strings.TrimSpace(*in.ClientName) == "" {
		return fmt.Errorf("%w: client_name cannot be empty", ErrValidation)
	}
	if in.Items != nil {
		return validateItems(*in.Items)
	}
	return nil
}

func validateItems(items []LineItem) error {
	var errs []error
	for i, item := range items {
		if strings.TrimSpace(item.Type) == "" {
			errs = append(errs, fmt.Errorf("items[%d].type is required", i))
		}
		if item.Quantity <= 0 {
			errs = append(errs, fmt.Errorf("items[%d].quantity must be positive", i))
		}
		if item.UnitPriceCents < 0 {
			errs = append(errs, fmt.Errorf("items[%d].unit_price_cents cannot be negative", i))
		}
		if item.WidthIn < 0 || item.HeightIn < 0 {
			errs = append(errs, fmt.Errorf("items[%d] dimensions cannot be negative", i))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrValidation, errors.Join(errs...))
	}
	return nil
}

type QuoteFilter struct {
	Status         *Status
	IncludeTrashed bool
	TrashedOnly    bool
}

type SignQuoteInput struct {
	SignerName    string `json:"signer_name" validate:"required,max=200"`
	SignerEmail   string `json:"signer_email" validate:"omitempty,email"`
	SignatureData string `json:"signature_data" validate:"required"`
}

type DeclineQuoteInput struct {
	Reason     string `json:"reason" validate:"omitempty,max=2000"`
	ActorEmail string `json:"actor_email" validate:"omitempty,email"`
}

// NullableString distinguishes an absent JSON field from an explicit null.
type NullableString struct {
	Value *string
	Set   bool
}

func (n *NullableString) UnmarshalJSON(data []byte) error {
	n.Set = true
	if string(data) == "null" {
		n.Value = nil
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	n.Value = &s
	return nil
}

// StatusSummary is the log-derived view of a quote's lifecycle.
type StatusSummary struct {
	QuoteID       uuid.UUID  `json:"quote_id"`
	Status        Status     `json:"status"`
	OpensCount    int        `json:"opens_count"`
	OpenedAt      *time.Time `json:"opened_at"`
	LastOpenedAt  *time.Time `json:"last_opened_at"`
	SentAt        *time.Time `json:"sent_at"`
	LastSentAt    *time.Time `json:"last_sent_at"`
	SendFailures  int        `json:"send_failures"`
	LastFailureAt *time.Time `json:"last_failure_at"`
	SignedAt      *time.Time `json:"signed_at"`
	DeclinedAt    *time.Time `json:"declined_at"`
}

// Notice is what the notification dispatcher receives after a transition.
type Notice struct {
	QuoteID     uuid.UUID
	QuoteNumber string
	ClientName  string
	ClientEmail string
	CreatedBy   uuid.UUID
	EventID     uuid.UUID
	Kind        EventKind
	Meta        EventMeta
	At          time.Time
}
