package segmentation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ignite/campaign-engine/internal/domain"
)

// ErrSegmentNotFound is returned when a segment does not exist for a tenant.
var ErrSegmentNotFound = errors.New("segment not found")

// Store is the Postgres-backed ContactSource and segment store.
type Store struct {
	db *sqlx.DB
}

// NewStore creates a new segmentation store
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// ==========================================
// SEGMENT OPERATIONS
// ==========================================

type segmentRow struct {
	ID        int64     `db:"id"`
	CompanyID int64     `db:"company_id"`
	Name      string    `db:"name"`
	Criteria  []byte    `db:"criteria"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// GetSegment loads a segment owned by companyID.
func (s *Store) GetSegment(ctx context.Context, companyID, id int64) (*domain.ContactSegment, error) {
	var row segmentRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, company_id, name, criteria, created_at, updated_at
		FROM contact_segments
		WHERE id = $1 AND company_id = $2`, id, companyID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSegmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get segment %d: %w", id, err)
	}

	seg := &domain.ContactSegment{
		ID:        row.ID,
		CompanyID: row.CompanyID,
		Name:      row.Name,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
	if len(row.Criteria) > 0 {
		if err := json.Unmarshal(row.Criteria, &seg.Criteria); err != nil {
			return nil, fmt.Errorf("decode segment %d criteria: %w", id, err)
		}
	}
	return seg, nil
}

// CreateSegment inserts a segment and fills in its id and timestamps.
func (s *Store) CreateSegment(ctx context.Context, seg *domain.ContactSegment) error {
	criteria, err := json.Marshal(seg.Criteria)
	if err != nil {
		return fmt.Errorf("marshal criteria: %w", err)
	}
	now := time.Now().UTC()
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO contact_segments (company_id, name, criteria, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		RETURNING id`, seg.CompanyID, seg.Name, criteria, now).Scan(&seg.ID)
	if err != nil {
		return fmt.Errorf("insert segment: %w", err)
	}
	seg.CreatedAt, seg.UpdatedAt = now, now
	return nil
}

// ==========================================
// CONTACT QUERIES
// ==========================================

type contactRow struct {
	ID                 int64          `db:"id"`
	CompanyID          int64          `db:"company_id"`
	Name               sql.NullString `db:"name"`
	Email              sql.NullString `db:"email"`
	Phone              sql.NullString `db:"phone"`
	Company            sql.NullString `db:"company"`
	Tags               pq.StringArray `db:"tags"`
	IsActive           bool           `db:"is_active"`
	CreatedAt          time.Time      `db:"created_at"`
	LastActivityAt     *time.Time     `db:"last_activity_at"`
	LastConversationAt *time.Time     `db:"last_conversation_at"`
}

func (r *contactRow) contact() domain.Contact {
	return domain.Contact{
		ID:             r.ID,
		CompanyID:      r.CompanyID,
		Name:           r.Name.String,
		Email:          r.Email.String,
		Phone:          r.Phone.String,
		Company:        r.Company.String,
		Tags:           []string(r.Tags),
		IsActive:       r.IsActive,
		CreatedAt:      r.CreatedAt,
		LastActivityAt: r.LastActivityAt,
	}
}

// FindContacts implements ContactSource.
func (s *Store) FindContacts(ctx context.Context, q ContactQuery) ([]domain.Contact, error) {
	query, args := NewQueryBuilder().BuildQuery(q)
	var rows []contactRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select contacts: %w", err)
	}
	out := make([]domain.Contact, len(rows))
	for i := range rows {
		out[i] = rows[i].contact()
	}
	return out, nil
}

// FindContactDetails implements ContactSource.
func (s *Store) FindContactDetails(ctx context.Context, q ContactQuery, limit int) ([]ContactDetail, error) {
	query, args := NewQueryBuilder().BuildDetailQuery(q, limit)
	var rows []contactRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select contact details: %w", err)
	}
	out := make([]ContactDetail, len(rows))
	for i := range rows {
		out[i] = ContactDetail{Contact: rows[i].contact(), LastConversationAt: rows[i].LastConversationAt}
	}
	return out, nil
}
