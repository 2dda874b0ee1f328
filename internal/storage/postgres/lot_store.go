package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"lotscout/internal/domain"
	"lotscout/internal/reconcile"
	"lotscout/internal/storage"
)

// LotStore implements storage.LotStore using PostgreSQL. The per-id
// lock the interface requires is the row lock taken by
// SELECT ... FOR UPDATE inside Upsert's transaction.
type LotStore struct {
	pool *Pool
}

// NewLotStore creates a new LotStore.
func NewLotStore(pool *Pool) *LotStore {
	return &LotStore{pool: pool}
}

// Compile-time interface check.
var _ storage.LotStore = (*LotStore)(nil)

const lotColumns = `
	id, title, category, brand, location,
	retail_price, current_bid, bid_count, unique_bidders,
	is_open, closes_at, sightings, bid_source, bid_seen_at,
	quality_score, opportunity_score, created_at, updated_at
`

// Upsert merges an observation into the stored lot inside a
// transaction and returns the merged record. The first insert of a lot
// can race another stream's first insert; a unique violation is
// resolved by retrying the merge against the now-existing row.
func (s *LotStore) Upsert(ctx context.Context, o *domain.Observation) (*domain.Lot, error) {
	if o == nil || o.LotID == "" {
		return nil, storage.ErrInvalidInput
	}

	for attempt := 0; attempt < 2; attempt++ {
		merged, err := s.upsertOnce(ctx, o)
		if err == nil {
			return merged, nil
		}
		if isDuplicateKeyError(err) && attempt == 0 {
			continue
		}
		return nil, err
	}
	return nil, fmt.Errorf("upsert lot %s: retry exhausted", o.LotID)
}

func (s *LotStore) upsertOnce(ctx context.Context, o *domain.Observation) (*domain.Lot, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx,
		`SELECT `+lotColumns+` FROM lots WHERE id = $1 FOR UPDATE`, o.LotID)

	existing, err := scanLot(row)
	if err != nil && !isNotFoundError(err) {
		return nil, fmt.Errorf("select lot for update: %w", err)
	}

	merged := reconcile.Merge(existing, o)

	if existing == nil {
		if err := insertLot(ctx, tx, merged); err != nil {
			return nil, err
		}
	} else {
		merged.OpportunityScore = existing.OpportunityScore
		if err := updateLot(ctx, tx, merged); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit upsert: %w", err)
	}
	return merged, nil
}

func insertLot(ctx context.Context, tx pgx.Tx, lot *domain.Lot) error {
	sightings, err := json.Marshal(lot.Sightings)
	if err != nil {
		return fmt.Errorf("marshal sightings: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO lots (`+lotColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
	`,
		lot.ID, lot.Title, lot.Category, lot.Brand, lot.Location,
		lot.RetailPrice, lot.CurrentBid, lot.BidCount, lot.UniqueBidders,
		lot.IsOpen, nullTime(lot.ClosesAt), sightings, string(lot.BidSource), nullTime(lot.BidSeenAt),
		lot.QualityScore, lot.OpportunityScore, lot.CreatedAt, lot.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return err
		}
		return fmt.Errorf("insert lot: %w", err)
	}
	return nil
}

func updateLot(ctx context.Context, tx pgx.Tx, lot *domain.Lot) error {
	sightings, err := json.Marshal(lot.Sightings)
	if err != nil {
		return fmt.Errorf("marshal sightings: %w", err)
	}
	_, err = tx.Exec(ctx, `
		UPDATE lots SET
			title = $2, category = $3, brand = $4, location = $5,
			retail_price = $6, current_bid = $7, bid_count = $8, unique_bidders = $9,
			is_open = $10, closes_at = $11, sightings = $12,
			bid_source = $13, bid_seen_at = $14,
			quality_score = $15, updated_at = $16
		WHERE id = $1
	`,
		lot.ID, lot.Title, lot.Category, lot.Brand, lot.Location,
		lot.RetailPrice, lot.CurrentBid, lot.BidCount, lot.UniqueBidders,
		lot.IsOpen, nullTime(lot.ClosesAt), sightings,
		string(lot.BidSource), nullTime(lot.BidSeenAt),
		lot.QualityScore, lot.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update lot: %w", err)
	}
	return nil
}

// UpdateScores persists derived scores for a lot.
func (s *LotStore) UpdateScores(ctx context.Context, id string, opportunity, quality float64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE lots SET opportunity_score = $2, quality_score = $3 WHERE id = $1`,
		id, opportunity, quality)
	if err != nil {
		return fmt.Errorf("update scores: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Get retrieves a lot by id. Returns ErrNotFound if not exists.
func (s *LotStore) Get(ctx context.Context, id string) (*domain.Lot, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+lotColumns+` FROM lots WHERE id = $1`, id)
	lot, err := scanLot(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get lot by id: %w", err)
	}
	return lot, nil
}

// Query retrieves matching lots sorted by opportunity score descending,
// earliest close time first on ties.
func (s *LotStore) Query(ctx context.Context, f storage.Filter) ([]*domain.Lot, error) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.Open != nil {
		conds = append(conds, "is_open = "+arg(*f.Open))
	}
	if len(f.Locations) > 0 {
		conds = append(conds, "location = ANY("+arg(f.Locations)+")")
	}
	if !f.ClosesAfter.IsZero() {
		conds = append(conds, "closes_at >= "+arg(f.ClosesAfter))
	}
	if !f.ClosesBefore.IsZero() {
		conds = append(conds, "closes_at <= "+arg(f.ClosesBefore))
	}
	if f.MinScore > 0 {
		conds = append(conds, "opportunity_score >= "+arg(f.MinScore))
	}

	query := `SELECT ` + lotColumns + ` FROM lots`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY opportunity_score DESC, closes_at ASC NULLS LAST, id ASC"
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query lots: %w", err)
	}
	defer rows.Close()

	var result []*domain.Lot
	for rows.Next() {
		lot, err := scanLot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lot: %w", err)
		}
		result = append(result, lot)
	}
	return result, rows.Err()
}

// scanLot reads one lot row.
func scanLot(row pgx.Row) (*domain.Lot, error) {
	var (
		lot       domain.Lot
		closesAt  *time.Time
		bidSeenAt *time.Time
		sightings []byte
		bidSource string
	)
	err := row.Scan(
		&lot.ID, &lot.Title, &lot.Category, &lot.Brand, &lot.Location,
		&lot.RetailPrice, &lot.CurrentBid, &lot.BidCount, &lot.UniqueBidders,
		&lot.IsOpen, &closesAt, &sightings, &bidSource, &bidSeenAt,
		&lot.QualityScore, &lot.OpportunityScore, &lot.CreatedAt, &lot.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if closesAt != nil {
		lot.ClosesAt = *closesAt
	}
	if bidSeenAt != nil {
		lot.BidSeenAt = *bidSeenAt
	}
	lot.BidSource = domain.Source(bidSource)
	if len(sightings) > 0 {
		if err := json.Unmarshal(sightings, &lot.Sightings); err != nil {
			return nil, fmt.Errorf("unmarshal sightings: %w", err)
		}
	}
	return &lot, nil
}

// nullTime maps the zero time to NULL.
func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
