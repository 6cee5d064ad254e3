// Package adstore manages the ad lifecycle backed by PostgreSQL + pgvector:
// retailers, weekly-ad rotation, products, embeddings, and ranked search.
package adstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// querier is the common interface satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// uniqueViolation is the PostgreSQL error code for unique constraint violations.
const uniqueViolation = "23505"

// productCols is the standard SELECT column list for scanProducts.
// Nullable text columns are coalesced so scan targets stay plain strings.
const productCols = `p.id, p.weekly_ad_id, p.retailer_id, p.name,
	p.price, p.original_price,
	COALESCE(p.unit, ''), COALESCE(p.description, ''),
	COALESCE(p.category, ''), COALESCE(p.promotion_details, ''),
	p.promotion_from, p.promotion_to, p.is_frontpage,
	COALESCE(p.emoji, ''), COALESCE(p.gen_terms, ''),
	p.embedding IS NOT NULL, p.created_at`

// Store manages retailers, weekly ads, and products.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates a Store.
func NewStore(pool *pgxpool.Pool, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}, nil
}

// GetRetailerByName looks up a retailer by case-insensitive name.
// Returns ErrRetailerNotFound if no retailer matches.
func (s *Store) GetRetailerByName(ctx context.Context, name string) (*Retailer, error) {
	r := &Retailer{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, website, created_at
		 FROM retailers
		 WHERE lower(name) = lower($1)`,
		name,
	).Scan(&r.ID, &r.Name, &r.Website, &r.CreatedAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, fmt.Errorf("%w: %q", ErrRetailerNotFound, name)
	case err != nil:
		return nil, fmt.Errorf("looking up retailer: %w", err)
	}
	return r, nil
}

// CreateRetailer registers a new retailer. Returns ErrRetailerExists when a
// retailer with the same case-normalized name is already registered.
func (s *Store) CreateRetailer(ctx context.Context, name string, website *string) (*Retailer, error) {
	if name == "" {
		return nil, fmt.Errorf("retailer name is required")
	}

	r := &Retailer{}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO retailers (name, website)
		 VALUES ($1, $2)
		 RETURNING id, name, website, created_at`,
		name, website,
	).Scan(&r.ID, &r.Name, &r.Website, &r.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, fmt.Errorf("%w: %q", ErrRetailerExists, name)
		}
		return nil, fmt.Errorf("creating retailer: %w", err)
	}
	return r, nil
}

// ListRetailers returns all retailers ordered by name.
func (s *Store) ListRetailers(ctx context.Context) ([]*Retailer, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, website, created_at
		 FROM retailers
		 ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing retailers: %w", err)
	}
	defer rows.Close()

	var retailers []*Retailer
	for rows.Next() {
		r := &Retailer{}
		if err := rows.Scan(&r.ID, &r.Name, &r.Website, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning retailer: %w", err)
		}
		retailers = append(retailers, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating retailers: %w", err)
	}
	return retailers, nil
}

// AdExists reports whether a weekly ad with the given filename was already
// ingested. Filename is the ingestion idempotency key.
func (s *Store) AdExists(ctx context.Context, filename string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM weekly_ads WHERE filename = $1)`,
		filename,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking weekly ad existence: %w", err)
	}
	return exists, nil
}

// IngestAd atomically rotates the retailer's ad periods, inserts the new
// weekly ad as current, and inserts its products. Any failure rolls the
// whole document back, rotation included.
//
// Rotation is retailer-scoped and ordered: previous ads are archived first,
// then the current ad is demoted to previous. An advisory lock keyed by the
// retailer serializes concurrent ingestion so two documents for the same
// retailer cannot interleave rotations.
//
// Returns ErrAdAlreadyIngested if the filename was ingested before (checked
// again inside the transaction; the dedup pre-check races with concurrent
// runners and the unique constraint backstops both).
func (s *Store) IngestAd(ctx context.Context, retailerID int64, ad AdInput, products []ProductInput) (*WeeklyAd, error) {
	if ad.Filename == "" {
		return nil, fmt.Errorf("filename is required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Debug("transaction rollback", "error", rbErr)
		}
	}()

	// Serialize concurrent ingestion for the same retailer.
	// pg_advisory_xact_lock releases automatically at commit/rollback.
	lockKey := fmt.Sprintf("retailer:%d", retailerID)
	if _, lockErr := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, lockKey); lockErr != nil {
		return nil, fmt.Errorf("acquiring advisory lock: %w", lockErr)
	}

	var exists bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM weekly_ads WHERE filename = $1)`,
		ad.Filename,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("checking weekly ad existence: %w", err)
	}
	if exists {
		return nil, fmt.Errorf("%w: %q", ErrAdAlreadyIngested, ad.Filename)
	}

	if err := rotatePeriods(ctx, tx, retailerID); err != nil {
		return nil, err
	}

	wa := &WeeklyAd{}
	err = tx.QueryRow(ctx,
		`INSERT INTO weekly_ads (retailer_id, valid_from, valid_to, date_processed, filename, ad_period)
		 VALUES ($1, $2, $3, $4, $5, 'current')
		 RETURNING id, retailer_id, valid_from, valid_to, date_processed, filename, ad_period, created_at`,
		retailerID, ad.ValidFrom, ad.ValidTo, ad.DateProcessed, ad.Filename,
	).Scan(&wa.ID, &wa.RetailerID, &wa.ValidFrom, &wa.ValidTo,
		&wa.DateProcessed, &wa.Filename, &wa.AdPeriod, &wa.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting weekly ad: %w", err)
	}

	if len(products) > 0 {
		if err := copyProducts(ctx, tx, wa.ID, retailerID, products); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing ingestion: %w", err)
	}

	s.logger.Info("weekly ad ingested",
		"retailer_id", retailerID,
		"filename", ad.Filename,
		"products", len(products))
	return wa, nil
}

// rotatePeriods demotes the retailer's existing ads. Order matters:
// archiving previous before demoting current keeps at most one ad per state.
func rotatePeriods(ctx context.Context, q querier, retailerID int64) error {
	if _, err := q.Exec(ctx,
		`UPDATE weekly_ads SET ad_period = 'archived'
		 WHERE retailer_id = $1 AND ad_period = 'previous'`,
		retailerID,
	); err != nil {
		return fmt.Errorf("archiving previous ads: %w", err)
	}
	if _, err := q.Exec(ctx,
		`UPDATE weekly_ads SET ad_period = 'previous'
		 WHERE retailer_id = $1 AND ad_period = 'current'`,
		retailerID,
	); err != nil {
		return fmt.Errorf("demoting current ad: %w", err)
	}
	return nil
}

// copyProducts bulk-inserts products via COPY.
func copyProducts(ctx context.Context, tx pgx.Tx, weeklyAdID, retailerID int64, products []ProductInput) error {
	rows := make([][]any, len(products))
	for i, p := range products {
		rows[i] = []any{
			weeklyAdID, retailerID, p.Name,
			p.Price, p.OriginalPrice,
			nullIfEmpty(p.Unit), nullIfEmpty(p.Description),
			nullIfEmpty(p.Category), nullIfEmpty(p.PromotionDetails),
			p.PromotionFrom, p.PromotionTo, p.IsFrontpage,
			nullIfEmpty(p.Emoji), nullIfEmpty(p.GenTerms),
		}
	}

	copied, err := tx.CopyFrom(ctx,
		pgx.Identifier{"products"},
		[]string{"weekly_ad_id", "retailer_id", "name",
			"price", "original_price",
			"unit", "description",
			"category", "promotion_details",
			"promotion_from", "promotion_to", "is_frontpage",
			"emoji", "gen_terms"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("copying products: %w", err)
	}
	if copied != int64(len(products)) {
		return fmt.Errorf("copied %d of %d products", copied, len(products))
	}
	return nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// FetchMissingEmbeddings returns up to limit products from current ads that
// have no embedding yet, ordered by id. The predicate is the worker's
// cursor: embedded rows drop out of the result on the next call.
func (s *Store) FetchMissingEmbeddings(ctx context.Context, limit int) ([]*Product, error) {
	if limit <= 0 {
		return []*Product{}, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+productCols+`
		 FROM products p
		 JOIN weekly_ads w ON w.id = p.weekly_ad_id
		 WHERE w.ad_period = 'current' AND p.embedding IS NULL
		 ORDER BY p.id
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("fetching products missing embeddings: %w", err)
	}
	defer rows.Close()

	return scanProducts(rows)
}

// CountMissingEmbeddings returns how many current-ad products still await a
// vector.
func (s *Store) CountMissingEmbeddings(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT count(*)
		 FROM products p
		 JOIN weekly_ads w ON w.id = p.weekly_ad_id
		 WHERE w.ad_period = 'current' AND p.embedding IS NULL`,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting products missing embeddings: %w", err)
	}
	return n, nil
}

// UpdateEmbeddings writes vectors for the given product ids in one
// transaction. ids and vecs are positional pairs. Rows that gained an
// embedding since the fetch are left untouched; the worker only ever writes
// null to vector. Returns the number of rows updated.
func (s *Store) UpdateEmbeddings(ctx context.Context, ids []int64, vecs []pgvector.Vector) (int, error) {
	if len(ids) != len(vecs) {
		return 0, fmt.Errorf("ids and vectors length mismatch: %d != %d", len(ids), len(vecs))
	}
	if len(ids) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Debug("transaction rollback", "error", rbErr)
		}
	}()

	batch := &pgx.Batch{}
	for i, id := range ids {
		batch.Queue(
			`UPDATE products SET embedding = $2 WHERE id = $1 AND embedding IS NULL`,
			id, vecs[i])
	}

	results := tx.SendBatch(ctx, batch)
	updated := 0
	for range ids {
		tag, execErr := results.Exec()
		if execErr != nil {
			_ = results.Close()
			return 0, fmt.Errorf("updating embedding: %w", execErr)
		}
		updated += int(tag.RowsAffected())
	}
	if err := results.Close(); err != nil {
		return 0, fmt.Errorf("closing batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing embeddings: %w", err)
	}
	return updated, nil
}

// SimilaritySearch ranks products of the given ad period by cosine
// similarity against vec. Only products with embeddings participate; rows
// below opts.Threshold are excluded.
func (s *Store) SimilaritySearch(ctx context.Context, vec pgvector.Vector, opts SearchOpts) ([]*SearchHit, error) {
	period, threshold, limit := normalizeOpts(opts)

	rows, err := s.pool.Query(ctx,
		`SELECT `+productCols+`,
		        r.name, w.valid_from, w.valid_to,
		        1 - (p.embedding <=> $1) AS similarity
		 FROM products p
		 JOIN weekly_ads w ON w.id = p.weekly_ad_id
		 JOIN retailers r ON r.id = p.retailer_id
		 WHERE w.ad_period = $2
		   AND p.embedding IS NOT NULL
		   AND 1 - (p.embedding <=> $1) >= $3
		 ORDER BY p.embedding <=> $1
		 LIMIT $4`,
		vec, period, threshold, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	defer rows.Close()

	return scanHits(rows)
}

// TextSearch is the full-text fallback ranking. The score column is a
// ts_rank_cd value clamped to [0, 1] so hits carry a comparable relevance
// in the same shape as SimilaritySearch.
func (s *Store) TextSearch(ctx context.Context, query string, opts SearchOpts) ([]*SearchHit, error) {
	if query == "" {
		return []*SearchHit{}, nil
	}
	period, _, limit := normalizeOpts(opts)

	rows, err := s.pool.Query(ctx,
		`SELECT `+productCols+`,
		        r.name, w.valid_from, w.valid_to,
		        LEAST(1.0, ts_rank_cd(p.fts_vector, plainto_tsquery('english', $1), 1)) AS relevance
		 FROM products p
		 JOIN weekly_ads w ON w.id = p.weekly_ad_id
		 JOIN retailers r ON r.id = p.retailer_id
		 WHERE w.ad_period = $2
		   AND p.fts_vector @@ plainto_tsquery('english', $1)
		 ORDER BY relevance DESC
		 LIMIT $3`,
		query, period, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("full-text search: %w", err)
	}
	defer rows.Close()

	return scanHits(rows)
}

func normalizeOpts(opts SearchOpts) (AdPeriod, float64, int) {
	period := opts.Period
	if !period.Valid() {
		period = PeriodCurrent
	}
	threshold := opts.Threshold
	if threshold < -1 || threshold > 1 {
		threshold = 0.5
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	return period, threshold, limit
}

// scanProduct reads one Product from the standard column set.
func scanProduct(row pgx.Row, p *Product) error {
	return row.Scan(
		&p.ID, &p.WeeklyAdID, &p.RetailerID, &p.Name,
		&p.Price, &p.OriginalPrice,
		&p.Unit, &p.Description,
		&p.Category, &p.PromotionDetails,
		&p.PromotionFrom, &p.PromotionTo, &p.IsFrontpage,
		&p.Emoji, &p.GenTerms,
		&p.HasEmbedding, &p.CreatedAt,
	)
}

// scanProducts reads Product structs from pgx.Rows (standard column set).
func scanProducts(rows pgx.Rows) ([]*Product, error) {
	var products []*Product
	for rows.Next() {
		p := &Product{}
		if err := scanProduct(rows, p); err != nil {
			return nil, fmt.Errorf("scanning product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating products: %w", err)
	}
	return products, nil
}

// scanHits reads SearchHit structs: standard product columns plus retailer
// name, ad window, and a trailing score column.
func scanHits(rows pgx.Rows) ([]*SearchHit, error) {
	var hits []*SearchHit
	for rows.Next() {
		h := &SearchHit{}
		if err := rows.Scan(
			&h.Product.ID, &h.Product.WeeklyAdID, &h.Product.RetailerID, &h.Product.Name,
			&h.Product.Price, &h.Product.OriginalPrice,
			&h.Product.Unit, &h.Product.Description,
			&h.Product.Category, &h.Product.PromotionDetails,
			&h.Product.PromotionFrom, &h.Product.PromotionTo, &h.Product.IsFrontpage,
			&h.Product.Emoji, &h.Product.GenTerms,
			&h.Product.HasEmbedding, &h.Product.CreatedAt,
			&h.RetailerName, &h.ValidFrom, &h.ValidTo,
			&h.Similarity,
		); err != nil {
			return nil, fmt.Errorf("scanning search hit: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating search hits: %w", err)
	}
	return hits, nil
}
