package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// checkpointKey is the fixed ingest_metadata row name holding the highest
// committed ledger signature.
const checkpointKey = "latest_processed_signature"

// Store provides database operations for the service.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store with the given database connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// ActivityRecord is one row of the unified activity feed.
type ActivityRecord struct {
	ActivityIdx     int64
	ActivityTypeIdx int32
	AssetIdx        int64
	Price           *float64
	ActivityDate    time.Time
	Signature       *string // nil for catalog-sourced records
	FromAccount     *string
	ToAccount       *string
}

// InsertActivityParams contains the parameters for inserting one activity.
type InsertActivityParams struct {
	ActivityTypeIdx int32
	AssetIdx        int64
	Price           *float64
	ActivityDate    time.Time
	Signature       *string
	FromAccount     *string
	ToAccount       *string
}

// Asset is the detail record for one tokenized bottle.
type Asset struct {
	AssetIdx    int64
	AssetID     string // ledger mint address
	CatalogIdx  *int64 // catalog's own id, nil for chain-only assets
	Name        string
	Price       *float64
	BottledYear *int32
	Age         *int32
	IsListed    bool
	ListedDate  *time.Time
	AssetJSON   []byte
	AddedDate   time.Time
	LastUpdated time.Time
}

// UpsertAssetParams contains the parameters for inserting or updating an
// asset detail record.
type UpsertAssetParams struct {
	AssetID     string
	CatalogIdx  *int64
	Name        string
	Price       *float64
	BottledYear *int32
	Age         *int32
	IsListed    bool
	ListedDate  *time.Time
	AssetJSON   []byte
}

// GetActivityTypeMap returns the activity type code → idx mapping.
func (s *Store) GetActivityTypeMap(ctx context.Context) (map[string]int32, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT activity_type_code, activity_type_idx
		FROM dim_activity_types`)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity types: %w", err)
	}
	defer rows.Close()

	types := make(map[string]int32)
	for rows.Next() {
		var code string
		var idx int32
		if err := rows.Scan(&code, &idx); err != nil {
			return nil, fmt.Errorf("failed to scan activity type: %w", err)
		}
		types[code] = idx
	}
	return types, rows.Err()
}

// HighestCommittedSignature returns the checkpoint signature, or nil if
// ingestion has never committed a batch.
func (s *Store) HighestCommittedSignature(ctx context.Context) (*string, error) {
	var value pgtype.Text
	err := s.pool.QueryRow(ctx, `
		SELECT value FROM ingest_metadata WHERE name = $1`, checkpointKey).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	return stringPtrFromPgtext(value), nil
}

// SetCheckpoint overwrites the checkpoint signature. Intended for
// operational repair via the CLI, not for the pipeline.
func (s *Store) SetCheckpoint(ctx context.Context, signature string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ingest_metadata (name, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		checkpointKey, signature)
	if err != nil {
		return fmt.Errorf("failed to set checkpoint: %w", err)
	}
	return nil
}

// AdvanceCheckpoint sets the checkpoint to the signature of the most recent
// persisted activity (by activity date) that carries a signature. It is a
// no-op, not an error, when no such activity exists yet.
func (s *Store) AdvanceCheckpoint(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ingest_metadata (name, value, updated_at)
		SELECT $1, signature, now()
		FROM activity_feed
		WHERE signature IS NOT NULL
		ORDER BY activity_date DESC
		LIMIT 1
		ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		checkpointKey)
	if err != nil {
		return fmt.Errorf("failed to advance checkpoint: %w", err)
	}
	return nil
}

// InsertActivityBatch inserts all records in one transaction, all or
// nothing, and returns the generated ids in input order. Empty input
// returns an empty slice without touching the database.
func (s *Store) InsertActivityBatch(ctx context.Context, records []InsertActivityParams) ([]int64, error) {
	if len(records) == 0 {
		return []int64{}, nil
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	ids := make([]int64, 0, len(records))
	for _, record := range records {
		var id int64
		err := tx.QueryRow(ctx, `
			INSERT INTO activity_feed
				(activity_type_idx, asset_idx, price, activity_date, signature, from_account, to_account)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING activity_idx`,
			record.ActivityTypeIdx,
			record.AssetIdx,
			pgfloatFromPtr(record.Price),
			pgtype.Timestamptz{Time: record.ActivityDate, Valid: true},
			pgtextFromStringPtr(record.Signature),
			pgtextFromStringPtr(record.FromAccount),
			pgtextFromStringPtr(record.ToAccount),
		).Scan(&id)
		if err != nil {
			return nil, fmt.Errorf("failed to insert activity (signature=%v): %w", record.Signature, err)
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit activity batch: %w", err)
	}
	return ids, nil
}

// InsertActivity inserts a single activity record and returns its id.
func (s *Store) InsertActivity(ctx context.Context, record InsertActivityParams) (int64, error) {
	ids, err := s.InsertActivityBatch(ctx, []InsertActivityParams{record})
	if err != nil {
		return 0, err
	}
	return ids[0], nil
}

// ExistingSignatures returns which of the given signatures already appear
// in the activity feed.
func (s *Store) ExistingSignatures(ctx context.Context, signatures []string) (map[string]bool, error) {
	if len(signatures) == 0 {
		return map[string]bool{}, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT signature FROM activity_feed WHERE signature = ANY($1)`, signatures)
	if err != nil {
		return nil, fmt.Errorf("failed to query existing signatures: %w", err)
	}
	defer rows.Close()

	existing := make(map[string]bool)
	for rows.Next() {
		var sig string
		if err := rows.Scan(&sig); err != nil {
			return nil, fmt.Errorf("failed to scan signature: %w", err)
		}
		existing[sig] = true
	}
	return existing, rows.Err()
}

// ActivityExists checks for an exact asset/type/price/date match.
func (s *Store) ActivityExists(ctx context.Context, assetIdx int64, activityTypeIdx int32, price float64, date time.Time) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM activity_feed
			WHERE asset_idx = $1
			  AND activity_type_idx = $2
			  AND price = $3
			  AND activity_date = $4
		)`,
		assetIdx, activityTypeIdx, price,
		pgtype.Timestamptz{Time: date, Valid: true},
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check activity existence: %w", err)
	}
	return exists, nil
}

// ActivityExistsWithinThreshold checks whether a record with the same
// asset, type, and price exists within ±threshold of date. Catalog polling
// and on-chain confirmation can disagree on a listing's exact timestamp by
// tens of minutes, so catalog-sourced records dedup with this looser match.
func (s *Store) ActivityExistsWithinThreshold(ctx context.Context, assetIdx int64, activityTypeIdx int32, price float64, date time.Time, threshold time.Duration) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM activity_feed
			WHERE asset_idx = $1
			  AND activity_type_idx = $2
			  AND price = $3
			  AND activity_date >= $4
			  AND activity_date <= $5
		)`,
		assetIdx, activityTypeIdx, price,
		pgtype.Timestamptz{Time: date.Add(-threshold), Valid: true},
		pgtype.Timestamptz{Time: date.Add(threshold), Valid: true},
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check activity existence: %w", err)
	}
	return exists, nil
}

// ListActivities retrieves the most recent activity records.
func (s *Store) ListActivities(ctx context.Context, limit, offset int32) ([]*ActivityRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT activity_idx, activity_type_idx, asset_idx, price, activity_date, signature, from_account, to_account
		FROM activity_feed
		ORDER BY activity_date DESC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list activities: %w", err)
	}
	defer rows.Close()

	var records []*ActivityRecord
	for rows.Next() {
		record, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// GetAssetIdxFresh returns the internal id of an asset whose last-updated
// timestamp is at least freshnessFloor, or nil when no fresh-enough record
// exists.
func (s *Store) GetAssetIdxFresh(ctx context.Context, assetID string, freshnessFloor time.Time) (*int64, error) {
	var idx int64
	err := s.pool.QueryRow(ctx, `
		SELECT asset_idx FROM assets
		WHERE asset_id = $1 AND last_updated >= $2
		LIMIT 1`,
		assetID,
		pgtype.Timestamptz{Time: freshnessFloor, Valid: true},
	).Scan(&idx)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up asset %s: %w", assetID, err)
	}
	return &idx, nil
}

// GetAssetByID retrieves an asset detail record by its ledger address.
func (s *Store) GetAssetByID(ctx context.Context, assetID string) (*Asset, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT asset_idx, asset_id, catalog_idx, name, price, bottled_year, age,
		       is_listed, listed_date, asset_json, added_date, last_updated
		FROM assets
		WHERE asset_id = $1
		LIMIT 1`, assetID)
	return scanAsset(row)
}

// UpsertAsset inserts a new asset or updates an existing one when any
// field changed. Returns the stored record plus isNew/isUpdated flags.
func (s *Store) UpsertAsset(ctx context.Context, params UpsertAssetParams) (*Asset, bool, bool, error) {
	existing, err := s.GetAssetByID(ctx, params.AssetID)
	if err != nil {
		return nil, false, false, err
	}

	if existing == nil {
		row := s.pool.QueryRow(ctx, `
			INSERT INTO assets
				(asset_id, catalog_idx, name, price, bottled_year, age, is_listed, listed_date, asset_json)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING asset_idx, asset_id, catalog_idx, name, price, bottled_year, age,
			          is_listed, listed_date, asset_json, added_date, last_updated`,
			params.AssetID,
			pgint8FromPtr(params.CatalogIdx),
			params.Name,
			pgfloatFromPtr(params.Price),
			pgint4FromPtr(params.BottledYear),
			pgint4FromPtr(params.Age),
			params.IsListed,
			pgtimestamptzFromPtr(params.ListedDate),
			params.AssetJSON,
		)
		created, err := scanAsset(row)
		if err != nil {
			return nil, false, false, fmt.Errorf("failed to insert asset %s: %w", params.AssetID, err)
		}
		return created, true, true, nil
	}

	if !assetChanged(existing, params) {
		return existing, false, false, nil
	}

	row := s.pool.QueryRow(ctx, `
		UPDATE assets
		SET catalog_idx = $2, name = $3, price = $4, bottled_year = $5, age = $6,
		    is_listed = $7, listed_date = $8, asset_json = $9, last_updated = now()
		WHERE asset_idx = $1
		RETURNING asset_idx, asset_id, catalog_idx, name, price, bottled_year, age,
		          is_listed, listed_date, asset_json, added_date, last_updated`,
		existing.AssetIdx,
		pgint8FromPtr(params.CatalogIdx),
		params.Name,
		pgfloatFromPtr(params.Price),
		pgint4FromPtr(params.BottledYear),
		pgint4FromPtr(params.Age),
		params.IsListed,
		pgtimestamptzFromPtr(params.ListedDate),
		params.AssetJSON,
	)
	updated, err := scanAsset(row)
	if err != nil {
		return nil, false, false, fmt.Errorf("failed to update asset %s: %w", params.AssetID, err)
	}
	return updated, false, true, nil
}

// TouchAsset bumps an asset's last_updated timestamp without changing its
// detail fields. Used when resolution confirmed the asset is current.
func (s *Store) TouchAsset(ctx context.Context, assetIdx int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE assets SET last_updated = now() WHERE asset_idx = $1`, assetIdx)
	if err != nil {
		return fmt.Errorf("failed to touch asset %d: %w", assetIdx, err)
	}
	return nil
}

// InsertAssetJSON appends a metadata snapshot for an asset and mirrors the
// metadata onto the asset row.
func (s *Store) InsertAssetJSON(ctx context.Context, assetIdx int64, assetJSON, metadataJSON []byte) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO asset_json_feed (asset_idx, asset_json, metadata_json)
		VALUES ($1, $2, $3)`, assetIdx, assetJSON, metadataJSON)
	if err != nil {
		return fmt.Errorf("failed to insert asset json feed: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE assets SET metadata_json = $2 WHERE asset_idx = $1`, assetIdx, metadataJSON)
	if err != nil {
		return fmt.Errorf("failed to update asset metadata: %w", err)
	}

	return tx.Commit(ctx)
}

// assetChanged reports whether an upsert would modify the stored record.
// added_date, asset_id, and metadata_json never participate in the
// comparison.
func assetChanged(existing *Asset, params UpsertAssetParams) bool {
	if strings.TrimSpace(existing.Name) != strings.TrimSpace(params.Name) {
		return true
	}
	if !int64PtrEqual(existing.CatalogIdx, params.CatalogIdx) {
		return true
	}
	if !floatPtrEqual(existing.Price, params.Price) {
		return true
	}
	if !int32PtrEqual(existing.BottledYear, params.BottledYear) {
		return true
	}
	if !int32PtrEqual(existing.Age, params.Age) {
		return true
	}
	if existing.IsListed != params.IsListed {
		return true
	}
	if !timePtrEqual(existing.ListedDate, params.ListedDate) {
		return true
	}
	return false
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanActivity(row rowScanner) (*ActivityRecord, error) {
	var record ActivityRecord
	var price pgtype.Float8
	var date pgtype.Timestamptz
	var signature, fromAccount, toAccount pgtype.Text

	if err := row.Scan(
		&record.ActivityIdx, &record.ActivityTypeIdx, &record.AssetIdx,
		&price, &date, &signature, &fromAccount, &toAccount,
	); err != nil {
		return nil, fmt.Errorf("failed to scan activity: %w", err)
	}

	record.Price = floatPtrFromPgfloat(price)
	record.ActivityDate = date.Time
	record.Signature = stringPtrFromPgtext(signature)
	record.FromAccount = stringPtrFromPgtext(fromAccount)
	record.ToAccount = stringPtrFromPgtext(toAccount)
	return &record, nil
}

func scanAsset(row rowScanner) (*Asset, error) {
	var asset Asset
	var catalogIdx pgtype.Int8
	var price pgtype.Float8
	var bottledYear, age pgtype.Int4
	var listedDate pgtype.Timestamptz
	var addedDate, lastUpdated pgtype.Timestamptz

	err := row.Scan(
		&asset.AssetIdx, &asset.AssetID, &catalogIdx, &asset.Name, &price,
		&bottledYear, &age, &asset.IsListed, &listedDate, &asset.AssetJSON,
		&addedDate, &lastUpdated,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan asset: %w", err)
	}

	asset.AssetID = strings.TrimSpace(asset.AssetID) // CHAR(44) pads short ids
	asset.CatalogIdx = int64PtrFromPgint8(catalogIdx)
	asset.Price = floatPtrFromPgfloat(price)
	asset.BottledYear = int32PtrFromPgint4(bottledYear)
	asset.Age = int32PtrFromPgint4(age)
	asset.ListedDate = timePtrFromPgTimestamptz(listedDate)
	asset.AddedDate = addedDate.Time
	asset.LastUpdated = lastUpdated.Time
	return &asset, nil
}

// Helper functions to convert between pgx types and domain types

func pgtextFromStringPtr(s *string) pgtype.Text {
	if s == nil {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: *s, Valid: true}
}

func stringPtrFromPgtext(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	return &t.String
}

func pgfloatFromPtr(f *float64) pgtype.Float8 {
	if f == nil {
		return pgtype.Float8{Valid: false}
	}
	return pgtype.Float8{Float64: *f, Valid: true}
}

func floatPtrFromPgfloat(f pgtype.Float8) *float64 {
	if !f.Valid {
		return nil
	}
	return &f.Float64
}

func pgint4FromPtr(i *int32) pgtype.Int4 {
	if i == nil {
		return pgtype.Int4{Valid: false}
	}
	return pgtype.Int4{Int32: *i, Valid: true}
}

func int32PtrFromPgint4(i pgtype.Int4) *int32 {
	if !i.Valid {
		return nil
	}
	return &i.Int32
}

func pgint8FromPtr(i *int64) pgtype.Int8 {
	if i == nil {
		return pgtype.Int8{Valid: false}
	}
	return pgtype.Int8{Int64: *i, Valid: true}
}

func int64PtrFromPgint8(i pgtype.Int8) *int64 {
	if !i.Valid {
		return nil
	}
	return &i.Int64
}

func pgtimestamptzFromPtr(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{Valid: false}
	}
	return pgtype.Timestamptz{Time: *t, Valid: true}
}

func timePtrFromPgTimestamptz(t pgtype.Timestamptz) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}

func int64PtrEqual(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func int32PtrEqual(a, b *int32) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
