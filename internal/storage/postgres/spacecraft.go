package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrSpacecraftNotFound is returned when a fleet row lookup yields no results.
var ErrSpacecraftNotFound = errors.New("spacecraft row not found")

// Spacecraft is one commander's holding of one ship type.
type Spacecraft struct {
	ID               int64
	CommanderID      int64
	SpacecraftTypeID int64
	Count            int64
	Unlocked         bool
}

// SpacecraftRepository provides fleet persistence operations.
type SpacecraftRepository struct {
	db *pgxpool.Pool
}

// NewSpacecraftRepository creates a SpacecraftRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewSpacecraftRepository(db *pgxpool.Pool) *SpacecraftRepository {
	return &SpacecraftRepository{db: db}
}

// Get retrieves one fleet row.
//
// Postcondition: Returns the row or ErrSpacecraftNotFound.
func (r *SpacecraftRepository) Get(ctx context.Context, commanderID, typeID int64) (*Spacecraft, error) {
	var s Spacecraft
	err := r.db.QueryRow(ctx, `
		SELECT id, commander_id, spacecraft_type_id, count, unlocked
		FROM spacecrafts WHERE commander_id = $1 AND spacecraft_type_id = $2`,
		commanderID, typeID,
	).Scan(&s.ID, &s.CommanderID, &s.SpacecraftTypeID, &s.Count, &s.Unlocked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSpacecraftNotFound
		}
		return nil, fmt.Errorf("querying spacecraft row: %w", err)
	}
	return &s, nil
}

// OwnedCounts returns the commander's unlocked ship counts keyed by type ID.
func (r *SpacecraftRepository) OwnedCounts(ctx context.Context, commanderID int64) (map[int64]int64, error) {
	rows, err := r.db.Query(ctx, `
		SELECT spacecraft_type_id, count FROM spacecrafts
		WHERE commander_id = $1 AND unlocked`,
		commanderID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying owned counts: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]int64)
	for rows.Next() {
		var typeID, count int64
		if err := rows.Scan(&typeID, &count); err != nil {
			return nil, fmt.Errorf("scanning owned count: %w", err)
		}
		out[typeID] = count
	}
	return out, rows.Err()
}

// AvailableUnits returns the commander's unlocked ship counts minus units
// currently reserved by active queue entries. Types with nothing available
// are omitted.
func (r *SpacecraftRepository) AvailableUnits(ctx context.Context, commanderID int64) (map[int64]int64, error) {
	rows, err := r.db.Query(ctx, `
		SELECT s.spacecraft_type_id, s.count - COALESCE(l.locked, 0)
		FROM spacecrafts s
		LEFT JOIN (
			SELECT spacecraft_type_id, SUM(amount) AS locked
			FROM resource_locks
			WHERE commander_id = $1
			GROUP BY spacecraft_type_id
		) l ON l.spacecraft_type_id = s.spacecraft_type_id
		WHERE s.commander_id = $1 AND s.unlocked`,
		commanderID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying available units: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]int64)
	for rows.Next() {
		var typeID, count int64
		if err := rows.Scan(&typeID, &count); err != nil {
			return nil, fmt.Errorf("scanning available count: %w", err)
		}
		if count > 0 {
			out[typeID] = count
		}
	}
	return out, rows.Err()
}

// AddUnits increments a fleet row's count by quantity. Used by production
// completion; the row must already exist and be unlocked.
//
// Postcondition: Returns ErrSpacecraftNotFound if no row was updated.
func (r *SpacecraftRepository) AddUnits(ctx context.Context, commanderID, typeID, quantity int64) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE spacecrafts SET count = count + $3
		WHERE commander_id = $1 AND spacecraft_type_id = $2 AND unlocked`,
		commanderID, typeID, quantity,
	)
	if err != nil {
		return fmt.Errorf("adding spacecraft units: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSpacecraftNotFound
	}
	return nil
}

// ApplyLosses decrements fleet counts by the given per-type losses in one
// transaction, flooring at zero.
func (r *SpacecraftRepository) ApplyLosses(ctx context.Context, commanderID int64, losses map[int64]int64) error {
	if len(losses) == 0 {
		return nil
	}
	typeIDs := make([]int64, 0, len(losses))
	for typeID := range losses {
		typeIDs = append(typeIDs, typeID)
	}
	sort.Slice(typeIDs, func(i, j int) bool { return typeIDs[i] < typeIDs[j] })

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning loss transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, typeID := range typeIDs {
		lost := losses[typeID]
		if lost <= 0 {
			continue
		}
		if _, err := tx.Exec(ctx, `
			UPDATE spacecrafts SET count = GREATEST(count - $3, 0)
			WHERE commander_id = $1 AND spacecraft_type_id = $2`,
			commanderID, typeID, lost,
		); err != nil {
			return fmt.Errorf("applying losses for type %d: %w", typeID, err)
		}
	}
	return tx.Commit(ctx)
}

// Unlock makes a ship type available to the commander, creating the fleet
// row with zero units when it does not exist yet. Used by research
// completion.
func (r *SpacecraftRepository) Unlock(ctx context.Context, commanderID, typeID int64) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO spacecrafts (commander_id, spacecraft_type_id, count, unlocked)
		VALUES ($1, $2, 0, TRUE)
		ON CONFLICT (commander_id, spacecraft_type_id)
		DO UPDATE SET unlocked = TRUE`,
		commanderID, typeID,
	)
	if err != nil {
		return fmt.Errorf("unlocking spacecraft type: %w", err)
	}
	return nil
}

// Grant sets up a fleet row with the given count, unlocked. Used when
// seeding new commanders with their starting fleet.
func (r *SpacecraftRepository) Grant(ctx context.Context, commanderID, typeID, count int64) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO spacecrafts (commander_id, spacecraft_type_id, count, unlocked)
		VALUES ($1, $2, $3, TRUE)
		ON CONFLICT (commander_id, spacecraft_type_id)
		DO UPDATE SET count = spacecrafts.count + EXCLUDED.count, unlocked = TRUE`,
		commanderID, typeID, count,
	)
	if err != nil {
		return fmt.Errorf("granting spacecraft units: %w", err)
	}
	return nil
}
