package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrBuildingNotFound is returned when a building lookup yields no results.
var ErrBuildingNotFound = errors.New("building not found")

// Building is one structure on a commander's station.
type Building struct {
	ID          int64
	CommanderID int64
	Kind        string
	Level       int
	// Effects holds the building's named bonuses at its current level.
	Effects map[string]int64
}

// BuildingRepository provides building persistence operations.
type BuildingRepository struct {
	db *pgxpool.Pool
}

// NewBuildingRepository creates a BuildingRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewBuildingRepository(db *pgxpool.Pool) *BuildingRepository {
	return &BuildingRepository{db: db}
}

func scanBuilding(row pgx.Row) (*Building, error) {
	var b Building
	var effects []byte
	if err := row.Scan(&b.ID, &b.CommanderID, &b.Kind, &b.Level, &effects); err != nil {
		return nil, err
	}
	if len(effects) > 0 {
		if err := json.Unmarshal(effects, &b.Effects); err != nil {
			return nil, fmt.Errorf("decoding building effects: %w", err)
		}
	}
	return &b, nil
}

// GetByID retrieves a building by its primary key.
//
// Postcondition: Returns the Building or ErrBuildingNotFound.
func (r *BuildingRepository) GetByID(ctx context.Context, id int64) (*Building, error) {
	b, err := scanBuilding(r.db.QueryRow(ctx, `
		SELECT id, commander_id, kind, level, effects FROM buildings WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBuildingNotFound
		}
		return nil, fmt.Errorf("querying building: %w", err)
	}
	return b, nil
}

// Create inserts a building at the given level.
func (r *BuildingRepository) Create(ctx context.Context, commanderID int64, kind string, level int, effects map[string]int64) (*Building, error) {
	encoded, err := json.Marshal(effects)
	if err != nil {
		return nil, fmt.Errorf("encoding building effects: %w", err)
	}
	b, err := scanBuilding(r.db.QueryRow(ctx, `
		INSERT INTO buildings (commander_id, kind, level, effects)
		VALUES ($1, $2, $3, $4)
		RETURNING id, commander_id, kind, level, effects`,
		commanderID, kind, level, encoded,
	))
	if err != nil {
		return nil, fmt.Errorf("inserting building: %w", err)
	}
	return b, nil
}

// ApplyUpgrade sets the building's level and effects to the pre-computed
// values carried in the upgrade action's details.
//
// Postcondition: Returns ErrBuildingNotFound if no row was updated.
func (r *BuildingRepository) ApplyUpgrade(ctx context.Context, id int64, nextLevel int, effects map[string]int64) error {
	encoded, err := json.Marshal(effects)
	if err != nil {
		return fmt.Errorf("encoding building effects: %w", err)
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE buildings SET level = $2, effects = $3 WHERE id = $1`,
		id, nextLevel, encoded,
	)
	if err != nil {
		return fmt.Errorf("applying building upgrade: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBuildingNotFound
	}
	return nil
}
