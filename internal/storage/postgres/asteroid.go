package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrAsteroidNotFound is returned when an asteroid lookup yields no results.
var ErrAsteroidNotFound = errors.New("asteroid not found")

// Asteroid is a mineable body in a world region.
type Asteroid struct {
	ID       int64
	Name     string
	RegionID int64
	// Resources maps resource name to the remaining amount.
	Resources map[string]int64
}

// AsteroidRepository provides asteroid persistence operations.
type AsteroidRepository struct {
	db *pgxpool.Pool
}

// NewAsteroidRepository creates an AsteroidRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewAsteroidRepository(db *pgxpool.Pool) *AsteroidRepository {
	return &AsteroidRepository{db: db}
}

func scanAsteroid(row pgx.Row) (*Asteroid, error) {
	var a Asteroid
	var resources []byte
	if err := row.Scan(&a.ID, &a.Name, &a.RegionID, &resources); err != nil {
		return nil, err
	}
	a.Resources = make(map[string]int64)
	if len(resources) > 0 {
		if err := json.Unmarshal(resources, &a.Resources); err != nil {
			return nil, fmt.Errorf("decoding asteroid resources: %w", err)
		}
	}
	return &a, nil
}

// GetByID retrieves an asteroid by its primary key.
//
// Postcondition: Returns the Asteroid or ErrAsteroidNotFound.
func (r *AsteroidRepository) GetByID(ctx context.Context, id int64) (*Asteroid, error) {
	a, err := scanAsteroid(r.db.QueryRow(ctx, `
		SELECT id, name, region_id, resources FROM asteroids WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAsteroidNotFound
		}
		return nil, fmt.Errorf("querying asteroid: %w", err)
	}
	return a, nil
}

// Create inserts a new asteroid.
func (r *AsteroidRepository) Create(ctx context.Context, name string, regionID int64, resources map[string]int64) (*Asteroid, error) {
	encoded, err := json.Marshal(resources)
	if err != nil {
		return nil, fmt.Errorf("encoding asteroid resources: %w", err)
	}
	a, err := scanAsteroid(r.db.QueryRow(ctx, `
		INSERT INTO asteroids (name, region_id, resources)
		VALUES ($1, $2, $3)
		RETURNING id, name, region_id, resources`,
		name, regionID, encoded,
	))
	if err != nil {
		return nil, fmt.Errorf("inserting asteroid: %w", err)
	}
	return a, nil
}

// Resources returns an asteroid's remaining resource map.
func (r *AsteroidRepository) Resources(ctx context.Context, id int64) (map[string]int64, error) {
	a, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return a.Resources, nil
}

// SetResources overwrites the asteroid's remaining resource amounts.
//
// Postcondition: Returns ErrAsteroidNotFound if no row was updated.
func (r *AsteroidRepository) SetResources(ctx context.Context, id int64, resources map[string]int64) error {
	encoded, err := json.Marshal(resources)
	if err != nil {
		return fmt.Errorf("encoding asteroid resources: %w", err)
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE asteroids SET resources = $2 WHERE id = $1`,
		id, encoded,
	)
	if err != nil {
		return fmt.Errorf("updating asteroid resources: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAsteroidNotFound
	}
	return nil
}

// Delete removes a depleted asteroid from the active set.
//
// Postcondition: Returns ErrAsteroidNotFound if no row was deleted.
func (r *AsteroidRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM asteroids WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting asteroid: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAsteroidNotFound
	}
	return nil
}
