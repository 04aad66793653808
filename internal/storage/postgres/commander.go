package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

// ErrCommanderNotFound is returned when a commander lookup yields no results.
var ErrCommanderNotFound = errors.New("commander not found")

// ErrCommanderExists is returned when creating a commander with a name
// already in use.
var ErrCommanderExists = errors.New("commander name already taken")

// Commander is a player account with its stockpiles and scores.
type Commander struct {
	ID             int64
	Name           string
	Crystal        int64
	Metal          int64
	Hydrogen       int64
	Energy         int64
	ResearchPoints int64
	Influence      int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Resources is a bundle of the four stockpiled resource amounts.
type Resources struct {
	Crystal  int64
	Metal    int64
	Hydrogen int64
	Energy   int64
}

// ResourcesFromMap converts a resource-name map into a Resources bundle.
// Unknown names are rejected so typos never silently drop loot.
func ResourcesFromMap(m map[string]int64) (Resources, error) {
	var r Resources
	for name, amount := range m {
		switch name {
		case "crystal":
			r.Crystal = amount
		case "metal":
			r.Metal = amount
		case "hydrogen":
			r.Hydrogen = amount
		case "energy":
			r.Energy = amount
		default:
			return Resources{}, fmt.Errorf("unknown resource %q", name)
		}
	}
	return r, nil
}

// Map returns the bundle as a resource-name map, omitting zero amounts.
func (r Resources) Map() map[string]int64 {
	out := make(map[string]int64, 4)
	if r.Crystal != 0 {
		out["crystal"] = r.Crystal
	}
	if r.Metal != 0 {
		out["metal"] = r.Metal
	}
	if r.Hydrogen != 0 {
		out["hydrogen"] = r.Hydrogen
	}
	if r.Energy != 0 {
		out["energy"] = r.Energy
	}
	return out
}

// Total returns the summed amount across all resource kinds.
func (r Resources) Total() int64 {
	return r.Crystal + r.Metal + r.Hydrogen + r.Energy
}

// CommanderRepository provides commander persistence operations.
type CommanderRepository struct {
	db *pgxpool.Pool
}

// NewCommanderRepository creates a CommanderRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewCommanderRepository(db *pgxpool.Pool) *CommanderRepository {
	return &CommanderRepository{db: db}
}

const commanderColumns = `id, name, crystal, metal, hydrogen, energy, research_points, influence, created_at, updated_at`

func scanCommander(row pgx.Row) (*Commander, error) {
	var c Commander
	err := row.Scan(
		&c.ID, &c.Name, &c.Crystal, &c.Metal, &c.Hydrogen, &c.Energy,
		&c.ResearchPoints, &c.Influence, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Create inserts a new commander with a bcrypt password hash and starting
// stockpiles.
//
// Precondition: name and password must be non-empty.
// Postcondition: Returns the created commander or ErrCommanderExists.
func (r *CommanderRepository) Create(ctx context.Context, name, password string, start Resources) (*Commander, error) {
	if name == "" || password == "" {
		return nil, errors.New("name and password must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	c, err := scanCommander(r.db.QueryRow(ctx, `
		INSERT INTO commanders (name, password_hash, crystal, metal, hydrogen, energy)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+commanderColumns,
		name, string(hash), start.Crystal, start.Metal, start.Hydrogen, start.Energy,
	))
	if err != nil {
		if isDuplicateKeyError(err) {
			return nil, ErrCommanderExists
		}
		return nil, fmt.Errorf("inserting commander: %w", err)
	}
	return c, nil
}

// GetByID retrieves a commander by its primary key.
//
// Postcondition: Returns the Commander or ErrCommanderNotFound.
func (r *CommanderRepository) GetByID(ctx context.Context, id int64) (*Commander, error) {
	c, err := scanCommander(r.db.QueryRow(ctx, `
		SELECT `+commanderColumns+` FROM commanders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCommanderNotFound
		}
		return nil, fmt.Errorf("querying commander: %w", err)
	}
	return c, nil
}

// AddResources credits (or with negative amounts debits) a commander's
// stockpiles.
//
// Postcondition: Returns ErrCommanderNotFound if no row was updated.
func (r *CommanderRepository) AddResources(ctx context.Context, id int64, delta Resources) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE commanders
		SET crystal = crystal + $2, metal = metal + $3,
		    hydrogen = hydrogen + $4, energy = energy + $5,
		    updated_at = NOW()
		WHERE id = $1`,
		id, delta.Crystal, delta.Metal, delta.Hydrogen, delta.Energy,
	)
	if err != nil {
		return fmt.Errorf("adding resources: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCommanderNotFound
	}
	return nil
}

// CreditResources credits a resource-name map to a commander's stockpiles.
// Unknown resource names are rejected before anything is written.
func (r *CommanderRepository) CreditResources(ctx context.Context, id int64, amounts map[string]int64) error {
	delta, err := ResourcesFromMap(amounts)
	if err != nil {
		return fmt.Errorf("crediting resources: %w", err)
	}
	return r.AddResources(ctx, id, delta)
}

// Plunder moves resources from a defeated commander to the victor. Each
// resource yields at most half of the defender's stock, drained in fixed
// order (crystal, metal, hydrogen, energy) until capacity is exhausted.
// Returns the amounts actually moved as a resource-name map.
//
// Postcondition: sum of moved amounts <= capacity; the defender keeps at
// least half of each stockpile as observed when the plunder started.
func (r *CommanderRepository) Plunder(ctx context.Context, fromID, toID, capacity int64) (map[string]int64, error) {
	if capacity <= 0 {
		return map[string]int64{}, nil
	}
	victim, err := r.GetByID(ctx, fromID)
	if err != nil {
		return nil, err
	}

	var want Resources
	left := capacity
	for _, take := range []struct {
		have int64
		dst  *int64
	}{
		{victim.Crystal, &want.Crystal},
		{victim.Metal, &want.Metal},
		{victim.Hydrogen, &want.Hydrogen},
		{victim.Energy, &want.Energy},
	} {
		amount := take.have / 2
		if amount > left {
			amount = left
		}
		*take.dst = amount
		left -= amount
		if left == 0 {
			break
		}
	}

	moved, err := r.TransferResources(ctx, fromID, toID, want)
	if err != nil {
		return nil, err
	}
	return moved.Map(), nil
}

// TransferResources moves up to want resources from one commander to
// another, clamped to what the source actually holds at transfer time.
// Returns the amounts moved. Used for combat plunder.
//
// Postcondition: Both balance changes commit atomically; no stockpile goes
// negative.
func (r *CommanderRepository) TransferResources(ctx context.Context, fromID, toID int64, want Resources) (Resources, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return Resources{}, fmt.Errorf("beginning transfer transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Row lock order by ID keeps concurrent transfers deadlock-free.
	first, second := fromID, toID
	if second < first {
		first, second = second, first
	}
	for _, id := range []int64{first, second} {
		if _, err := tx.Exec(ctx, `SELECT 1 FROM commanders WHERE id = $1 FOR UPDATE`, id); err != nil {
			return Resources{}, fmt.Errorf("locking commander %d: %w", id, err)
		}
	}

	var have Resources
	err = tx.QueryRow(ctx, `
		SELECT crystal, metal, hydrogen, energy FROM commanders WHERE id = $1`,
		fromID,
	).Scan(&have.Crystal, &have.Metal, &have.Hydrogen, &have.Energy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Resources{}, ErrCommanderNotFound
		}
		return Resources{}, fmt.Errorf("reading source stockpiles: %w", err)
	}

	moved := Resources{
		Crystal:  clampTransfer(want.Crystal, have.Crystal),
		Metal:    clampTransfer(want.Metal, have.Metal),
		Hydrogen: clampTransfer(want.Hydrogen, have.Hydrogen),
		Energy:   clampTransfer(want.Energy, have.Energy),
	}

	tag, err := tx.Exec(ctx, `
		UPDATE commanders
		SET crystal = crystal - $2, metal = metal - $3,
		    hydrogen = hydrogen - $4, energy = energy - $5,
		    updated_at = NOW()
		WHERE id = $1`,
		fromID, moved.Crystal, moved.Metal, moved.Hydrogen, moved.Energy,
	)
	if err != nil {
		return Resources{}, fmt.Errorf("debiting source: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return Resources{}, ErrCommanderNotFound
	}

	tag, err = tx.Exec(ctx, `
		UPDATE commanders
		SET crystal = crystal + $2, metal = metal + $3,
		    hydrogen = hydrogen + $4, energy = energy + $5,
		    updated_at = NOW()
		WHERE id = $1`,
		toID, moved.Crystal, moved.Metal, moved.Hydrogen, moved.Energy,
	)
	if err != nil {
		return Resources{}, fmt.Errorf("crediting destination: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return Resources{}, ErrCommanderNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return Resources{}, fmt.Errorf("committing transfer: %w", err)
	}
	return moved, nil
}

func clampTransfer(want, have int64) int64 {
	if want < 0 {
		return 0
	}
	if want > have {
		return have
	}
	return want
}

// AdjustInfluence applies a signed influence delta.
//
// Postcondition: Returns ErrCommanderNotFound if no row was updated.
func (r *CommanderRepository) AdjustInfluence(ctx context.Context, id, delta int64) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE commanders SET influence = influence + $2, updated_at = NOW()
		WHERE id = $1`,
		id, delta,
	)
	if err != nil {
		return fmt.Errorf("adjusting influence: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCommanderNotFound
	}
	return nil
}

// AddResearchPoints credits research points, e.g. from mission rewards.
func (r *CommanderRepository) AddResearchPoints(ctx context.Context, id, points int64) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE commanders SET research_points = research_points + $2, updated_at = NOW()
		WHERE id = $1`,
		id, points,
	)
	if err != nil {
		return fmt.Errorf("adding research points: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCommanderNotFound
	}
	return nil
}
