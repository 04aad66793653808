package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/momoathome/project-browsergame-sub001/internal/game/action"
)

// ErrEntryNotFound is returned when a queue entry lookup yields no results.
var ErrEntryNotFound = errors.New("action queue entry not found")

// ErrInsufficientUnits is returned when an enqueue cannot reserve the
// requested fleet units.
var ErrInsufficientUnits = errors.New("insufficient unlocked spacecraft units")

// ErrInsufficientResource is returned when an enqueue cannot reserve the
// required research points.
var ErrInsufficientResource = errors.New("insufficient research points")

// ErrInvalidState is returned when an operation is attempted on an entry
// whose status forbids it.
var ErrInvalidState = errors.New("entry status forbids this operation")

// ErrNotOwner is returned when a commander tries to cancel another
// commander's entry.
var ErrNotOwner = errors.New("entry belongs to another commander")

// ErrAttackInFlight is returned when a combat enqueue targets a defender the
// attacker already has an unresolved attack against.
var ErrAttackInFlight = errors.New("an attack against this target is already in flight")

// ActionQueueRepository persists deferred actions, their resource locks and
// the archive of terminal entries.
//
// Invariant: a lock row exists only while its owning entry is active; lock
// creation and release always share the entry's transaction.
type ActionQueueRepository struct {
	db *pgxpool.Pool
}

// NewActionQueueRepository creates an ActionQueueRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewActionQueueRepository(db *pgxpool.Pool) *ActionQueueRepository {
	return &ActionQueueRepository{db: db}
}

const entryColumns = `id, commander_id, action_type, target_id, start_time, end_time, status, attempts, details`

func scanEntry(row pgx.Row) (*action.Entry, error) {
	var e action.Entry
	err := row.Scan(
		&e.ID, &e.CommanderID, &e.Type, &e.TargetID,
		&e.StartTime, &e.EndTime, &e.Status, &e.Attempts, &e.Details,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Enqueue validates the details payload, reserves any fleet units or research
// points the action consumes, and inserts the entry — all in one transaction.
// The entry starts in_progress with start=now and end=now+duration.
//
// Postcondition: Returns the new entry ID, or ErrInvalidDetails /
// ErrInsufficientUnits / ErrInsufficientResource / ErrAttackInFlight without
// having written anything.
func (r *ActionQueueRepository) Enqueue(
	ctx context.Context,
	commanderID int64,
	t action.Type,
	targetID int64,
	duration time.Duration,
	details json.RawMessage,
) (int64, error) {
	if err := action.ValidateDetails(t, details); err != nil {
		return 0, err
	}
	if duration < 0 {
		return 0, fmt.Errorf("%w: negative duration", action.ErrInvalidDetails)
	}
	units, err := action.LockedUnits(t, details)
	if err != nil {
		return 0, err
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("beginning enqueue transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if t == action.TypeResearch {
		d, err := action.DecodeResearch(details)
		if err != nil {
			return 0, err
		}
		tag, err := tx.Exec(ctx, `
			UPDATE commanders SET research_points = research_points - $2, updated_at = NOW()
			WHERE id = $1 AND research_points >= $2`,
			commanderID, d.Points,
		)
		if err != nil {
			return 0, fmt.Errorf("reserving research points: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return 0, ErrInsufficientResource
		}
	}

	now := time.Now().UTC()
	var entryID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO action_queue
			(commander_id, action_type, target_id, start_time, end_time, status, attempts, details)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7)
		RETURNING id`,
		commanderID, t, targetID, now, now.Add(duration), action.StatusInProgress, details,
	).Scan(&entryID)
	if err != nil {
		if isDuplicateKeyError(err) {
			return 0, ErrAttackInFlight
		}
		return 0, fmt.Errorf("inserting queue entry: %w", err)
	}

	if err := r.reserveUnits(ctx, tx, entryID, commanderID, units); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing enqueue: %w", err)
	}
	return entryID, nil
}

// reserveUnits verifies availability and inserts lock rows inside tx.
// Availability per type is owned count minus the sum of active locks.
func (r *ActionQueueRepository) reserveUnits(
	ctx context.Context,
	tx pgx.Tx,
	entryID, commanderID int64,
	units map[int64]int64,
) error {
	typeIDs := make([]int64, 0, len(units))
	for typeID := range units {
		typeIDs = append(typeIDs, typeID)
	}
	// Deterministic lock order avoids deadlocks between concurrent enqueues.
	sort.Slice(typeIDs, func(i, j int) bool { return typeIDs[i] < typeIDs[j] })

	for _, typeID := range typeIDs {
		amount := units[typeID]

		var owned int64
		err := tx.QueryRow(ctx, `
			SELECT count FROM spacecrafts
			WHERE commander_id = $1 AND spacecraft_type_id = $2 AND unlocked
			FOR UPDATE`,
			commanderID, typeID,
		).Scan(&owned)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: spacecraft type %d", ErrInsufficientUnits, typeID)
			}
			return fmt.Errorf("reading spacecraft count: %w", err)
		}

		var locked int64
		err = tx.QueryRow(ctx, `
			SELECT COALESCE(SUM(amount), 0) FROM resource_locks
			WHERE commander_id = $1 AND spacecraft_type_id = $2`,
			commanderID, typeID,
		).Scan(&locked)
		if err != nil {
			return fmt.Errorf("summing active locks: %w", err)
		}

		if owned-locked < amount {
			return fmt.Errorf("%w: spacecraft type %d has %d available, want %d",
				ErrInsufficientUnits, typeID, owned-locked, amount)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO resource_locks (action_queue_id, commander_id, spacecraft_type_id, amount)
			VALUES ($1, $2, $3, $4)`,
			entryID, commanderID, typeID, amount,
		)
		if err != nil {
			return fmt.Errorf("inserting resource lock: %w", err)
		}
	}
	return nil
}

// DueEntries returns in-progress entries whose end time has passed, oldest
// first, bounded by limit.
func (r *ActionQueueRepository) DueEntries(ctx context.Context, now time.Time, limit int) ([]*action.Entry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+entryColumns+` FROM action_queue
		WHERE status = $1 AND end_time <= $2
		ORDER BY end_time ASC
		LIMIT $3`,
		action.StatusInProgress, now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying due entries: %w", err)
	}
	defer rows.Close()

	entries := make([]*action.Entry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning due entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Claim transitions the given entries from in_progress to processing and
// returns the IDs actually claimed. Entries already claimed by a concurrent
// worker are simply absent from the result; losing a claim race is not an
// error.
//
// Postcondition: every returned ID was atomically moved to processing by
// this call and by no other.
func (r *ActionQueueRepository) Claim(ctx context.Context, ids []int64, workerID string) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx, `
		UPDATE action_queue
		SET status = $1, claimed_at = NOW(), claimed_by = $2
		WHERE id = ANY($3) AND status = $4
		RETURNING id`,
		action.StatusProcessing, workerID, ids, action.StatusInProgress,
	)
	if err != nil {
		return nil, fmt.Errorf("claiming entries: %w", err)
	}
	defer rows.Close()

	claimed := make([]int64, 0, len(ids))
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning claimed id: %w", err)
		}
		claimed = append(claimed, id)
	}
	return claimed, rows.Err()
}

// GetByID retrieves an active entry by its primary key.
//
// Postcondition: Returns the entry or ErrEntryNotFound.
func (r *ActionQueueRepository) GetByID(ctx context.Context, id int64) (*action.Entry, error) {
	e, err := scanEntry(r.db.QueryRow(ctx, `
		SELECT `+entryColumns+` FROM action_queue WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("querying entry: %w", err)
	}
	return e, nil
}

// GetUserQueue returns the commander's own in-progress entries plus inbound
// combat entries targeting them, with the attacker's name resolved.
func (r *ActionQueueRepository) GetUserQueue(ctx context.Context, commanderID int64) ([]*action.Entry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT q.id, q.commander_id, q.action_type, q.target_id,
		       q.start_time, q.end_time, q.status, q.attempts, q.details,
		       CASE WHEN q.commander_id <> $1 THEN c.name ELSE '' END
		FROM action_queue q
		JOIN commanders c ON c.id = q.commander_id
		WHERE q.status = $2
		  AND (q.commander_id = $1
		       OR (q.action_type = $3 AND q.target_id = $1))
		ORDER BY q.end_time ASC`,
		commanderID, action.StatusInProgress, action.TypeCombat,
	)
	if err != nil {
		return nil, fmt.Errorf("querying user queue: %w", err)
	}
	defer rows.Close()

	entries := make([]*action.Entry, 0)
	for rows.Next() {
		var e action.Entry
		if err := rows.Scan(
			&e.ID, &e.CommanderID, &e.Type, &e.TargetID,
			&e.StartTime, &e.EndTime, &e.Status, &e.Attempts, &e.Details,
			&e.AttackerName,
		); err != nil {
			return nil, fmt.Errorf("scanning user queue entry: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// Cancel removes a pending or in-progress entry, releases its locks, refunds
// any reserved research points and archives it as cancelled — all in one
// transaction.
//
// Postcondition: Returns nil on success, ErrEntryNotFound, ErrNotOwner, or
// ErrInvalidState when the entry is already claimed or terminal.
func (r *ActionQueueRepository) Cancel(ctx context.Context, id, commanderID int64) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning cancel transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	e, err := scanEntry(tx.QueryRow(ctx, `
		SELECT `+entryColumns+` FROM action_queue WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrEntryNotFound
		}
		return fmt.Errorf("querying entry for cancel: %w", err)
	}
	if e.CommanderID != commanderID {
		return ErrNotOwner
	}
	if !e.Status.Cancellable() {
		return fmt.Errorf("%w: status %s", ErrInvalidState, e.Status)
	}

	if err := r.finishEntry(ctx, tx, e, action.StatusCancelled, ""); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// MarkCompleted terminal-transitions a processing entry to completed,
// releasing its locks and archiving it.
//
// Postcondition: the entry is gone from the active table and present in the
// archive, or ErrInvalidState if it was not in processing.
func (r *ActionQueueRepository) MarkCompleted(ctx context.Context, id int64) error {
	return r.terminalize(ctx, id, action.StatusCompleted, "")
}

// MarkFailed terminal-transitions a processing entry to failed with the
// given reason, refunding locks and reserved research points.
func (r *ActionQueueRepository) MarkFailed(ctx context.Context, id int64, reason string) error {
	return r.terminalize(ctx, id, action.StatusFailed, reason)
}

func (r *ActionQueueRepository) terminalize(ctx context.Context, id int64, status action.Status, reason string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning terminal transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	e, err := scanEntry(tx.QueryRow(ctx, `
		SELECT `+entryColumns+` FROM action_queue WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrEntryNotFound
		}
		return fmt.Errorf("querying entry for terminal transition: %w", err)
	}
	if e.Status != action.StatusProcessing {
		return fmt.Errorf("%w: status %s, want processing", ErrInvalidState, e.Status)
	}

	if err := r.finishEntry(ctx, tx, e, status, reason); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// finishEntry performs the shared terminal work inside tx: research point
// refund on non-completion, lock release, archive insert, active row delete.
func (r *ActionQueueRepository) finishEntry(
	ctx context.Context,
	tx pgx.Tx,
	e *action.Entry,
	status action.Status,
	reason string,
) error {
	if e.Type == action.TypeResearch && status != action.StatusCompleted {
		d, err := action.DecodeResearch(e.Details)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			UPDATE commanders SET research_points = research_points + $2, updated_at = NOW()
			WHERE id = $1`,
			e.CommanderID, d.Points,
		)
		if err != nil {
			return fmt.Errorf("refunding research points: %w", err)
		}
	}

	if _, err := tx.Exec(ctx, `
		DELETE FROM resource_locks WHERE action_queue_id = $1`, e.ID); err != nil {
		return fmt.Errorf("releasing resource locks: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO action_archive
			(action_queue_id, commander_id, action_type, target_id,
			 start_time, end_time, status, details, failure_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.CommanderID, e.Type, e.TargetID,
		e.StartTime, e.EndTime, status, e.Details, reason,
	); err != nil {
		return fmt.Errorf("archiving entry: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		DELETE FROM action_queue WHERE id = $1`, e.ID); err != nil {
		return fmt.Errorf("removing active entry: %w", err)
	}
	return nil
}

// Retry reverts a processing entry to in_progress and increments its attempt
// counter so the next processor run picks it up again.
//
// Postcondition: Returns ErrInvalidState if the entry is not in processing.
func (r *ActionQueueRepository) Retry(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE action_queue
		SET status = $1, attempts = attempts + 1, claimed_at = NULL, claimed_by = NULL
		WHERE id = $2 AND status = $3`,
		action.StatusInProgress, id, action.StatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("reverting entry for retry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: entry %d not in processing", ErrInvalidState, id)
	}
	return nil
}

// ResetStuck reverts processing entries claimed before the cutoff back to
// in_progress, recovering work abandoned by a crashed worker. Returns the
// number of entries reset.
func (r *ActionQueueRepository) ResetStuck(ctx context.Context, claimedBefore time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE action_queue
		SET status = $1, claimed_at = NULL, claimed_by = NULL
		WHERE status = $2 AND claimed_at <= $3`,
		action.StatusInProgress, action.StatusProcessing, claimedBefore,
	)
	if err != nil {
		return 0, fmt.Errorf("resetting stuck entries: %w", err)
	}
	return tag.RowsAffected(), nil
}

// SumLockedUnits returns the total locked amount for a commander's
// spacecraft type across all active entries.
func (r *ActionQueueRepository) SumLockedUnits(ctx context.Context, commanderID, spacecraftTypeID int64) (int64, error) {
	var total int64
	err := r.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM resource_locks
		WHERE commander_id = $1 AND spacecraft_type_id = $2`,
		commanderID, spacecraftTypeID,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("summing locked units: %w", err)
	}
	return total, nil
}

// LockedCounts returns every spacecraft type a commander currently has
// units locked for, mapped to the total locked amount.
func (r *ActionQueueRepository) LockedCounts(ctx context.Context, commanderID int64) (map[int64]int64, error) {
	rows, err := r.db.Query(ctx, `
		SELECT spacecraft_type_id, SUM(amount) FROM resource_locks
		WHERE commander_id = $1
		GROUP BY spacecraft_type_id`,
		commanderID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying locked counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[int64]int64)
	for rows.Next() {
		var typeID, amount int64
		if err := rows.Scan(&typeID, &amount); err != nil {
			return nil, fmt.Errorf("scanning locked count: %w", err)
		}
		counts[typeID] = amount
	}
	return counts, rows.Err()
}

// ListArchive returns a commander's archived actions, newest first.
func (r *ActionQueueRepository) ListArchive(ctx context.Context, commanderID int64, limit int) ([]*action.Archived, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, action_queue_id, commander_id, action_type, target_id,
		       start_time, end_time, status, details, failure_reason, archived_at
		FROM action_archive
		WHERE commander_id = $1
		ORDER BY archived_at DESC
		LIMIT $2`,
		commanderID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying archive: %w", err)
	}
	defer rows.Close()

	out := make([]*action.Archived, 0)
	for rows.Next() {
		var a action.Archived
		if err := rows.Scan(
			&a.ID, &a.ActionQueueID, &a.CommanderID, &a.Type, &a.TargetID,
			&a.StartTime, &a.EndTime, &a.Status, &a.Details, &a.FailureReason, &a.ArchivedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning archived action: %w", err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}
