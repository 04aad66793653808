package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/momoathome/project-browsergame-sub001/internal/game/battle"
)

// CombatLog is the persisted record of one resolved battle.
type CombatLog struct {
	ID                int64
	AttackerID        int64
	DefenderID        int64
	Winner            battle.Winner
	Rounds            int
	AttackerLosses    []battle.Losses
	DefenderLosses    []battle.Losses
	Plunder           map[string]int64
	AttackerInfluence int64
	DefenderInfluence int64
	CreatedAt         time.Time
}

// MiningLog is the persisted record of one resolved exploration.
type MiningLog struct {
	ID          int64
	CommanderID int64
	AsteroidID  int64
	Extracted   map[string]int64
	CargoUsed   int64
	HadMiner    bool
	CreatedAt   time.Time
}

// LogRepository persists combat and mining history.
type LogRepository struct {
	db *pgxpool.Pool
}

// NewLogRepository creates a LogRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewLogRepository(db *pgxpool.Pool) *LogRepository {
	return &LogRepository{db: db}
}

// InsertCombat writes a combat log row.
func (r *LogRepository) InsertCombat(ctx context.Context, l CombatLog) (int64, error) {
	attackerLosses, err := json.Marshal(l.AttackerLosses)
	if err != nil {
		return 0, fmt.Errorf("encoding attacker losses: %w", err)
	}
	defenderLosses, err := json.Marshal(l.DefenderLosses)
	if err != nil {
		return 0, fmt.Errorf("encoding defender losses: %w", err)
	}
	plunder, err := json.Marshal(l.Plunder)
	if err != nil {
		return 0, fmt.Errorf("encoding plunder: %w", err)
	}

	var id int64
	err = r.db.QueryRow(ctx, `
		INSERT INTO combat_logs
			(attacker_id, defender_id, winner, rounds,
			 attacker_losses, defender_losses, plunder,
			 attacker_influence_delta, defender_influence_delta)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		l.AttackerID, l.DefenderID, l.Winner, l.Rounds,
		attackerLosses, defenderLosses, plunder,
		l.AttackerInfluence, l.DefenderInfluence,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inserting combat log: %w", err)
	}
	return id, nil
}

// ListCombatByAttacker returns an attacker's combat logs, newest first.
func (r *LogRepository) ListCombatByAttacker(ctx context.Context, attackerID int64, limit int) ([]*CombatLog, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, attacker_id, defender_id, winner, rounds,
		       attacker_losses, defender_losses, plunder,
		       attacker_influence_delta, defender_influence_delta, created_at
		FROM combat_logs
		WHERE attacker_id = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		attackerID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying combat logs: %w", err)
	}
	defer rows.Close()

	out := make([]*CombatLog, 0)
	for rows.Next() {
		var l CombatLog
		var attackerLosses, defenderLosses, plunder []byte
		if err := rows.Scan(
			&l.ID, &l.AttackerID, &l.DefenderID, &l.Winner, &l.Rounds,
			&attackerLosses, &defenderLosses, &plunder,
			&l.AttackerInfluence, &l.DefenderInfluence, &l.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning combat log: %w", err)
		}
		if err := json.Unmarshal(attackerLosses, &l.AttackerLosses); err != nil {
			return nil, fmt.Errorf("decoding attacker losses: %w", err)
		}
		if err := json.Unmarshal(defenderLosses, &l.DefenderLosses); err != nil {
			return nil, fmt.Errorf("decoding defender losses: %w", err)
		}
		if err := json.Unmarshal(plunder, &l.Plunder); err != nil {
			return nil, fmt.Errorf("decoding plunder: %w", err)
		}
		out = append(out, &l)
	}
	return out, rows.Err()
}

// InsertMining writes a mining log row.
func (r *LogRepository) InsertMining(ctx context.Context, l MiningLog) (int64, error) {
	extracted, err := json.Marshal(l.Extracted)
	if err != nil {
		return 0, fmt.Errorf("encoding extracted resources: %w", err)
	}

	var id int64
	err = r.db.QueryRow(ctx, `
		INSERT INTO mining_logs
			(commander_id, asteroid_id, extracted, cargo_used, had_miner)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		l.CommanderID, l.AsteroidID, extracted, l.CargoUsed, l.HadMiner,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inserting mining log: %w", err)
	}
	return id, nil
}
