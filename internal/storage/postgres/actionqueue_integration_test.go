package postgres_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momoathome/project-browsergame-sub001/internal/game/action"
	"github.com/momoathome/project-browsergame-sub001/internal/storage/postgres"
	"github.com/momoathome/project-browsergame-sub001/internal/testutil"
)

type world struct {
	queue       *postgres.ActionQueueRepository
	commanders  *postgres.CommanderRepository
	spacecrafts *postgres.SpacecraftRepository
	buildings   *postgres.BuildingRepository
	asteroids   *postgres.AsteroidRepository
	logs        *postgres.LogRepository
	pc          *testutil.PostgresContainer
}

func setupWorld(t *testing.T) *world {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	pc := testutil.NewPostgresContainer(t)
	pc.ApplyMigrations(t)
	db := pc.RawPool
	return &world{
		queue:       postgres.NewActionQueueRepository(db),
		commanders:  postgres.NewCommanderRepository(db),
		spacecrafts: postgres.NewSpacecraftRepository(db),
		buildings:   postgres.NewBuildingRepository(db),
		asteroids:   postgres.NewAsteroidRepository(db),
		logs:        postgres.NewLogRepository(db),
		pc:          pc,
	}
}

func (w *world) newCommander(t *testing.T, name string) *postgres.Commander {
	t.Helper()
	c, err := w.commanders.Create(context.Background(), name, "hunter2", postgres.Resources{
		Crystal: 1000, Metal: 1000, Hydrogen: 500, Energy: 500,
	})
	require.NoError(t, err)
	return c
}

func mustDetails(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func TestEnqueueSetsExactDuration(t *testing.T) {
	w := setupWorld(t)
	ctx := context.Background()
	c := w.newCommander(t, "arthur")

	id, err := w.queue.Enqueue(ctx, c.ID, action.TypeProduction, 1, 90*time.Minute,
		mustDetails(t, action.ProductionDetails{Quantity: 5}))
	require.NoError(t, err)

	e, err := w.queue.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, action.StatusInProgress, e.Status)
	assert.Equal(t, 90*time.Minute, e.EndTime.Sub(e.StartTime))
	assert.Zero(t, e.Attempts)
}

func TestEnqueueMiningReservesFleetUnits(t *testing.T) {
	w := setupWorld(t)
	ctx := context.Background()
	c := w.newCommander(t, "ford")
	require.NoError(t, w.spacecrafts.Grant(ctx, c.ID, 2, 10))

	details := mustDetails(t, action.MiningDetails{Spacecrafts: map[int64]int64{2: 6}})
	_, err := w.queue.Enqueue(ctx, c.ID, action.TypeMining, 1, time.Hour, details)
	require.NoError(t, err)

	locked, err := w.queue.SumLockedUnits(ctx, c.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(6), locked)

	// Only 4 units remain free; locking 6 more must fail without changing
	// anything.
	_, err = w.queue.Enqueue(ctx, c.ID, action.TypeMining, 2, time.Hour, details)
	assert.ErrorIs(t, err, postgres.ErrInsufficientUnits)

	locked, err = w.queue.SumLockedUnits(ctx, c.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(6), locked)

	available, err := w.spacecrafts.AvailableUnits(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, map[int64]int64{2: 4}, available)
}

func TestEnqueueResearchReservesPoints(t *testing.T) {
	w := setupWorld(t)
	ctx := context.Background()
	c := w.newCommander(t, "zaphod")
	require.NoError(t, w.commanders.AddResearchPoints(ctx, c.ID, 100))

	id, err := w.queue.Enqueue(ctx, c.ID, action.TypeResearch, 3, time.Hour,
		mustDetails(t, action.ResearchDetails{Points: 60}))
	require.NoError(t, err)

	got, err := w.commanders.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(40), got.ResearchPoints)

	// Not enough points left for a second 60-point project.
	_, err = w.queue.Enqueue(ctx, c.ID, action.TypeResearch, 4, time.Hour,
		mustDetails(t, action.ResearchDetails{Points: 60}))
	assert.ErrorIs(t, err, postgres.ErrInsufficientResource)

	// Cancelling refunds the reservation.
	require.NoError(t, w.queue.Cancel(ctx, id, c.ID))
	got, err = w.commanders.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), got.ResearchPoints)
}

func TestEnqueueRejectsSecondAttackOnSameTarget(t *testing.T) {
	w := setupWorld(t)
	ctx := context.Background()
	attacker := w.newCommander(t, "marvin")
	defender := w.newCommander(t, "trillian")
	require.NoError(t, w.spacecrafts.Grant(ctx, attacker.ID, 1, 10))

	details := mustDetails(t, action.CombatDetails{
		AttackerSpacecrafts: map[int64]int64{1: 2},
		DefenderID:          defender.ID,
	})
	first, err := w.queue.Enqueue(ctx, attacker.ID, action.TypeCombat, defender.ID, time.Hour, details)
	require.NoError(t, err)

	_, err = w.queue.Enqueue(ctx, attacker.ID, action.TypeCombat, defender.ID, time.Hour, details)
	assert.ErrorIs(t, err, postgres.ErrAttackInFlight)

	// The failed enqueue must not have leaked any unit locks.
	locked, err := w.queue.SumLockedUnits(ctx, attacker.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), locked)

	// After the first attack resolves, a new one is allowed again.
	claimed, err := w.queue.Claim(ctx, []int64{first}, "worker-1")
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.NoError(t, w.queue.MarkCompleted(ctx, first))

	_, err = w.queue.Enqueue(ctx, attacker.ID, action.TypeCombat, defender.ID, time.Hour, details)
	assert.NoError(t, err)
}

func TestClaimIsExclusiveUnderConcurrency(t *testing.T) {
	w := setupWorld(t)
	ctx := context.Background()
	c := w.newCommander(t, "slartibartfast")

	id, err := w.queue.Enqueue(ctx, c.ID, action.TypeProduction, 1, 0,
		mustDetails(t, action.ProductionDetails{Quantity: 1}))
	require.NoError(t, err)

	const workers = 8
	var wg sync.WaitGroup
	wins := make(chan string, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			claimed, err := w.queue.Claim(ctx, []int64{id}, string(rune('a'+n)))
			assert.NoError(t, err)
			if len(claimed) == 1 {
				wins <- string(rune('a' + n))
			}
		}(i)
	}
	wg.Wait()
	close(wins)

	var winners []string
	for name := range wins {
		winners = append(winners, name)
	}
	assert.Len(t, winners, 1)
}

func TestMarkCompletedArchivesAndReleasesLocks(t *testing.T) {
	w := setupWorld(t)
	ctx := context.Background()
	c := w.newCommander(t, "fenchurch")
	require.NoError(t, w.spacecrafts.Grant(ctx, c.ID, 2, 5))

	id, err := w.queue.Enqueue(ctx, c.ID, action.TypeMining, 9, 0,
		mustDetails(t, action.MiningDetails{Spacecrafts: map[int64]int64{2: 5}}))
	require.NoError(t, err)

	claimed, err := w.queue.Claim(ctx, []int64{id}, "worker-1")
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.NoError(t, w.queue.MarkCompleted(ctx, id))

	_, err = w.queue.GetByID(ctx, id)
	assert.ErrorIs(t, err, postgres.ErrEntryNotFound)

	locked, err := w.queue.SumLockedUnits(ctx, c.ID, 2)
	require.NoError(t, err)
	assert.Zero(t, locked)

	archived, err := w.queue.ListArchive(ctx, c.ID, 10)
	require.NoError(t, err)
	require.Len(t, archived, 1)
	assert.Equal(t, id, archived[0].ActionQueueID)
	assert.Equal(t, action.StatusCompleted, archived[0].Status)

	// Completing twice is an invalid state, not silent idempotence.
	assert.ErrorIs(t, w.queue.MarkCompleted(ctx, id), postgres.ErrInvalidState)
}

func TestMarkFailedRecordsReason(t *testing.T) {
	w := setupWorld(t)
	ctx := context.Background()
	c := w.newCommander(t, "random")

	id, err := w.queue.Enqueue(ctx, c.ID, action.TypeBuildingUpgrade, 4, 0,
		mustDetails(t, action.BuildingUpgradeDetails{NextLevel: 2, Effects: map[string]int64{}}))
	require.NoError(t, err)

	_, err = w.queue.Claim(ctx, []int64{id}, "worker-1")
	require.NoError(t, err)
	require.NoError(t, w.queue.MarkFailed(ctx, id, "building 4 no longer exists"))

	archived, err := w.queue.ListArchive(ctx, c.ID, 10)
	require.NoError(t, err)
	require.Len(t, archived, 1)
	assert.Equal(t, action.StatusFailed, archived[0].Status)
	assert.Equal(t, "building 4 no longer exists", archived[0].FailureReason)
}

func TestCancelRules(t *testing.T) {
	w := setupWorld(t)
	ctx := context.Background()
	owner := w.newCommander(t, "benjy")
	other := w.newCommander(t, "frankie")

	id, err := w.queue.Enqueue(ctx, owner.ID, action.TypeProduction, 1, time.Hour,
		mustDetails(t, action.ProductionDetails{Quantity: 3}))
	require.NoError(t, err)

	assert.ErrorIs(t, w.queue.Cancel(ctx, id, other.ID), postgres.ErrNotOwner)
	assert.ErrorIs(t, w.queue.Cancel(ctx, 99999, owner.ID), postgres.ErrEntryNotFound)

	// Once claimed the entry is past the point of no return.
	_, err = w.queue.Claim(ctx, []int64{id}, "worker-1")
	require.NoError(t, err)
	assert.ErrorIs(t, w.queue.Cancel(ctx, id, owner.ID), postgres.ErrInvalidState)
}

func TestRetryIncrementsAttemptsAndRequeues(t *testing.T) {
	w := setupWorld(t)
	ctx := context.Background()
	c := w.newCommander(t, "agrajag")

	id, err := w.queue.Enqueue(ctx, c.ID, action.TypeProduction, 1, 0,
		mustDetails(t, action.ProductionDetails{Quantity: 1}))
	require.NoError(t, err)

	_, err = w.queue.Claim(ctx, []int64{id}, "worker-1")
	require.NoError(t, err)
	require.NoError(t, w.queue.Retry(ctx, id))

	e, err := w.queue.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, action.StatusInProgress, e.Status)
	assert.Equal(t, 1, e.Attempts)

	// Back in the queue, it can be claimed again.
	claimed, err := w.queue.Claim(ctx, []int64{id}, "worker-2")
	require.NoError(t, err)
	assert.Len(t, claimed, 1)

	assert.ErrorIs(t, w.queue.Retry(ctx, 99999), postgres.ErrInvalidState)
}

func TestResetStuckReclaimsOldClaims(t *testing.T) {
	w := setupWorld(t)
	ctx := context.Background()
	c := w.newCommander(t, "prak")

	id, err := w.queue.Enqueue(ctx, c.ID, action.TypeProduction, 1, 0,
		mustDetails(t, action.ProductionDetails{Quantity: 1}))
	require.NoError(t, err)
	_, err = w.queue.Claim(ctx, []int64{id}, "crashed-worker")
	require.NoError(t, err)

	// A cutoff in the past leaves the fresh claim alone.
	n, err := w.queue.ResetStuck(ctx, time.Now().Add(-5*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, n)

	// Age the claim past the timeout, as if the worker died mid-batch.
	_, err = w.pc.RawPool.Exec(ctx,
		`UPDATE action_queue SET claimed_at = NOW() - INTERVAL '10 minutes' WHERE id = $1`, id)
	require.NoError(t, err)

	n, err = w.queue.ResetStuck(ctx, time.Now().Add(-5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	e, err := w.queue.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, action.StatusInProgress, e.Status)
}

func TestDueEntriesOrderAndLimit(t *testing.T) {
	w := setupWorld(t)
	ctx := context.Background()
	c := w.newCommander(t, "eddie")

	late, err := w.queue.Enqueue(ctx, c.ID, action.TypeProduction, 1, time.Hour,
		mustDetails(t, action.ProductionDetails{Quantity: 1}))
	require.NoError(t, err)
	first, err := w.queue.Enqueue(ctx, c.ID, action.TypeProduction, 2, 0,
		mustDetails(t, action.ProductionDetails{Quantity: 1}))
	require.NoError(t, err)
	second, err := w.queue.Enqueue(ctx, c.ID, action.TypeProduction, 3, time.Millisecond,
		mustDetails(t, action.ProductionDetails{Quantity: 1}))
	require.NoError(t, err)

	due, err := w.queue.DueEntries(ctx, time.Now().Add(time.Second), 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, first, due[0].ID)
	assert.Equal(t, second, due[1].ID)
	for _, e := range due {
		assert.NotEqual(t, late, e.ID)
	}

	limited, err := w.queue.DueEntries(ctx, time.Now().Add(time.Second), 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestGetUserQueueIncludesInboundAttacks(t *testing.T) {
	w := setupWorld(t)
	ctx := context.Background()
	attacker := w.newCommander(t, "humma")
	defender := w.newCommander(t, "kavula")
	require.NoError(t, w.spacecrafts.Grant(ctx, attacker.ID, 1, 4))

	_, err := w.queue.Enqueue(ctx, attacker.ID, action.TypeCombat, defender.ID, time.Hour,
		mustDetails(t, action.CombatDetails{
			AttackerSpacecrafts: map[int64]int64{1: 4},
			DefenderID:          defender.ID,
		}))
	require.NoError(t, err)
	_, err = w.queue.Enqueue(ctx, defender.ID, action.TypeProduction, 1, time.Hour,
		mustDetails(t, action.ProductionDetails{Quantity: 2}))
	require.NoError(t, err)

	entries, err := w.queue.GetUserQueue(ctx, defender.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	var inbound, own int
	for _, e := range entries {
		if e.CommanderID == defender.ID {
			own++
			assert.Empty(t, e.AttackerName)
		} else {
			inbound++
			assert.Equal(t, action.TypeCombat, e.Type)
			assert.Equal(t, "humma", e.AttackerName)
		}
	}
	assert.Equal(t, 1, own)
	assert.Equal(t, 1, inbound)

	// The attacker's own view never shows an attacker name.
	entries, err = w.queue.GetUserQueue(ctx, attacker.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Empty(t, entries[0].AttackerName)
}
