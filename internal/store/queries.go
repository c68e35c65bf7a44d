package store

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/locplace/mapscan/internal/cluster"
)

// SpawnpointsIn returns the known spawnpoints inside the bounding box with
// their appearance second of the hour.
func (db *DB) SpawnpointsIn(ctx context.Context, n, e, s, w float64) ([]cluster.Spawnpoint, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, latitude, longitude, despawn_sec
		FROM spawnpoints
		WHERE latitude BETWEEN $1 AND $2
		  AND longitude BETWEEN $3 AND $4
		ORDER BY despawn_sec
	`, s, n, w, e)
	if err != nil {
		return nil, fmt.Errorf("failed to query spawnpoints: %w", err)
	}
	defer rows.Close()

	var points []cluster.Spawnpoint
	for rows.Next() {
		var (
			sp      cluster.Spawnpoint
			despawn int
		)
		if err := rows.Scan(&sp.ID, &sp.Coord.Lat, &sp.Coord.Lng, &despawn); err != nil {
			return nil, err
		}
		sp.Time = cluster.AppearanceFromDisappearance(despawn)
		points = append(points, sp)
	}
	return points, rows.Err()
}

// ArenaDetailsScanned returns when the details of each of ids were last
// fetched. Arenas without details are absent from the map.
func (db *DB) ArenaDetailsScanned(ctx context.Context, ids []string) (map[string]time.Time, error) {
	out := make(map[string]time.Time, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := db.Pool.Query(ctx, `
		SELECT arena_id, last_scanned FROM arena_details WHERE arena_id = ANY($1)
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query arena details: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id string
			at time.Time
		)
		if err := rows.Scan(&id, &at); err != nil {
			return nil, err
		}
		out[id] = at
	}
	return out, rows.Err()
}

// ValidTokens removes and returns up to n manual captcha tokens submitted
// in the last 30 seconds, oldest first.
func (db *DB) ValidTokens(ctx context.Context, n int) ([]string, error) {
	rows, err := db.Pool.Query(ctx, `
		DELETE FROM tokens
		WHERE id IN (
			SELECT id FROM tokens
			WHERE last_updated > NOW() - INTERVAL '30 seconds'
			ORDER BY last_updated
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING token, last_updated
	`, n)
	if err != nil {
		return nil, fmt.Errorf("failed to claim captcha tokens: %w", err)
	}
	defer rows.Close()

	type claimed struct {
		token string
		at    time.Time
	}
	var got []claimed
	for rows.Next() {
		var c claimed
		if err := rows.Scan(&c.token, &c.at); err != nil {
			return nil, err
		}
		got = append(got, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// RETURNING does not preserve the subquery order.
	slices.SortStableFunc(got, func(a, b claimed) int { return a.at.Compare(b.at) })
	tokens := make([]string, len(got))
	for i, c := range got {
		tokens[i] = c.token
	}
	return tokens, nil
}

// InsertToken stores a manually solved captcha token.
func (db *DB) InsertToken(ctx context.Context, token string) error {
	_, err := db.Pool.Exec(ctx, `INSERT INTO tokens (token) VALUES ($1)`, token)
	return err
}

// WorkerStatus is the periodically persisted view of one worker.
type WorkerStatus struct {
	Username     string
	WorkerName   string
	RunID        uuid.UUID
	Success      int64
	Fail         int64
	NoItems      int64
	Skip         int64
	Captcha      int64
	Message      string
	LastModified time.Time
}

// SaveWorkerStatus upserts the status rows of all workers.
func (db *DB) SaveWorkerStatus(ctx context.Context, statuses []WorkerStatus) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, s := range statuses {
		_, err = tx.Exec(ctx, `
			INSERT INTO worker_status (username, worker_name, run_id, success, fail, no_items, skip, captcha, message, last_modified)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (username) DO UPDATE SET
				worker_name = EXCLUDED.worker_name,
				run_id = EXCLUDED.run_id,
				success = EXCLUDED.success,
				fail = EXCLUDED.fail,
				no_items = EXCLUDED.no_items,
				skip = EXCLUDED.skip,
				captcha = EXCLUDED.captcha,
				message = EXCLUDED.message,
				last_modified = EXCLUDED.last_modified
		`, s.Username, s.WorkerName, s.RunID.String(), s.Success, s.Fail, s.NoItems, s.Skip, s.Captcha, s.Message, s.LastModified)
		if err != nil {
			return fmt.Errorf("failed to save status of %s: %w", s.Username, err)
		}
	}

	return tx.Commit(ctx)
}

// Cleanup is the result of one cleaning pass.
type Cleanup struct {
	WorkerStatus int64
	Lures        int64
	Tokens       int64
	Spawns       int64
}

// Clean deletes stale worker status rows and captcha tokens, clears expired
// lures, and purges spawns that disappeared more than purgeAfter ago
// (purgeAfter <= 0 keeps them).
func (db *DB) Clean(ctx context.Context, purgeAfter time.Duration) (Cleanup, error) {
	var c Cleanup

	tag, err := db.Pool.Exec(ctx, `DELETE FROM worker_status WHERE last_modified < NOW() - INTERVAL '30 minutes'`)
	if err != nil {
		return c, fmt.Errorf("failed to clean worker status: %w", err)
	}
	c.WorkerStatus = tag.RowsAffected()

	tag, err = db.Pool.Exec(ctx, `
		UPDATE stops SET lure_expiration = NULL, active_fort_modifier = NULL
		WHERE lure_expiration < NOW()
	`)
	if err != nil {
		return c, fmt.Errorf("failed to clear expired lures: %w", err)
	}
	c.Lures = tag.RowsAffected()

	tag, err = db.Pool.Exec(ctx, `DELETE FROM tokens WHERE last_updated < NOW() - INTERVAL '2 minutes'`)
	if err != nil {
		return c, fmt.Errorf("failed to clean captcha tokens: %w", err)
	}
	c.Tokens = tag.RowsAffected()

	if purgeAfter > 0 {
		tag, err = db.Pool.Exec(ctx, `DELETE FROM spawns WHERE disappear_time < $1`, time.Now().Add(-purgeAfter))
		if err != nil {
			return c, fmt.Errorf("failed to purge spawns: %w", err)
		}
		c.Spawns = tag.RowsAffected()
	}

	return c, nil
}
