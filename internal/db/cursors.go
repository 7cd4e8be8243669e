package db

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/livinlefevreloca/waypoint/internal/domain"
)

// GetCursor retrieves the stored cursor state for one (source, stream)
func (db *DB) GetCursor(sourceID, stream string) (*domain.SourceStreamState, error) {
	query := `
		SELECT source_id, stream_name, cursor_value, last_synced_at
		FROM stream_cursors
		WHERE source_id = ? AND stream_name = ?
	`

	var state domain.SourceStreamState
	err := db.QueryRow(query, sourceID, stream).Scan(
		&state.SourceID,
		&state.Stream,
		&state.Cursor,
		&state.LastSyncedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &state, nil
}

// UpsertCursor writes the cursor state for one (source, stream), creating the
// row on first sync. Ordering checks happen above this layer, under the
// state store's per-key lock.
func (db *DB) UpsertCursor(state domain.SourceStreamState) error {
	query := `
		INSERT INTO stream_cursors (source_id, stream_name, cursor_value, last_synced_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (source_id, stream_name)
		DO UPDATE SET cursor_value = excluded.cursor_value, last_synced_at = excluded.last_synced_at
	`

	_, err := db.Exec(query, state.SourceID, state.Stream, state.Cursor, state.LastSyncedAt)
	return err
}

// DeleteCursors clears cursors for a source. An empty stream clears every
// stream of the source; otherwise only the named stream is cleared.
func (db *DB) DeleteCursors(sourceID, stream string) error {
	if stream == "" {
		_, err := db.Exec(`DELETE FROM stream_cursors WHERE source_id = ?`, sourceID)
		return err
	}

	_, err := db.Exec(`DELETE FROM stream_cursors WHERE source_id = ? AND stream_name = ?`, sourceID, stream)
	return err
}

// AllCursors retrieves every stored cursor in deterministic order
func (db *DB) AllCursors() ([]domain.SourceStreamState, error) {
	query := `
		SELECT source_id, stream_name, cursor_value, last_synced_at
		FROM stream_cursors
		ORDER BY source_id, stream_name
	`

	rows, err := db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	states := []domain.SourceStreamState{}
	for rows.Next() {
		var state domain.SourceStreamState
		err := rows.Scan(&state.SourceID, &state.Stream, &state.Cursor, &state.LastSyncedAt)
		if err != nil {
			return nil, err
		}
		states = append(states, state)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return states, nil
}

// ImportSnapshot atomically replaces all cursor and schedule state with the
// snapshot's contents. Either every row is replaced or none are: any failure
// rolls the transaction back and the prior state stays authoritative.
func (db *DB) ImportSnapshot(snapshot *domain.StateSnapshot) error {
	return db.WithTransaction(func(tx *Tx) error {
		if _, err := tx.Exec(`DELETE FROM stream_cursors`); err != nil {
			return fmt.Errorf("failed to clear cursors: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM schedules`); err != nil {
			return fmt.Errorf("failed to clear schedules: %w", err)
		}

		for _, state := range snapshot.Cursors {
			_, err := tx.Exec(`
				INSERT INTO stream_cursors (source_id, stream_name, cursor_value, last_synced_at)
				VALUES (?, ?, ?, ?)`,
				state.SourceID, state.Stream, state.Cursor, state.LastSyncedAt)
			if err != nil {
				return fmt.Errorf("failed to import cursor %s/%s: %w", state.SourceID, state.Stream, err)
			}
		}

		for _, schedule := range snapshot.Schedules {
			streams, err := json.Marshal(schedule.Streams)
			if err != nil {
				return fmt.Errorf("failed to encode streams for schedule %s: %w", schedule.ID, err)
			}
			_, err = tx.Exec(`
				INSERT INTO schedules (id, source_id, source_name, streams, sync_mode, cron_expression,
					enabled, created_at, last_run_at, next_run_at, run_count, disabled_reason)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				schedule.ID, schedule.SourceID, schedule.SourceName, string(streams),
				string(schedule.Mode), schedule.CronExpression, schedule.Enabled, schedule.CreatedAt,
				schedule.LastRunAt, schedule.NextRunAt, schedule.RunCount, schedule.DisabledReason)
			if err != nil {
				return fmt.Errorf("failed to import schedule %s: %w", schedule.ID, err)
			}
		}

		return nil
	})
}
