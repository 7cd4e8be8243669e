package db

// JobCounts aggregates job statistics for the stats endpoint.
type JobCounts struct {
	Total              int64 `json:"total"`
	Pending            int64 `json:"pending"`
	Running            int64 `json:"running"`
	Completed          int64 `json:"completed"`
	Failed             int64 `json:"failed"`
	Cancelled          int64 `json:"cancelled"`
	TotalRecordsSynced int64 `json:"total_records_synced"`
}

// GetJobCounts computes job aggregates in a single scan.
func (db *DB) GetJobCounts() (*JobCounts, error) {
	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'running' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'cancelled' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(records_synced), 0)
		FROM sync_jobs
	`

	counts := &JobCounts{}
	err := db.QueryRow(query).Scan(
		&counts.Total,
		&counts.Pending,
		&counts.Running,
		&counts.Completed,
		&counts.Failed,
		&counts.Cancelled,
		&counts.TotalRecordsSynced,
	)
	if err != nil {
		return nil, err
	}

	return counts, nil
}

// ScheduleCounts aggregates schedule statistics for the stats endpoint.
type ScheduleCounts struct {
	Total  int64 `json:"total"`
	Active int64 `json:"active"`
}

// GetScheduleCounts computes schedule aggregates.
func (db *DB) GetScheduleCounts() (*ScheduleCounts, error) {
	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN enabled = 1 THEN 1 ELSE 0 END), 0)
		FROM schedules
	`

	counts := &ScheduleCounts{}
	if err := db.QueryRow(query).Scan(&counts.Total, &counts.Active); err != nil {
		return nil, err
	}

	return counts, nil
}
