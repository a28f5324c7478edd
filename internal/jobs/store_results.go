package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"omnireel/internal/storage"
)

// AppendResult records a completed stage and advances the job to the next
// stage in one transaction. A second result for the same stage is refused with
// ErrDuplicateStage and leaves the job untouched.
func (s *Store) AppendResult(ctx context.Context, result StageResult) error {
	if result.JobID == "" || result.Stage == "" {
		return fmt.Errorf("append result: job id and stage are required")
	}
	provenance, err := json.Marshal(result.Provenance)
	if err != nil {
		return fmt.Errorf("encode provenance: %w", err)
	}
	payload := result.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	created := result.CreatedAt
	if created.IsZero() {
		created = s.now()
	}

	return s.db.Tx(ctx, func(tx *sql.Tx) error {
		var seq int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM stage_results WHERE job_id = ?`, result.JobID,
		).Scan(&seq); err != nil {
			return fmt.Errorf("count results: %w", err)
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO stage_results (job_id, stage, seq, payload_json, provenance_json, cache_hit, duration_ms, cost_estimate, created_at)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
             ON CONFLICT (job_id, stage) DO NOTHING`,
			result.JobID, result.Stage, seq+1, string(payload), string(provenance),
			storage.BoolToInt(result.CacheHit), result.Duration.Milliseconds(), result.CostEstimate,
			storage.FormatTime(created),
		)
		if err != nil {
			if strings.Contains(err.Error(), "FOREIGN KEY") {
				return fmt.Errorf("%w: %s", ErrNotFound, result.JobID)
			}
			return fmt.Errorf("insert result: %w", err)
		}
		if inserted, _ := res.RowsAffected(); inserted == 0 {
			return fmt.Errorf("%w: %s/%s", ErrDuplicateStage, result.JobID, result.Stage)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE jobs SET stage = ?, updated_at = ? WHERE id = ?`,
			result.Stage.Next(), storage.FormatTime(s.now()), result.JobID,
		); err != nil {
			return fmt.Errorf("advance job: %w", err)
		}
		return nil
	})
}

// Results returns the stage results of a job in completion order.
func (s *Store) Results(ctx context.Context, jobID string) ([]StageResult, error) {
	rows, err := s.db.SQL().QueryContext(ctx,
		`SELECT job_id, stage, seq, payload_json, provenance_json, cache_hit, duration_ms, cost_estimate, created_at
         FROM stage_results WHERE job_id = ? ORDER BY seq`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	var out []StageResult
	for rows.Next() {
		var (
			r          StageResult
			stage      string
			payload    string
			provenance string
			cacheHit   int
			durationMS int64
			created    string
		)
		if err := rows.Scan(&r.JobID, &stage, &r.Seq, &payload, &provenance, &cacheHit, &durationMS, &r.CostEstimate, &created); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		r.Stage = Stage(stage)
		r.Payload = json.RawMessage(payload)
		if err := json.Unmarshal([]byte(provenance), &r.Provenance); err != nil {
			return nil, fmt.Errorf("decode provenance for %s/%s: %w", r.JobID, stage, err)
		}
		r.CacheHit = cacheHit != 0
		r.Duration = time.Duration(durationMS) * time.Millisecond
		if ts, err := storage.ParseTime(created); err == nil {
			r.CreatedAt = ts
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
