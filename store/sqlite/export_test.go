package sqlite

import "context"

// SetRawStatus writes a status string without normalising it, the way rows
// from older clients arrive.
func SetRawStatus(ctx context.Context, s *Store, id int64, status string) error {
	_, err := s.db.ExecContext(ctx, "UPDATE appointments SET status = ? WHERE id = ?", status, id)
	return err
}

// RawStatus returns the status column exactly as stored.
func RawStatus(ctx context.Context, s *Store, id int64) (string, error) {
	var status string
	err := s.db.QueryRowContext(ctx, "SELECT status FROM appointments WHERE id = ?", id).Scan(&status)
	return status, err
}

// CorruptRunDetails overwrites a run's error details with text that is not JSON.
func CorruptRunDetails(ctx context.Context, s *Store, runID string) error {
	_, err := s.db.ExecContext(ctx, "UPDATE reconciliation_runs SET error_details_json = '{not json' WHERE id = ?", runID)
	return err
}
