package store

import (
	"fmt"

	"github.com/pilot-dev/memoryd/internal/errs"
)

// PruneObservationsOlderThan deletes observations older than cutoffEpoch,
// skipping any row whose type is in excludeTypes. Returns the number of
// rows deleted.
func (s *Store) PruneObservationsOlderThan(cutoffEpoch int64, excludeTypes []string) (int64, error) {
	query := `DELETE FROM observations WHERE created_at_epoch < ?`
	args := []any{cutoffEpoch}
	query, args = appendExcludeTypes(query, args, excludeTypes)

	res, err := s.conn.Exec(query, args...)
	if err != nil {
		return 0, errs.Wrap(errs.KindTransient, "prune observations by age", err)
	}
	return res.RowsAffected()
}

// PruneObservationsExceedingCount keeps only the newest maxCount
// observations per project (excluding excludeTypes from the count and from
// deletion), deleting the rest. maxCount <= 0 disables count-based pruning.
func (s *Store) PruneObservationsExceedingCount(maxCount int, excludeTypes []string) (int64, error) {
	if maxCount <= 0 {
		return 0, nil
	}

	inner := `SELECT id, ROW_NUMBER() OVER (PARTITION BY project ORDER BY created_at_epoch DESC, id DESC) AS rn FROM observations`
	var args []any
	if len(excludeTypes) > 0 {
		inner += fmt.Sprintf(` WHERE type NOT IN (%s)`, placeholders(len(excludeTypes)))
		for _, t := range excludeTypes {
			args = append(args, t)
		}
	}
	query := fmt.Sprintf(`DELETE FROM observations WHERE id IN (SELECT id FROM (%s) WHERE rn > ?)`, inner)
	args = append(args, maxCount)

	res, err := s.conn.Exec(query, args...)
	if err != nil {
		return 0, errs.Wrap(errs.KindTransient, "prune observations by count", err)
	}
	return res.RowsAffected()
}

// PruneSessionSummariesOlderThan deletes summaries older than cutoffEpoch.
func (s *Store) PruneSessionSummariesOlderThan(cutoffEpoch int64) (int64, error) {
	res, err := s.conn.Exec(`DELETE FROM session_summaries WHERE created_at_epoch < ?`, cutoffEpoch)
	if err != nil {
		return 0, errs.Wrap(errs.KindTransient, "prune session summaries by age", err)
	}
	return res.RowsAffected()
}

// PruneUserPromptsOlderThan deletes prompts older than cutoffEpoch.
func (s *Store) PruneUserPromptsOlderThan(cutoffEpoch int64) (int64, error) {
	res, err := s.conn.Exec(`DELETE FROM user_prompts WHERE created_at_epoch < ?`, cutoffEpoch)
	if err != nil {
		return 0, errs.Wrap(errs.KindTransient, "prune user prompts by age", err)
	}
	return res.RowsAffected()
}

func appendExcludeTypes(query string, args []any, excludeTypes []string) (string, []any) {
	if len(excludeTypes) == 0 {
		return query, args
	}
	query += fmt.Sprintf(` AND type NOT IN (%s)`, placeholders(len(excludeTypes)))
	for _, t := range excludeTypes {
		args = append(args, t)
	}
	return query, args
}
