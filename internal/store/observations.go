package store

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pilot-dev/memoryd/internal/errs"
)

// ObservationType enumerates the kinds of tool-use events the store
// accepts. Enforced both by the migration's CHECK constraint and here so
// ingestion can reject unknown types before touching SQL.
type ObservationType string

const (
	ObservationDiscovery ObservationType = "discovery"
	ObservationBugfix    ObservationType = "bugfix"
	ObservationFeature   ObservationType = "feature"
	ObservationChange    ObservationType = "change"
	ObservationDecision  ObservationType = "decision"
	ObservationRefactor  ObservationType = "refactor"
)

// ValidObservationType reports whether t is one of the enumerated kinds.
func ValidObservationType(t string) bool {
	switch ObservationType(t) {
	case ObservationDiscovery, ObservationBugfix, ObservationFeature, ObservationChange, ObservationDecision, ObservationRefactor:
		return true
	}
	return false
}

// Observation is one enriched tool-use event.
type Observation struct {
	ID              int64
	MemorySessionID string
	Project         string
	Type            string
	Title           string
	Subtitle        *string
	Narrative       *string
	Facts           []string
	Concepts        []string
	FilesRead       []string
	FilesModified   []string
	DiscoveryTokens int
	CreatedAtEpoch  int64
}

func marshalList(v []string) (string, error) {
	if v == nil {
		v = []string{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalList(s string) []string {
	var v []string
	// Malformed JSON in a stored row is a Corruption condition: the
	// affected field degrades to empty rather than failing the whole row.
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil
	}
	return v
}

// InsertObservation stores an observation and returns its generated ID.
func (s *Store) InsertObservation(o *Observation) (int64, error) {
	if !ValidObservationType(o.Type) {
		return 0, errs.New(errs.KindContractViolation, "invalid observation type: "+o.Type)
	}
	facts, err := marshalList(o.Facts)
	if err != nil {
		return 0, errs.Wrap(errs.KindContractViolation, "marshal facts", err)
	}
	concepts, err := marshalList(o.Concepts)
	if err != nil {
		return 0, errs.Wrap(errs.KindContractViolation, "marshal concepts", err)
	}
	filesRead, err := marshalList(o.FilesRead)
	if err != nil {
		return 0, errs.Wrap(errs.KindContractViolation, "marshal files_read", err)
	}
	filesModified, err := marshalList(o.FilesModified)
	if err != nil {
		return 0, errs.Wrap(errs.KindContractViolation, "marshal files_modified", err)
	}

	res, err := s.conn.Exec(`
		INSERT INTO observations
			(memory_session_id, project, type, title, subtitle, narrative, facts, concepts, files_read, files_modified, discovery_tokens, created_at_epoch)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.MemorySessionID, o.Project, o.Type, o.Title, o.Subtitle, o.Narrative, facts, concepts, filesRead, filesModified, o.DiscoveryTokens, o.CreatedAtEpoch,
	)
	if err != nil {
		return 0, errs.Wrap(errs.KindTransient, "insert observation", err)
	}
	return res.LastInsertId()
}

const observationColumns = `id, memory_session_id, project, type, title, subtitle, narrative, facts, concepts, files_read, files_modified, discovery_tokens, created_at_epoch`

func scanObservation(scanner interface{ Scan(...any) error }) (Observation, error) {
	var o Observation
	var facts, concepts, filesRead, filesModified string
	err := scanner.Scan(&o.ID, &o.MemorySessionID, &o.Project, &o.Type, &o.Title, &o.Subtitle, &o.Narrative,
		&facts, &concepts, &filesRead, &filesModified, &o.DiscoveryTokens, &o.CreatedAtEpoch)
	if err != nil {
		return o, err
	}
	o.Facts = unmarshalList(facts)
	o.Concepts = unmarshalList(concepts)
	o.FilesRead = sanitizeProjectPaths(unmarshalList(filesRead), o.Project)
	o.FilesModified = sanitizeProjectPaths(unmarshalList(filesModified), o.Project)
	return o, nil
}

// ObservationFilter narrows an observation query. Empty slices mean "no
// filter" on that dimension.
type ObservationFilter struct {
	Project  string
	Types    []string
	Concepts []string
	// PlanPath, if non-empty, activates plan-scoped filtering: rows whose
	// owning session is associated with a different plan are excluded;
	// rows with no association ("quick mode") are always included.
	PlanPath string
	Limit    int
	Offset   int
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// ListObservations returns observations matching f, applying a plan-scope
// join when f.PlanPath is set. hasMore is computed via a LIMIT N+1 probe,
// never a second COUNT query.
func (s *Store) ListObservations(f ObservationFilter) ([]Observation, bool, error) {
	var b strings.Builder
	var args []any

	b.WriteString(`SELECT ` + qualify(observationColumns, "o") + ` FROM observations o`)
	if f.PlanPath != "" {
		b.WriteString(` LEFT JOIN sdk_sessions s ON s.memory_session_id = o.memory_session_id`)
		b.WriteString(` LEFT JOIN session_plans p ON p.session_db_id = s.id`)
	}
	b.WriteString(` WHERE o.project = ?`)
	args = append(args, f.Project)

	if len(f.Types) > 0 {
		b.WriteString(fmt.Sprintf(` AND o.type IN (%s)`, placeholders(len(f.Types))))
		for _, t := range f.Types {
			args = append(args, t)
		}
	}

	if len(f.Concepts) > 0 {
		b.WriteString(fmt.Sprintf(` AND EXISTS (SELECT 1 FROM json_each(o.concepts) je WHERE je.value IN (%s))`, placeholders(len(f.Concepts))))
		for _, c := range f.Concepts {
			args = append(args, c)
		}
	}

	if f.PlanPath != "" {
		b.WriteString(` AND (p.plan_path IS NULL OR p.plan_path = ?)`)
		args = append(args, f.PlanPath)
	}

	b.WriteString(` ORDER BY o.created_at_epoch ASC, o.id ASC LIMIT ? OFFSET ?`)
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit+1, f.Offset)

	rows, err := s.conn.Query(b.String(), args...)
	if err != nil {
		return nil, false, errs.Wrap(errs.KindTransient, "list observations", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []Observation
	for rows.Next() {
		o, err := scanObservation(rows)
		if err != nil {
			return nil, false, errs.Wrap(errs.KindTransient, "scan observation", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, false, errs.Wrap(errs.KindTransient, "list observations", err)
	}

	hasMore := len(out) > limit
	if hasMore {
		out = out[:limit]
	}
	return out, hasMore, nil
}

// qualify prefixes each column in a comma-separated list with table alias a.
func qualify(cols, alias string) string {
	parts := strings.Split(cols, ", ")
	for i, p := range parts {
		parts[i] = alias + "." + p
	}
	return strings.Join(parts, ", ")
}
