// Package checkpoint gives a migration run stored state: a single SQLite
// file holding the serialized internal/mapping.Store snapshot plus a
// watermark of which phase last completed. cmd/migrate saves it once, after a
// completed run, and loads it at start; the loaded phase does not make any
// phase be skipped, so every phase runs again. Grounded on the teacher's
// internal/infrastructure/sqlite_adapter.go connection setup (PRAGMA
// foreign_keys/WAL, sql.Open("sqlite", ...)) and internal/database/migrations.go's
// goose wiring, retargeted from a Postgres event-history store onto a local
// resumable checkpoint file.
package checkpoint

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/vitaliisemenov/tr2qase/internal/mapping"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Phase names the orchestrator phase sequence (spec §5), in order.
type Phase string

const (
	PhaseUsers        Phase = "users"
	PhaseProjects     Phase = "projects"
	PhaseAttachments  Phase = "attachments"
	PhaseFields       Phase = "fields"
	PhaseProjectsWork Phase = "projects_work"
	PhaseDone         Phase = "done"
)

// Store persists run state to a local SQLite file.
type Store struct {
	db     *sql.DB
	runID  string
	logger *slog.Logger
}

// Open connects to (creating if absent) the checkpoint database at path and
// applies pending goose migrations.
func Open(ctx context.Context, path, runID string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		path = "tr2qase_checkpoint.db"
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("checkpoint: creating directory for %q: %w", path, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: opening %q: %w", path, err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("checkpoint: enabling foreign keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
		logger.Warn("checkpoint: failed enabling WAL mode", slog.Any("error", err))
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("checkpoint: pinging %q: %w", path, err)
	}

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		db.Close()
		return nil, fmt.Errorf("checkpoint: setting goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("checkpoint: applying migrations: %w", err)
	}

	return &Store{db: db, runID: runID, logger: logger}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// SavePhase records that phase has completed for this run, alongside a full
// snapshot of the mapping store so a resumed run can rehydrate it.
func (s *Store) SavePhase(ctx context.Context, phase Phase, store *mapping.Store) error {
	snapshot, err := marshalSnapshot(store)
	if err != nil {
		return fmt.Errorf("checkpoint: marshaling snapshot: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO run_checkpoints (run_id, phase, snapshot, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET phase = excluded.phase, snapshot = excluded.snapshot, updated_at = excluded.updated_at
	`, s.runID, string(phase), snapshot, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("checkpoint: saving phase %q: %w", phase, err)
	}
	s.logger.Info("checkpoint saved", slog.String("run_id", s.runID), slog.String("phase", string(phase)))
	return nil
}

// Resume loads the last saved phase and mapping.Store snapshot for this run,
// or reports ok=false if no checkpoint exists yet.
func (s *Store) Resume(ctx context.Context) (phase Phase, store *mapping.Store, ok bool, err error) {
	row := s.db.QueryRowContext(ctx, `SELECT phase, snapshot FROM run_checkpoints WHERE run_id = ?`, s.runID)

	var phaseStr string
	var snapshot []byte
	if err := row.Scan(&phaseStr, &snapshot); err != nil {
		if err == sql.ErrNoRows {
			return "", nil, false, nil
		}
		return "", nil, false, fmt.Errorf("checkpoint: loading run %q: %w", s.runID, err)
	}

	restored, err := unmarshalSnapshot(snapshot)
	if err != nil {
		return "", nil, false, fmt.Errorf("checkpoint: unmarshaling snapshot: %w", err)
	}
	return Phase(phaseStr), restored, true, nil
}

// snapshot is the JSON-serializable subset of mapping.Store fields. The
// attachments submap is not included, and nothing reloads it on resume
// (attachments.Importer writes its cache file but never reads it), so a
// restored store starts with an empty attachments map.
type snapshot struct {
	ProjectMap      map[int]string
	Users           map[int]int
	DefaultUser     int
	Suites          map[string]map[int]int
	Milestones      map[string]map[int]int
	Configurations  map[string]map[string]map[int]int
	SharedSteps     map[string]map[int]string
	CaseIDMapping   map[int]int
	Priorities      map[int]int
	Types           map[int]int
	ResultStatuses  map[int]string
	CaseStatuses    map[int]int
	DefaultPriority int
	DefaultType     int

	CustomFields              map[string]*mapping.CustomField
	StepFields                map[string]struct{}
	RefsFieldID               int
	TestrailOriginalIDFieldID int
	EstimateFieldID           int
}

func marshalSnapshot(store *mapping.Store) ([]byte, error) {
	snap := snapshot{
		ProjectMap:                store.ProjectMap,
		Users:                     store.Users,
		DefaultUser:               store.DefaultUser,
		Suites:                    store.Suites,
		Milestones:                store.Milestones,
		Configurations:            store.Configurations,
		SharedSteps:               store.SharedSteps,
		CaseIDMapping:             store.CaseIDMapping,
		Priorities:                store.Priorities,
		Types:                     store.Types,
		ResultStatuses:            store.ResultStatuses,
		CaseStatuses:              store.CaseStatuses,
		DefaultPriority:           store.DefaultPriority,
		DefaultType:               store.DefaultType,
		CustomFields:              store.CustomFields,
		StepFields:                store.StepFields,
		RefsFieldID:               store.RefsFieldID,
		TestrailOriginalIDFieldID: store.TestrailOriginalIDFieldID,
		EstimateFieldID:           store.EstimateFieldID,
	}
	return json.Marshal(snap)
}

func unmarshalSnapshot(data []byte) (*mapping.Store, error) {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}

	store := mapping.New()
	store.ProjectMap = snap.ProjectMap
	store.Users = snap.Users
	store.DefaultUser = snap.DefaultUser
	store.Suites = snap.Suites
	store.Milestones = snap.Milestones
	store.Configurations = snap.Configurations
	store.SharedSteps = snap.SharedSteps
	store.CaseIDMapping = snap.CaseIDMapping
	store.Priorities = snap.Priorities
	store.Types = snap.Types
	store.ResultStatuses = snap.ResultStatuses
	store.CaseStatuses = snap.CaseStatuses
	store.DefaultPriority = snap.DefaultPriority
	store.DefaultType = snap.DefaultType
	if snap.CustomFields != nil {
		store.CustomFields = snap.CustomFields
	}
	if snap.StepFields != nil {
		store.StepFields = snap.StepFields
	}
	store.RefsFieldID = snap.RefsFieldID
	store.TestrailOriginalIDFieldID = snap.TestrailOriginalIDFieldID
	store.EstimateFieldID = snap.EstimateFieldID
	return store, nil
}
