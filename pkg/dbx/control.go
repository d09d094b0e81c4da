package dbx

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by Load-style repository methods when no row matches.
var ErrNotFound = errors.New("dbx: not found")

// ControlRepository is the narrow capability set (design note §9) the
// ControlStore component needs: Load, Upsert (EnsureExists), Update
// (SetStatus/Heartbeat) and Insert (Log).
type ControlRepository interface {
	Load(ctx context.Context, scriptName string) (*ControlRecord, error)
	EnsureExists(ctx context.Context, scriptName, scriptType string, defaultConfig map[string]any) error
	Update(ctx context.Context, scriptName string, patch ControlPatch) error
	InsertLog(ctx context.Context, entry SystemLog) error
}

// ControlPatch carries only the fields SetStatus/Heartbeat actually changes;
// nil means "leave unchanged".
type ControlPatch struct {
	Enabled     *bool
	Status      *string
	PID         *int
	ClearPID    bool
	StartedAt   *time.Time
	StoppedAt   *time.Time
	Heartbeat   *time.Time
	LastError   *string
	LastErrorAt *time.Time
	Config      map[string]any
	UpdatedBy   string
}

// PostgresControlRepository is the production ControlRepository.
type PostgresControlRepository struct {
	db *DB
}

// NewPostgresControlRepository constructs a repository bound to db.
func NewPostgresControlRepository(db *DB) *PostgresControlRepository {
	return &PostgresControlRepository{db: db}
}

func (r *PostgresControlRepository) Load(ctx context.Context, scriptName string) (*ControlRecord, error) {
	const query = `
		SELECT script_name, script_type, enabled, status, pid, started_at, stopped_at,
		       last_heartbeat, last_error, last_error_at, config, updated_at, updated_by
		FROM system_control
		WHERE script_name = $1
	`
	var rec ControlRecord
	var configRaw []byte
	err := r.db.conn.QueryRowContext(ctx, query, scriptName).Scan(
		&rec.ScriptName, &rec.ScriptType, &rec.Enabled, &rec.Status, &rec.PID,
		&rec.StartedAt, &rec.StoppedAt, &rec.LastHeartbeat, &rec.LastError,
		&rec.LastErrorAt, &configRaw, &rec.UpdatedAt, &rec.UpdatedBy,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load control record %s: %w", scriptName, err)
	}
	if len(configRaw) > 0 {
		if err := json.Unmarshal(configRaw, &rec.Config); err != nil {
			return nil, fmt.Errorf("unmarshal control config %s: %w", scriptName, err)
		}
	}
	return &rec, nil
}

func (r *PostgresControlRepository) EnsureExists(ctx context.Context, scriptName, scriptType string, defaultConfig map[string]any) error {
	configJSON, err := json.Marshal(defaultConfig)
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}

	const query = `
		INSERT INTO system_control (script_name, script_type, enabled, status, config, updated_at, updated_by)
		VALUES ($1, $2, false, 'stopped', $3, NOW(), 'system')
		ON CONFLICT (script_name) DO NOTHING
	`
	_, err = r.db.conn.ExecContext(ctx, query, scriptName, scriptType, configJSON)
	if err != nil {
		return fmt.Errorf("ensure control record %s: %w", scriptName, err)
	}
	return nil
}

func (r *PostgresControlRepository) Update(ctx context.Context, scriptName string, patch ControlPatch) error {
	sets := []string{"updated_at = NOW()"}
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if patch.Enabled != nil {
		sets = append(sets, "enabled = "+arg(*patch.Enabled))
	}
	if patch.Status != nil {
		sets = append(sets, "status = "+arg(*patch.Status))
	}
	if patch.ClearPID {
		sets = append(sets, "pid = NULL")
	} else if patch.PID != nil {
		sets = append(sets, "pid = "+arg(*patch.PID))
	}
	if patch.StartedAt != nil {
		sets = append(sets, "started_at = "+arg(*patch.StartedAt))
	}
	if patch.StoppedAt != nil {
		sets = append(sets, "stopped_at = "+arg(*patch.StoppedAt))
	}
	if patch.Heartbeat != nil {
		sets = append(sets, "last_heartbeat = "+arg(*patch.Heartbeat))
	}
	if patch.LastError != nil {
		sets = append(sets, "last_error = "+arg(*patch.LastError))
	}
	if patch.LastErrorAt != nil {
		sets = append(sets, "last_error_at = "+arg(*patch.LastErrorAt))
	}
	if patch.Config != nil {
		configJSON, err := json.Marshal(patch.Config)
		if err != nil {
			return fmt.Errorf("marshal control config patch: %w", err)
		}
		sets = append(sets, "config = "+arg(configJSON))
	}
	if patch.UpdatedBy != "" {
		sets = append(sets, "updated_by = "+arg(patch.UpdatedBy))
	}

	args = append(args, scriptName)
	query := "UPDATE system_control SET "
	for i, s := range sets {
		if i > 0 {
			query += ", "
		}
		query += s
	}
	query += fmt.Sprintf(" WHERE script_name = $%d", len(args))

	if _, err := r.db.conn.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update control record %s: %w", scriptName, err)
	}
	return nil
}

func (r *PostgresControlRepository) InsertLog(ctx context.Context, entry SystemLog) error {
	contextJSON, err := json.Marshal(entry.Context)
	if err != nil {
		return fmt.Errorf("marshal log context: %w", err)
	}
	const query = `
		INSERT INTO system_logs (timestamp, source, script_name, level, message, context, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = r.db.conn.ExecContext(ctx, query,
		entry.Timestamp, entry.Source, entry.ScriptName, entry.Level, entry.Message,
		contextJSON, entry.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("insert system log: %w", err)
	}
	return nil
}
