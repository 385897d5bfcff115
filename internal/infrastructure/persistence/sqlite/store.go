package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"streamBot/internal/domain"
	"streamBot/pkg/errors"
)

// Store es el almacén de configuración: usuarios, comandos, monedas, pases, contadores,
// ajustes de TTS e historial de alertas. Las entidades se guardan como JSON.
type Store struct {
	db *sql.DB
}

func NewStore(dbPath string) (*Store, error) {
	if dbPath == "" {
		return nil, errors.NewValidationError("empty db path", "DB_PATH", dbPath)
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, errors.NewStorageError("creating db dir", "open", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, errors.NewStorageError("open", "open", err)
	}
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	data TEXT NOT NULL,
	last_seen TIMESTAMP,
	updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS commands (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	data TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS currencies (
	id TEXT PRIMARY KEY,
	data TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS stream_passes (
	id TEXT PRIMARY KEY,
	data TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS counters (
	name TEXT PRIMARY KEY,
	value REAL NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT,
	updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS alerts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	type TEXT NOT NULL,
	kind TEXT,
	platform TEXT,
	username TEXT,
	text TEXT NOT NULL,
	metadata TEXT,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_alerts_created_at ON alerts(created_at DESC);`

	if _, err := db.Exec(schema); err != nil {
		return errors.NewStorageError("migrate", "migrate", err)
	}
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM users;`)
	if err != nil {
		return nil, errors.NewStorageError("list users", "list_users", err)
	}
	defer rows.Close()

	var out []domain.UserRecord
	for rows.Next() {
		var rec domain.UserRecord
		if err := scanJSON(rows, &rec); err != nil {
			return nil, errors.NewStorageError("scan user", "list_users", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorageError("list users", "list_users", err)
	}
	return out, nil
}

// SaveUsers guarda los usuarios en una sola transacción y borra los fusionados.
func (s *Store) SaveUsers(ctx context.Context, users []domain.UserRecord, removedIDs []string) error {
	now := time.Now().UTC()
	return s.tx(ctx, "save_users", func(tx *sql.Tx) error {
		const stmt = `
INSERT INTO users (id, data, last_seen, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	data=excluded.data,
	last_seen=excluded.last_seen,
	updated_at=excluded.updated_at;`
		for _, rec := range users {
			data, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, stmt, rec.ID, string(data), nullTime(rec.LastSeen), now); err != nil {
				return err
			}
		}
		for _, id := range removedIDs {
			if _, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = ?;`, id); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) UpsertCommand(ctx context.Context, cmd *domain.CommandDefinition) error {
	if cmd == nil {
		return errors.NewValidationError("command nil", "command", nil)
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return errors.NewStorageError("encode command", "upsert_command", err)
	}
	const stmt = `
INSERT INTO commands (id, name, data, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	name=excluded.name,
	data=excluded.data,
	updated_at=excluded.updated_at;`
	if _, err := s.db.ExecContext(ctx, stmt, cmd.ID, cmd.Name, string(data), time.Now().UTC()); err != nil {
		return errors.NewStorageError("upsert command", "upsert_command", err)
	}
	return nil
}

func (s *Store) ListCommands(ctx context.Context) ([]*domain.CommandDefinition, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM commands ORDER BY name;`)
	if err != nil {
		return nil, errors.NewStorageError("list commands", "list_commands", err)
	}
	defer rows.Close()

	var out []*domain.CommandDefinition
	for rows.Next() {
		cmd := &domain.CommandDefinition{}
		if err := scanJSON(rows, cmd); err != nil {
			return nil, errors.NewStorageError("scan command", "list_commands", err)
		}
		out = append(out, cmd)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorageError("list commands", "list_commands", err)
	}
	return out, nil
}

func (s *Store) DeleteCommand(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM commands WHERE id = ?;`, id); err != nil {
		return errors.NewStorageError("delete command", "delete_command", err)
	}
	return nil
}

func (s *Store) ListCurrencies(ctx context.Context) ([]domain.Currency, error) {
	var out []domain.Currency
	err := s.listJSON(ctx, "currencies", func(raw string) error {
		var c domain.Currency
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return err
		}
		out = append(out, c)
		return nil
	})
	return out, err
}

func (s *Store) UpsertCurrency(ctx context.Context, c domain.Currency) error {
	return s.upsertJSON(ctx, "currencies", c.ID, c)
}

func (s *Store) ListStreamPasses(ctx context.Context) ([]domain.StreamPass, error) {
	var out []domain.StreamPass
	err := s.listJSON(ctx, "stream_passes", func(raw string) error {
		var p domain.StreamPass
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return err
		}
		out = append(out, p)
		return nil
	})
	return out, err
}

func (s *Store) UpsertStreamPass(ctx context.Context, p domain.StreamPass) error {
	return s.upsertJSON(ctx, "stream_passes", p.ID, p)
}

func (s *Store) ListCounters(ctx context.Context) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, value FROM counters;`)
	if err != nil {
		return nil, errors.NewStorageError("list counters", "list_counters", err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var name string
		var value float64
		if err := rows.Scan(&name, &value); err != nil {
			return nil, errors.NewStorageError("scan counter", "list_counters", err)
		}
		out[name] = value
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorageError("list counters", "list_counters", err)
	}
	return out, nil
}

// SaveCounters reemplaza la tabla completa con el snapshot recibido.
func (s *Store) SaveCounters(ctx context.Context, counters map[string]float64) error {
	now := time.Now().UTC()
	return s.tx(ctx, "save_counters", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM counters;`); err != nil {
			return err
		}
		for name, value := range counters {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO counters (name, value, updated_at) VALUES (?, ?, ?);`, name, value, now); err != nil {
				return err
			}
		}
		return nil
	})
}

const (
	ttsVoiceKey   = "tts_voice"
	ttsEnabledKey = "tts_enabled"
)

func (s *Store) SetTTSVoice(ctx context.Context, voice string) error {
	return s.setSetting(ctx, ttsVoiceKey, voice)
}

func (s *Store) GetTTSVoice(ctx context.Context) (string, error) {
	return s.getSetting(ctx, ttsVoiceKey)
}

func (s *Store) SetTTSEnabled(ctx context.Context, enabled bool) error {
	return s.setSetting(ctx, ttsEnabledKey, strconv.FormatBool(enabled))
}

// GetTTSEnabled es true mientras no se haya guardado lo contrario.
func (s *Store) GetTTSEnabled(ctx context.Context) (bool, error) {
	val, err := s.getSetting(ctx, ttsEnabledKey)
	if err != nil || val == "" {
		return true, err
	}
	enabled, err := strconv.ParseBool(val)
	if err != nil {
		return true, nil
	}
	return enabled, nil
}

func (s *Store) SaveAlert(ctx context.Context, alert domain.Alert) error {
	createdAt := alert.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	const stmt = `
INSERT INTO alerts (type, kind, platform, username, text, metadata, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?);`
	_, err := s.db.ExecContext(ctx, stmt,
		string(alert.Type),
		string(alert.Kind),
		string(alert.Platform),
		alert.Username,
		alert.Text,
		encodeMetadata(alert.Metadata),
		createdAt.UTC(),
	)
	if err != nil {
		return errors.NewStorageError("save alert", "save_alert", err)
	}
	return nil
}

// ListAlerts devuelve las alertas más recientes primero.
func (s *Store) ListAlerts(ctx context.Context, limit int) ([]domain.Alert, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `
SELECT type, kind, platform, username, text, metadata, created_at
FROM alerts
ORDER BY created_at DESC, id DESC
LIMIT ?;`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, errors.NewStorageError("list alerts", "list_alerts", err)
	}
	defer rows.Close()

	var out []domain.Alert
	for rows.Next() {
		var typ, text string
		var kind, platform, username, metadata sql.NullString
		var createdAt time.Time
		if err := rows.Scan(&typ, &kind, &platform, &username, &text, &metadata, &createdAt); err != nil {
			return nil, errors.NewStorageError("scan alert", "list_alerts", err)
		}
		out = append(out, domain.Alert{
			Type:      domain.AlertType(typ),
			Kind:      domain.EventKind(kind.String),
			Platform:  domain.Platform(platform.String),
			Username:  username.String,
			Text:      text,
			Metadata:  decodeMetadata(metadata.String),
			CreatedAt: createdAt,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorageError("list alerts", "list_alerts", err)
	}
	return out, nil
}

func (s *Store) setSetting(ctx context.Context, key, value string) error {
	const stmt = `
INSERT INTO settings (key, value, updated_at)
VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
	value=excluded.value,
	updated_at=excluded.updated_at;`
	if _, err := s.db.ExecContext(ctx, stmt, key, value, time.Now().UTC()); err != nil {
		return errors.NewStorageError("set setting", "set_setting", err)
	}
	return nil
}

func (s *Store) getSetting(ctx context.Context, key string) (string, error) {
	var value sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ? LIMIT 1;`, key).Scan(&value)
	if stderrors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", errors.NewStorageError("get setting", "get_setting", err)
	}
	return value.String, nil
}

// table viene siempre de una constante del paquete.
func (s *Store) upsertJSON(ctx context.Context, table, id string, v any) error {
	if id == "" {
		return errors.NewValidationError("empty id", "id", id)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return errors.NewStorageError("encode", "upsert_"+table, err)
	}
	stmt := `INSERT INTO ` + table + ` (id, data, updated_at) VALUES (?, ?, ?)
ON CONFLICT(id) DO UPDATE SET data=excluded.data, updated_at=excluded.updated_at;`
	if _, err := s.db.ExecContext(ctx, stmt, id, string(data), time.Now().UTC()); err != nil {
		return errors.NewStorageError("upsert", "upsert_"+table, err)
	}
	return nil
}

func (s *Store) listJSON(ctx context.Context, table string, fn func(raw string) error) error {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM `+table+` ORDER BY id;`)
	if err != nil {
		return errors.NewStorageError("list", "list_"+table, err)
	}
	defer rows.Close()
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return errors.NewStorageError("scan", "list_"+table, err)
		}
		if err := fn(raw); err != nil {
			return errors.NewStorageError("decode", "list_"+table, err)
		}
	}
	if err := rows.Err(); err != nil {
		return errors.NewStorageError("list", "list_"+table, err)
	}
	return nil
}

func (s *Store) tx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewStorageError("begin", op, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return errors.NewStorageError(op, op, err)
	}
	if err := tx.Commit(); err != nil {
		return errors.NewStorageError("commit", op, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJSON(row scanner, v any) error {
	var raw string
	if err := row.Scan(&raw); err != nil {
		return err
	}
	return json.Unmarshal([]byte(raw), v)
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

func encodeMetadata(data map[string]string) any {
	if len(data) == 0 {
		return nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil
	}
	return string(raw)
}

func decodeMetadata(raw string) map[string]string {
	if raw == "" {
		return nil
	}
	var out map[string]string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}
