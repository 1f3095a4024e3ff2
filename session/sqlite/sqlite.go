// Package sqlite provides a durable core.SessionStore backed by SQLite.
// Sessions and their turn history live in two tables; a partial unique index
// on the identity key enforces the one-active-session-per-identity invariant
// and the guest-to-authenticated merge is a single transaction.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hupe1980/dialogmesh/core"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id            TEXT PRIMARY KEY,
	identity_kind TEXT NOT NULL,
	visitor_token TEXT,
	customer_id   TEXT,
	identity_key  TEXT NOT NULL,
	status        TEXT NOT NULL,
	created       TIMESTAMP NOT NULL,
	last_activity TIMESTAMP NOT NULL,
	turn_seq      INTEGER NOT NULL DEFAULT 0,
	context       TEXT NOT NULL DEFAULT '{}'
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_active_identity
	ON sessions(identity_key) WHERE status = 'active';

CREATE TABLE IF NOT EXISTS turns (
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	seq        INTEGER NOT NULL,
	role       TEXT NOT NULL,
	text       TEXT NOT NULL,
	intent     TEXT,
	timestamp  TIMESTAMP NOT NULL,
	PRIMARY KEY (session_id, seq, role)
);
`

// Options configures a Store.
type Options struct {
	// TTL closes sessions idle longer than this. 0 disables expiry.
	TTL time.Duration
}

// Store is a SQLite-backed SessionStore. Safe for concurrent use; SQLite
// serializes writes through a single connection.
type Store struct {
	db  *sql.DB
	ttl time.Duration
}

// Open creates or opens the database at the given path, runs schema
// initialization, and configures WAL mode for concurrent reads.
func Open(dbPath string, optFns ...func(o *Options)) (*Store, error) {
	var opts Options
	for _, fn := range optFns {
		fn(&opts)
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite handles one writer at a time

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Store{db: db, ttl: opts.TTL}, nil
}

// Shutdown closes the underlying database handle. (Close is taken by the
// core.SessionStore contract for closing sessions.)
func (s *Store) Shutdown() error { return s.db.Close() }

// CreateOrGet returns the identity's active session or creates one.
func (s *Store) CreateOrGet(identity core.Identity) (*core.Session, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, storageErr(err)
	}
	defer tx.Rollback()

	sess, err := s.activeByIdentityTx(tx, identity)
	if err != nil && !errors.Is(err, core.ErrSessionNotFound) {
		return nil, err
	}
	if sess == nil {
		sess = core.NewSession(core.NewID(), identity)
		if err := insertSessionTx(tx, sess); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, storageErr(err)
	}
	return sess, nil
}

// Get returns an existing session or lazily creates an active guest session
// keyed by the given id.
func (s *Store) Get(sessionID string) (*core.Session, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, storageErr(err)
	}
	defer tx.Rollback()

	sess, err := s.sessionTx(tx, sessionID)
	if errors.Is(err, core.ErrSessionNotFound) {
		sess = core.NewSession(sessionID, core.GuestIdentity(sessionID))
		if err := insertSessionTx(tx, sess); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	if sess.Status == core.SessionActive && sess.Expired(s.ttl, time.Now().UTC()) {
		sess.Status = core.SessionClosed
		if _, err := tx.Exec(`UPDATE sessions SET status = ? WHERE id = ?`, string(core.SessionClosed), sess.ID); err != nil {
			return nil, storageErr(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, storageErr(err)
	}
	return sess, nil
}

// Save upserts the session row and appends any new turn records.
func (s *Store) Save(sess *core.Session) error {
	tx, err := s.db.Begin()
	if err != nil {
		return storageErr(err)
	}
	defer tx.Rollback()

	ctxJSON, err := json.Marshal(sess.Context)
	if err != nil {
		return fmt.Errorf("marshal turn context: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO sessions (id, identity_kind, visitor_token, customer_id, identity_key, status, created, last_activity, turn_seq, context)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			identity_kind = excluded.identity_kind,
			visitor_token = excluded.visitor_token,
			customer_id   = excluded.customer_id,
			identity_key  = excluded.identity_key,
			status        = excluded.status,
			last_activity = excluded.last_activity,
			turn_seq      = excluded.turn_seq,
			context       = excluded.context`,
		sess.ID, string(sess.Identity.Kind), sess.Identity.VisitorToken, sess.Identity.CustomerID,
		sess.Identity.Key(), string(sess.Status), sess.Created, sess.LastActivity, sess.TurnSeq, string(ctxJSON))
	if err != nil {
		return storageErr(err)
	}

	for _, rec := range sess.AllTurns() {
		_, err = tx.Exec(`
			INSERT OR IGNORE INTO turns (session_id, seq, role, text, intent, timestamp)
			VALUES (?, ?, ?, ?, ?, ?)`,
			sess.ID, rec.Seq, string(rec.Role), rec.Text, rec.Intent, rec.Timestamp)
		if err != nil {
			return storageErr(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storageErr(err)
	}
	return nil
}

// Merge moves the guest session's history into the customer's session in one
// transaction. Idempotent: unknown or already-merged guest tokens yield the
// customer's session unchanged.
func (s *Store) Merge(guestToken, customerID string) (*core.Session, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, storageErr(err)
	}
	defer tx.Rollback()

	identity := core.AuthenticatedIdentity(customerID)

	guest, err := s.activeByIdentityTx(tx, core.GuestIdentity(guestToken))
	if err != nil && !errors.Is(err, core.ErrSessionNotFound) {
		return nil, err
	}
	target, err := s.activeByIdentityTx(tx, identity)
	if err != nil && !errors.Is(err, core.ErrSessionNotFound) {
		return nil, err
	}

	var merged *core.Session
	switch {
	case guest == nil && target == nil:
		merged = core.NewSession(core.NewID(), identity)
		if err := insertSessionTx(tx, merged); err != nil {
			return nil, err
		}
	case guest == nil:
		merged = target
	case target == nil:
		// Atomic rewrite of identity; history and context move with the row.
		_, err = tx.Exec(`
			UPDATE sessions SET identity_kind = ?, visitor_token = '', customer_id = ?, identity_key = ?
			WHERE id = ?`,
			string(core.IdentityAuthenticated), customerID, identity.Key(), guest.ID)
		if err != nil {
			return nil, storageErr(err)
		}
		guest.Identity = identity
		merged = guest
	default:
		// Re-parent the guest's turns after the target's existing history,
		// then drop the guest session. The authenticated TurnContext wins.
		_, err = tx.Exec(`UPDATE turns SET session_id = ?, seq = seq + ? WHERE session_id = ?`,
			target.ID, target.TurnSeq, guest.ID)
		if err != nil {
			return nil, storageErr(err)
		}
		seq := target.TurnSeq + guest.TurnSeq
		if _, err = tx.Exec(`UPDATE sessions SET turn_seq = ? WHERE id = ?`, seq, target.ID); err != nil {
			return nil, storageErr(err)
		}
		if _, err = tx.Exec(`DELETE FROM sessions WHERE id = ?`, guest.ID); err != nil {
			return nil, storageErr(err)
		}
		merged = target
	}

	if merged, err = s.sessionTx(tx, merged.ID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, storageErr(err)
	}
	return merged, nil
}

// Close marks a session read-only, freeing its identity slot.
func (s *Store) Close(sessionID string) error {
	res, err := s.db.Exec(`UPDATE sessions SET status = ? WHERE id = ?`, string(core.SessionClosed), sessionID)
	if err != nil {
		return storageErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr(err)
	}
	if n == 0 {
		return core.ErrSessionNotFound
	}
	return nil
}

func (s *Store) sessionTx(tx *sql.Tx, sessionID string) (*core.Session, error) {
	row := tx.QueryRow(`
		SELECT id, identity_kind, visitor_token, customer_id, status, created, last_activity, turn_seq, context
		FROM sessions WHERE id = ?`, sessionID)
	return s.scanSessionTx(tx, row)
}

func (s *Store) activeByIdentityTx(tx *sql.Tx, identity core.Identity) (*core.Session, error) {
	row := tx.QueryRow(`
		SELECT id, identity_kind, visitor_token, customer_id, status, created, last_activity, turn_seq, context
		FROM sessions WHERE identity_key = ? AND status = 'active'`, identity.Key())
	return s.scanSessionTx(tx, row)
}

func (s *Store) scanSessionTx(tx *sql.Tx, row *sql.Row) (*core.Session, error) {
	var (
		sess    core.Session
		kind    string
		status  string
		ctxJSON string
	)
	err := row.Scan(&sess.ID, &kind, &sess.Identity.VisitorToken, &sess.Identity.CustomerID,
		&status, &sess.Created, &sess.LastActivity, &sess.TurnSeq, &ctxJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrSessionNotFound
	}
	if err != nil {
		return nil, storageErr(err)
	}
	sess.Identity.Kind = core.IdentityKind(kind)
	sess.Status = core.SessionStatus(status)
	sess.Context = core.NewTurnContext()
	if err := json.Unmarshal([]byte(ctxJSON), sess.Context); err != nil {
		return nil, fmt.Errorf("unmarshal turn context: %w", err)
	}

	rows, err := tx.Query(`
		SELECT seq, role, text, intent, timestamp FROM turns
		WHERE session_id = ? ORDER BY seq, role DESC`, sess.ID)
	if err != nil {
		return nil, storageErr(err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rec  core.TurnRecord
			role string
		)
		if err := rows.Scan(&rec.Seq, &role, &rec.Text, &rec.Intent, &rec.Timestamp); err != nil {
			return nil, storageErr(err)
		}
		rec.Role = core.TurnRole(role)
		sess.Turns = append(sess.Turns, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err)
	}
	return &sess, nil
}

func insertSessionTx(tx *sql.Tx, sess *core.Session) error {
	ctxJSON, err := json.Marshal(sess.Context)
	if err != nil {
		return fmt.Errorf("marshal turn context: %w", err)
	}
	_, err = tx.Exec(`
		INSERT INTO sessions (id, identity_kind, visitor_token, customer_id, identity_key, status, created, last_activity, turn_seq, context)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, string(sess.Identity.Kind), sess.Identity.VisitorToken, sess.Identity.CustomerID,
		sess.Identity.Key(), string(sess.Status), sess.Created, sess.LastActivity, sess.TurnSeq, string(ctxJSON))
	if err != nil {
		return storageErr(err)
	}
	return nil
}

func storageErr(err error) error {
	return fmt.Errorf("%w: %v", core.ErrStorageUnavailable, err)
}
