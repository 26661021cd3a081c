// Package authstore provides a reference implementation of the UserStore
// collaborator spec.md §1 treats as external (AuthGate lives in package
// authgate). No repo in the
// retrieval pack imports a password-hashing library (bcrypt/argon2/scrypt
// appear only in comments, never in an import), so this is built on
// crypto/sha256 + crypto/rand with per-user salts, the stdlib-only fallback
// documented in DESIGN.md.
package authstore

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/emadruga/javumbo-sub001/internal/apperr"
)

// User is the credential-store record exposed to callers.
type User struct {
	ID       int64
	Username string
	Name     string
}

// UserStore is the opaque credential collaborator from spec.md §1.
type UserStore interface {
	Create(username, name, password string) (User, error)
	VerifyPassword(username, password string) (User, error)
	Lookup(username string) (User, error)
}

// SQLiteUserStore is a small, separate SQLite-backed implementation: one
// process-wide users.db, distinct from any per-user collection file, per
// spec.md §6.3 ("the user-credential store is a separate, opaque file or
// table").
type SQLiteUserStore struct {
	mu sync.Mutex
	db *sql.DB
}

// NewSQLiteUserStore opens (creating if absent) the shared credential
// database at path.
func NewSQLiteUserStore(path string) (*SQLiteUserStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("authstore: open %q: %w", path, err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS users (
		id       integer PRIMARY KEY,
		username text NOT NULL UNIQUE,
		name     text NOT NULL,
		salt     text NOT NULL,
		hash     text NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("authstore: create schema: %w", err)
	}

	return &SQLiteUserStore{db: db}, nil
}

func (s *SQLiteUserStore) Close() error {
	return s.db.Close()
}

// Create inserts a new user, failing with Conflict on a duplicate username.
func (s *SQLiteUserStore) Create(username, name, password string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing int
	row := s.db.QueryRow(`SELECT COUNT(*) FROM users WHERE username=?`, username)
	if err := row.Scan(&existing); err != nil {
		return User{}, err
	}
	if existing > 0 {
		return User{}, apperr.New(apperr.Conflict, apperr.MsgDuplicateUser)
	}

	salt, err := randomHex(16)
	if err != nil {
		return User{}, err
	}
	hash := hashPassword(password, salt)

	res, err := s.db.Exec(`INSERT INTO users (username, name, salt, hash) VALUES (?, ?, ?, ?)`,
		username, name, salt, hash)
	if err != nil {
		return User{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return User{}, err
	}

	return User{ID: id, Username: username, Name: name}, nil
}

// VerifyPassword checks password against the stored hash using a
// constant-time comparison.
func (s *SQLiteUserStore) VerifyPassword(username, password string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id int64
	var name, salt, hash string
	row := s.db.QueryRow(`SELECT id, name, salt, hash FROM users WHERE username=?`, username)
	if err := row.Scan(&id, &name, &salt, &hash); err != nil {
		if err == sql.ErrNoRows {
			return User{}, apperr.New(apperr.AuthReq, apperr.MsgInvalidCredentials)
		}
		return User{}, err
	}

	candidate := hashPassword(password, salt)
	if subtle.ConstantTimeCompare([]byte(candidate), []byte(hash)) != 1 {
		return User{}, apperr.New(apperr.AuthReq, apperr.MsgInvalidCredentials)
	}

	return User{ID: id, Username: username, Name: name}, nil
}

// Lookup fetches a user by username without checking a password.
func (s *SQLiteUserStore) Lookup(username string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id int64
	var name string
	row := s.db.QueryRow(`SELECT id, name FROM users WHERE username=?`, username)
	if err := row.Scan(&id, &name); err != nil {
		if err == sql.ErrNoRows {
			return User{}, apperr.New(apperr.NotFound, apperr.MsgInvalidCredentials)
		}
		return User{}, err
	}
	return User{ID: id, Username: username, Name: name}, nil
}

func hashPassword(password, salt string) string {
	sum := sha256.Sum256([]byte(salt + password))
	return hex.EncodeToString(sum[:])
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
