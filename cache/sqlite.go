package cache

import (
	"database/sql"
	"errors"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/golang/snappy"
)

// SQLiteStorage stores entries in a single SQLite table.
// Payloads are snappy-compressed, insertion order is kept in an autoincrement column
// so that replacing a key moves it to the end of the namespace.
type SQLiteStorage struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// NewSQLiteStorage opens (and if needed creates) the cache db with the given file name.
// If file name is empty or "memory", a private in-memory db is opened.
func NewSQLiteStorage(filename string) (*SQLiteStorage, error) {
	inMemory := filename == "" || filename == "memory"
	if inMemory {
		filename = ":memory:"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, storageError("open", err)
	}
	if inMemory {
		// every pooled connection would otherwise see its own empty db
		db.SetMaxOpenConns(1)
	}
	statements := []string{
		`CREATE TABLE IF NOT EXISTS entries (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			namespace TEXT NOT NULL,
			key TEXT NOT NULL,
			stamp INTEGER NOT NULL,
			bytes BLOB,
			UNIQUE (namespace, key)
		)`,
		"CREATE INDEX IF NOT EXISTS namespace_seq_idx ON entries (namespace, seq)",
	}
	if !inMemory {
		statements = append(statements, "PRAGMA journal_mode=WAL")
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, storageError("init", err)
		}
	}
	return &SQLiteStorage{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

func (s *SQLiteStorage) Get(namespace, key string) (Entry, bool, error) {
	var stamp int64
	var compressed []byte
	err := s.db.QueryRow(
		"SELECT stamp, bytes FROM entries WHERE namespace = ? AND key = ?",
		namespace, key,
	).Scan(&stamp, &compressed)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, storageError("get", err)
	}
	bytes, err := snappy.Decode(nil, compressed)
	if err != nil {
		return Entry{}, false, storageError("decode", err)
	}
	return Entry{Timestamp: time.Unix(0, stamp), Bytes: bytes}, true, nil
}

func (s *SQLiteStorage) Put(namespace, key string, entry Entry) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO entries (namespace, key, stamp, bytes) VALUES (?, ?, ?, ?)",
		namespace, key, entry.Timestamp.UnixNano(), snappy.Encode(nil, entry.Bytes),
	)
	if err != nil {
		return storageError("put", err)
	}
	return nil
}

func (s *SQLiteStorage) Delete(namespace, key string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	if _, err := s.db.Exec("DELETE FROM entries WHERE namespace = ? AND key = ?", namespace, key); err != nil {
		return storageError("delete", err)
	}
	return nil
}

func (s *SQLiteStorage) Keys(namespace string) ([]Meta, error) {
	rows, err := s.db.Query("SELECT key, stamp FROM entries WHERE namespace = ? ORDER BY seq ASC", namespace)
	if err != nil {
		return nil, storageError("keys", err)
	}
	defer rows.Close()

	metas := make([]Meta, 0)
	for rows.Next() {
		var meta Meta
		var stamp int64
		if err := rows.Scan(&meta.Key, &stamp); err != nil {
			return nil, storageError("keys", err)
		}
		meta.Timestamp = time.Unix(0, stamp)
		metas = append(metas, meta)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("keys", err)
	}
	return metas, nil
}

func (s *SQLiteStorage) Namespaces() ([]string, error) {
	rows, err := s.db.Query("SELECT DISTINCT namespace FROM entries ORDER BY namespace")
	if err != nil {
		return nil, storageError("namespaces", err)
	}
	defer rows.Close()

	namespaces := make([]string, 0)
	for rows.Next() {
		var ns string
		if err := rows.Scan(&ns); err != nil {
			return nil, storageError("namespaces", err)
		}
		namespaces = append(namespaces, ns)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("namespaces", err)
	}
	return namespaces, nil
}

func (s *SQLiteStorage) DeleteNamespace(namespace string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	if _, err := s.db.Exec("DELETE FROM entries WHERE namespace = ?", namespace); err != nil {
		return storageError("delete namespace", err)
	}
	return nil
}

// Close closes the underlying db.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
