package services

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/flashbots/sealbatch/protocol"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// PostgresStore implements AuditStore with PostgreSQL persistence. Several
// protocol instances may share a database; each store only sees the
// records of its own instance.
type PostgresStore struct {
	db       *sql.DB
	protocol string
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
}

// ConnectionString returns the PostgreSQL connection string.
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslMode)
}

// NewPostgresStore connects, migrates and returns a store scoped to the
// given protocol instance.
func NewPostgresStore(config *PostgresConfig, identity common.Address) (*PostgresStore, error) {
	db, err := sql.Open("postgres", config.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	store := &PostgresStore{db: db, protocol: identity.Hex()}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return store, nil
}

func (s *PostgresStore) migrate() error {
	// event is kept as BYTEA: the chain hashes the exact serialized bytes,
	// which JSONB would normalize.
	schema := `
	CREATE TABLE IF NOT EXISTS audit_records (
		protocol VARCHAR(42) NOT NULL,
		seq BIGINT NOT NULL,
		id UUID NOT NULL UNIQUE,
		kind VARCHAR(64) NOT NULL,
		event BYTEA NOT NULL,
		prev_hash BYTEA NOT NULL,
		hash BYTEA NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		PRIMARY KEY (protocol, seq)
	);

	CREATE INDEX IF NOT EXISTS idx_audit_kind ON audit_records(protocol, kind);
	`

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// AppendRecord inserts rec. A duplicate sequence number is an error.
func (s *PostgresStore) AppendRecord(rec *AuditRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	query := `
	INSERT INTO audit_records (protocol, seq, id, kind, event, prev_hash, hash)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := s.db.ExecContext(ctx, query,
		s.protocol,
		int64(rec.Seq),
		rec.ID.String(),
		string(rec.Kind),
		[]byte(rec.Event),
		rec.PrevHash.Bytes(),
		rec.Hash.Bytes(),
	)
	return err
}

// LoadRecords returns up to limit records with seq >= fromSeq, in order.
// A non-positive limit returns every remaining record.
func (s *PostgresStore) LoadRecords(fromSeq uint64, limit int) ([]*AuditRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	query := `
		SELECT seq, id, kind, event, prev_hash, hash
		FROM audit_records
		WHERE protocol = $1 AND seq >= $2
		ORDER BY seq
	`
	args := []any{s.protocol, int64(fromSeq)}
	if limit > 0 {
		query += " LIMIT $3"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*AuditRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

// LastRecord returns the record with the highest sequence number, or nil.
func (s *PostgresStore) LastRecord() (*AuditRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	row := s.db.QueryRowContext(ctx, `
		SELECT seq, id, kind, event, prev_hash, hash
		FROM audit_records
		WHERE protocol = $1
		ORDER BY seq DESC
		LIMIT 1
	`, s.protocol)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*AuditRecord, error) {
	var (
		seq      int64
		id       string
		kind     string
		event    []byte
		prevHash []byte
		hash     []byte
	)
	if err := row.Scan(&seq, &id, &kind, &event, &prevHash, &hash); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scanning row: %w", err)
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("record %d: %w", seq, err)
	}

	return &AuditRecord{
		Seq:      uint64(seq),
		ID:       parsed,
		Kind:     protocol.EventKind(kind),
		Event:    event,
		PrevHash: common.BytesToHash(prevHash),
		Hash:     common.BytesToHash(hash),
	}, nil
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// InMemoryStore implements AuditStore for testing without a database.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[uint64]*AuditRecord
}

// NewInMemoryStore creates an in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		records: make(map[uint64]*AuditRecord),
	}
}

// AppendRecord stores a record in memory.
func (s *InMemoryStore) AppendRecord(rec *AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[rec.Seq]; ok {
		return fmt.Errorf("audit record %d already exists", rec.Seq)
	}
	cp := *rec
	s.records[rec.Seq] = &cp
	return nil
}

// LoadRecords returns stored records with seq >= fromSeq, in order.
func (s *InMemoryStore) LoadRecords(fromSeq uint64, limit int) ([]*AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seqs := make([]uint64, 0, len(s.records))
	for seq := range s.records {
		if seq >= fromSeq {
			seqs = append(seqs, seq)
		}
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	if limit > 0 && len(seqs) > limit {
		seqs = seqs[:limit]
	}

	result := make([]*AuditRecord, 0, len(seqs))
	for _, seq := range seqs {
		cp := *s.records[seq]
		result = append(result, &cp)
	}
	return result, nil
}

// LastRecord returns the latest record, or nil.
func (s *InMemoryStore) LastRecord() (*AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var last *AuditRecord
	for _, rec := range s.records {
		if last == nil || rec.Seq > last.Seq {
			last = rec
		}
	}
	if last == nil {
		return nil, nil
	}
	cp := *last
	return &cp, nil
}
