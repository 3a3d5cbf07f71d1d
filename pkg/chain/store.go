// SQLite persistence for the block-header index
package chain

import (
	"database/sql"
	"fmt"

	"github.com/richmills3/bitcoin-sv/internal/logger"
	_ "github.com/mattn/go-sqlite3"
)

// Store persists block headers so the index survives restarts. Everything the
// safe-mode monitor derives is rebuilt from the reloaded DAG, so the store
// only carries per-header facts.
type Store struct {
	db  *sql.DB
	log *logger.Logger
}

// HeaderRecord is one persisted header row
type HeaderRecord struct {
	Hash         Hash
	Parent       Hash // zero hash for genesis
	Height       int64
	Bits         uint32
	BlockTime    int64
	ReceivedTime int64
	Validity     uint8
	Failed       bool
	FailedParent bool
	ChainTx      uint64
	Ignored      bool
}

// OpenStore opens (or creates) a header store at the given path
func OpenStore(path string, log *logger.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open header store: %w", err)
	}

	// WAL keeps header writes off the hot path of readers
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		log.WithError(err).Warn("Failed to enable WAL mode (continuing with default journaling)")
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS headers (
			hash          TEXT PRIMARY KEY,
			parent        TEXT NOT NULL,
			height        INTEGER NOT NULL,
			bits          INTEGER NOT NULL,
			block_time    INTEGER NOT NULL,
			received_time INTEGER NOT NULL,
			validity      INTEGER NOT NULL,
			failed        INTEGER NOT NULL,
			failed_parent INTEGER NOT NULL,
			chain_tx      INTEGER NOT NULL,
			ignored       INTEGER NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create headers table: %w", err)
	}

	log.WithField("path", path).Info("Header store opened")
	return &Store{db: db, log: log}, nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveHeader inserts or updates one header row
func (s *Store) SaveHeader(b *BlockIndex) error {
	var parent Hash
	if b.Parent != nil {
		parent = b.Parent.Hash
	}

	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO headers
			(hash, parent, height, bits, block_time, received_time,
			 validity, failed, failed_parent, chain_tx, ignored)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		b.Hash.String(), parent.String(), b.Height, b.Bits,
		b.BlockTime, b.HeaderReceivedTime,
		uint8(b.Status.Validity), boolToInt(b.Status.Failed),
		boolToInt(b.Status.FailedParent), b.ChainTx,
		boolToInt(b.IgnoredForSafeMode),
	)
	if err != nil {
		return fmt.Errorf("failed to save header: %w", err)
	}
	return nil
}

// LoadAll returns every persisted header ordered by height ascending, so a
// caller can replay them parent-first
func (s *Store) LoadAll() ([]HeaderRecord, error) {
	rows, err := s.db.Query(`
		SELECT hash, parent, height, bits, block_time, received_time,
		       validity, failed, failed_parent, chain_tx, ignored
		FROM headers
		ORDER BY height ASC, hash ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query headers: %w", err)
	}
	defer rows.Close()

	var records []HeaderRecord
	for rows.Next() {
		var (
			rec                  HeaderRecord
			hashHex, parentHex   string
			failed, failedParent int
			ignored              int
		)
		if err := rows.Scan(
			&hashHex, &parentHex, &rec.Height, &rec.Bits,
			&rec.BlockTime, &rec.ReceivedTime,
			&rec.Validity, &failed, &failedParent, &rec.ChainTx, &ignored,
		); err != nil {
			return nil, fmt.Errorf("failed to scan header row: %w", err)
		}
		if rec.Hash, err = ParseHash(hashHex); err != nil {
			return nil, fmt.Errorf("corrupt header row: %w", err)
		}
		if rec.Parent, err = ParseHash(parentHex); err != nil {
			return nil, fmt.Errorf("corrupt header row: %w", err)
		}
		rec.Failed = failed != 0
		rec.FailedParent = failedParent != 0
		rec.Ignored = ignored != 0
		records = append(records, rec)
	}
	return records, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
