// Copyright (c) 2025 The Honeygraph developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package checkpointdb is the local checkpoint ledger: a sqlite file
// recording every checkpoint boundary and the compressed operation
// batch that produced it. It is the durable side channel the graph
// store cannot provide, surviving store rollbacks so replay always
// knows where the chain of checkpoint hashes stands.
package checkpointdb

import (
	"database/sql"

	"github.com/golang/snappy"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

const tableSchema = `CREATE TABLE IF NOT EXISTS checkpoint (
	blockNum INTEGER PRIMARY KEY,
	blockHash TEXT NOT NULL,
	prevHash TEXT NOT NULL DEFAULT '',
	forkId TEXT NOT NULL DEFAULT '',
	stateHash TEXT NOT NULL DEFAULT '',
	snapshotHandle TEXT NOT NULL DEFAULT '',
	createdAt INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS ops (
	blockNum INTEGER PRIMARY KEY,
	blob BLOB NOT NULL
);`

// Checkpoint is one ledger row.
type Checkpoint struct {
	BlockNum       uint64
	BlockHash      string
	PrevHash       string
	ForkID         string
	StateHash      string
	SnapshotHandle string
	CreatedAt      int64
}

// DB is the checkpoint ledger.
type DB struct {
	path string
	db   *sql.DB
}

// New creates or opens the ledger at path.
func New(path string) (ledger *DB, err error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if ledger == nil {
			db.Close()
		}
	}()
	if _, err := db.Exec(tableSchema); err != nil {
		return nil, err
	}
	return &DB{path, db}, nil
}

// NewMem creates an in-memory ledger.
func NewMem() (*DB, error) {
	return New(":memory:")
}

// Close closes the ledger.
func (d *DB) Close() {
	d.db.Close()
}

// Path returns the ledger file path.
func (d *DB) Path() string {
	return d.path
}

// Save records a checkpoint and its operation batch. opsJSON is the
// raw batch; it is snappy-compressed at rest. Replaying the same
// checkpoint overwrites the row, which keeps saves idempotent.
func (d *DB) Save(cp Checkpoint, opsJSON []byte) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT OR REPLACE INTO checkpoint
			(blockNum, blockHash, prevHash, forkId, stateHash, snapshotHandle, createdAt)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		cp.BlockNum, cp.BlockHash, cp.PrevHash, cp.ForkID, cp.StateHash, cp.SnapshotHandle, cp.CreatedAt,
	); err != nil {
		return err
	}
	if len(opsJSON) > 0 {
		if _, err := tx.Exec(
			`INSERT OR REPLACE INTO ops (blockNum, blob) VALUES (?, ?)`,
			cp.BlockNum, snappy.Encode(nil, opsJSON),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Get returns the checkpoint at blockNum, or nil.
func (d *DB) Get(blockNum uint64) (*Checkpoint, error) {
	row := d.db.QueryRow(
		`SELECT blockNum, blockHash, prevHash, forkId, stateHash, snapshotHandle, createdAt
		 FROM checkpoint WHERE blockNum = ?`, blockNum)
	return scanCheckpoint(row)
}

// GetByHash returns the checkpoint with blockHash, or nil.
func (d *DB) GetByHash(blockHash string) (*Checkpoint, error) {
	row := d.db.QueryRow(
		`SELECT blockNum, blockHash, prevHash, forkId, stateHash, snapshotHandle, createdAt
		 FROM checkpoint WHERE blockHash = ? LIMIT 1`, blockHash)
	return scanCheckpoint(row)
}

// Diff returns the checkpoints after from up to and including to,
// ascending, so a lagging replica can replay the boundaries it missed.
func (d *DB) Diff(from, to uint64) ([]Checkpoint, error) {
	rows, err := d.db.Query(
		`SELECT blockNum, blockHash, prevHash, forkId, stateHash, snapshotHandle, createdAt
		 FROM checkpoint WHERE blockNum > ? AND blockNum <= ? ORDER BY blockNum ASC`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Checkpoint
	for rows.Next() {
		var cp Checkpoint
		if err := rows.Scan(&cp.BlockNum, &cp.BlockHash, &cp.PrevHash, &cp.ForkID,
			&cp.StateHash, &cp.SnapshotHandle, &cp.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

// Latest returns the highest checkpoint, or nil on an empty ledger.
func (d *DB) Latest() (*Checkpoint, error) {
	row := d.db.QueryRow(
		`SELECT blockNum, blockHash, prevHash, forkId, stateHash, snapshotHandle, createdAt
		 FROM checkpoint ORDER BY blockNum DESC LIMIT 1`)
	return scanCheckpoint(row)
}

// List returns up to limit checkpoints descending from before (0 means
// from the top).
func (d *DB) List(before uint64, limit int) ([]Checkpoint, error) {
	stmt := `SELECT blockNum, blockHash, prevHash, forkId, stateHash, snapshotHandle, createdAt
		 FROM checkpoint`
	var args []interface{}
	if before > 0 {
		stmt += ` WHERE blockNum < ?`
		args = append(args, before)
	}
	stmt += ` ORDER BY blockNum DESC LIMIT ?`
	args = append(args, limit)

	rows, err := d.db.Query(stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Checkpoint
	for rows.Next() {
		var cp Checkpoint
		if err := rows.Scan(&cp.BlockNum, &cp.BlockHash, &cp.PrevHash, &cp.ForkID,
			&cp.StateHash, &cp.SnapshotHandle, &cp.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

// Ops returns the decompressed operation batch of a checkpoint, nil
// when none was stored.
func (d *DB) Ops(blockNum uint64) ([]byte, error) {
	var blob []byte
	err := d.db.QueryRow(`SELECT blob FROM ops WHERE blockNum = ?`, blockNum).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	out, err := snappy.Decode(nil, blob)
	if err != nil {
		return nil, errors.WithMessage(err, "decompress ops")
	}
	return out, nil
}

// PruneBefore drops checkpoints and op blobs below blockNum.
func (d *DB) PruneBefore(blockNum uint64) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM checkpoint WHERE blockNum < ?`, blockNum); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM ops WHERE blockNum < ?`, blockNum); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteAfter drops checkpoints and op blobs above blockNum, used when
// rolling the store back to a snapshot.
func (d *DB) DeleteAfter(blockNum uint64) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM checkpoint WHERE blockNum > ?`, blockNum); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM ops WHERE blockNum > ?`, blockNum); err != nil {
		return err
	}
	return tx.Commit()
}

// VerifyChain walks the ledger ascending and returns the first block
// whose prevHash does not match its predecessor's blockHash, or 0 when
// the chain is consistent.
func (d *DB) VerifyChain() (uint64, error) {
	rows, err := d.db.Query(
		`SELECT blockNum, blockHash, prevHash FROM checkpoint ORDER BY blockNum ASC`)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	var prevHash string
	first := true
	for rows.Next() {
		var num uint64
		var hash, prev string
		if err := rows.Scan(&num, &hash, &prev); err != nil {
			return 0, err
		}
		if !first && prev != prevHash {
			return num, nil
		}
		prevHash = hash
		first = false
	}
	return 0, rows.Err()
}

func scanCheckpoint(row *sql.Row) (*Checkpoint, error) {
	var cp Checkpoint
	err := row.Scan(&cp.BlockNum, &cp.BlockHash, &cp.PrevHash, &cp.ForkID,
		&cp.StateHash, &cp.SnapshotHandle, &cp.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cp, nil
}
