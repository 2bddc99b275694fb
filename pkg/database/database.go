package database

import (
	"encoding/binary"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/wizzomafizzo/taprelay/pkg/config"
	bolt "go.etcd.io/bbolt"
)

const (
	BucketHistory = "history"
	BucketRelays  = "relays"
)

// MaxEntries is how many entries each bucket keeps before the oldest are
// pruned.
var MaxEntries = 10000

const DefaultMaxResults = 25

func DbFile(folder string) string {
	return filepath.Join(folder, config.DbFilename)
}

// Check if the db exists on disk.
func DbExists(folder string) bool {
	_, err := os.Stat(DbFile(folder))
	return err == nil
}

// Open the db with the given options. If the database does not exist it
// will be created and the buckets will be initialized.
func open(path string, options *bolt.Options) (*bolt.DB, error) {
	err := os.MkdirAll(filepath.Dir(path), 0755)
	if err != nil {
		return nil, err
	}

	db, err := bolt.Open(path, 0600, options)
	if err != nil {
		return nil, err
	}

	err = db.Update(func(txn *bolt.Tx) error {
		for _, bucket := range []string{
			BucketHistory,
			BucketRelays,
		} {
			_, err := txn.CreateBucketIfNotExists([]byte(bucket))
			if err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

type Database struct {
	bdb *bolt.DB
}

// Open opens the database in the given folder.
func Open(folder string) (*Database, error) {
	db, err := open(DbFile(folder), &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}

	return &Database{bdb: db}, nil
}

func (d *Database) Close() error {
	return d.bdb.Close()
}

// HistoryEntry is the result of one scan cycle.
type HistoryEntry struct {
	Seq       uint64    `json:"seq"`
	Time      time.Time `json:"time"`
	SessionId string    `json:"sessionId"`
	Device    string    `json:"device"`
	UID       string    `json:"uid"`
	Type      string    `json:"type"`
	Data      string    `json:"data"`
	Id        *int64    `json:"id,omitempty"`
	Stage     string    `json:"stage,omitempty"`
	Error     string    `json:"error,omitempty"`
	Success   bool      `json:"success"`
}

// RelayEntry is the outcome of one relay request.
type RelayEntry struct {
	Seq        uint64    `json:"seq"`
	Time       time.Time `json:"time"`
	SessionId  string    `json:"sessionId"`
	UID        string    `json:"uid"`
	Url        string    `json:"url"`
	Role       string    `json:"role"`
	Id         string    `json:"id"`
	Outcome    string    `json:"outcome"`
	Status     int       `json:"status,omitempty"`
	Error      string    `json:"error,omitempty"`
	DurationMs int64     `json:"durationMs"`
}

// keys are big endian sequence numbers so cursor order is insertion order
func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}

func put(b *bolt.Bucket, seq uint64, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	err = b.Put(seqKey(seq), data)
	if err != nil {
		return err
	}

	return prune(b, seq)
}

// prune removes entries more than MaxEntries behind seq.
func prune(b *bolt.Bucket, seq uint64) error {
	if seq <= uint64(MaxEntries) {
		return nil
	}
	cutoff := seq - uint64(MaxEntries)

	var stale [][]byte
	c := b.Cursor()
	for k, _ := c.First(); k != nil && binary.BigEndian.Uint64(k) <= cutoff; k, _ = c.Next() {
		stale = append(stale, append([]byte{}, k...))
	}

	for _, k := range stale {
		err := b.Delete(k)
		if err != nil {
			return err
		}
	}

	return nil
}

func (d *Database) AddHistory(entry HistoryEntry) error {
	return d.bdb.Update(func(txn *bolt.Tx) error {
		b := txn.Bucket([]byte(BucketHistory))

		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		entry.Seq = seq

		return put(b, seq, entry)
	})
}

func (d *Database) AddRelay(entry RelayEntry) error {
	return d.bdb.Update(func(txn *bolt.Tx) error {
		b := txn.Bucket([]byte(BucketRelays))

		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		entry.Seq = seq

		return put(b, seq, entry)
	})
}

// latest decodes up to max values from the end of a bucket, newest first.
// A max of zero or less returns every entry.
func latest[T any](bdb *bolt.DB, bucket string, max int) ([]T, error) {
	entries := make([]T, 0)

	err := bdb.View(func(txn *bolt.Tx) error {
		c := txn.Bucket([]byte(bucket)).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if max > 0 && len(entries) >= max {
				break
			}

			var entry T
			err := json.Unmarshal(v, &entry)
			if err != nil {
				return err
			}

			entries = append(entries, entry)
		}

		return nil
	})

	return entries, err
}

func (d *Database) GetHistory(max int) ([]HistoryEntry, error) {
	return latest[HistoryEntry](d.bdb, BucketHistory, max)
}

func (d *Database) GetRelays(max int) ([]RelayEntry, error) {
	return latest[RelayEntry](d.bdb, BucketRelays, max)
}

type historyRow struct {
	Seq       uint64 `csv:"seq"`
	Time      string `csv:"time"`
	SessionId string `csv:"session_id"`
	Device    string `csv:"device"`
	UID       string `csv:"uid"`
	Type      string `csv:"type"`
	Id        string `csv:"id"`
	Success   bool   `csv:"success"`
	Stage     string `csv:"failed_stage"`
	Error     string `csv:"error"`
	Data      string `csv:"data"`
}

// ExportHistory writes the full scan history as CSV, oldest first.
func (d *Database) ExportHistory(w io.Writer) error {
	entries, err := d.GetHistory(0)
	if err != nil {
		return err
	}

	rows := make([]*historyRow, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		row := &historyRow{
			Seq:       e.Seq,
			Time:      e.Time.Format(time.RFC3339),
			SessionId: e.SessionId,
			Device:    e.Device,
			UID:       e.UID,
			Type:      e.Type,
			Success:   e.Success,
			Stage:     e.Stage,
			Error:     e.Error,
			Data:      e.Data,
		}
		if e.Id != nil {
			row.Id = strconv.FormatInt(*e.Id, 10)
		}
		rows = append(rows, row)
	}

	return gocsv.Marshal(rows, w)
}
