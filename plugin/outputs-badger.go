package plugin

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	Mt "github.com/maroda/cuebridge/types"
)

// BadgerJournal keeps every dispatch on local disk,
// so an operator can see after a service what fired and when.
type BadgerJournal struct {
	MU        sync.Mutex
	DB        *badger.DB
	BatchSize int
	Buffer    []*Mt.Dispatch
}

func NewBadgerJournal(path string, batchSize int) (*BadgerJournal, error) {
	if batchSize < 1 {
		batchSize = 1
	}
	opts := badger.DefaultOptions(path).
		WithCompression(options.ZSTD).
		WithNumVersionsToKeep(1).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		slog.Error("BadgerJournal failed to open database", slog.Any("error", err))
		return nil, fmt.Errorf("database error: %w", err)
	}

	slog.Info("BadgerJournal opened",
		slog.String("path", path),
		slog.Int("batchSize", batchSize))

	return &BadgerJournal{
		DB:        db,
		BatchSize: batchSize,
		Buffer:    make([]*Mt.Dispatch, 0, batchSize),
	}, nil
}

// WriteDispatch queues up a batch of dispatches,
// when batchsize is reached, it calls flushLocked()
// which calls WriteBatch() with the new batch
func (bj *BadgerJournal) WriteDispatch(d *Mt.Dispatch) error {
	bj.MU.Lock()
	defer bj.MU.Unlock()

	bj.Buffer = append(bj.Buffer, d)
	if len(bj.Buffer) >= bj.BatchSize {
		return bj.flushLocked()
	}
	return nil
}

// WriteBatch performs the key/value creation to be stored
// and actually calls BadgerDB to write the data
func (bj *BadgerJournal) WriteBatch(ds []*Mt.Dispatch) error {
	wb := bj.DB.NewWriteBatch()
	defer wb.Cancel()

	for _, d := range ds {
		v, err := DispatchEncode(d)
		if err != nil {
			return fmt.Errorf("encode error: %w", err)
		}
		if err := wb.Set(DispatchKey(d), v); err != nil {
			slog.Error("BadgerJournal failed to set key in batch",
				slog.Any("error", err),
				slog.Time("dispatchTime", d.Timestamp),
				slog.String("url", d.URL))
			return fmt.Errorf("write batch error: %w", err)
		}
	}

	if err := wb.Flush(); err != nil {
		slog.Error("BadgerJournal failed to flush batch", slog.Any("error", err))
		return fmt.Errorf("batch flush error: %w", err)
	}

	return nil
}

// Flush is the public method that blocks,
// it sends data to WriteBatch and then clears the buffer
func (bj *BadgerJournal) Flush() error {
	bj.MU.Lock()
	defer bj.MU.Unlock()
	return bj.flushLocked()
}

// flushLocked mimics Flush without locking
func (bj *BadgerJournal) flushLocked() error {
	if len(bj.Buffer) == 0 {
		return nil
	}
	err := bj.WriteBatch(bj.Buffer)
	bj.Buffer = bj.Buffer[:0] // Clear but keep capacity
	return err
}

// Close returns a Flush error but still attempts to close
func (bj *BadgerJournal) Close() error {
	bj.MU.Lock()
	slog.Info("BadgerJournal closing, flushing buffer",
		slog.Int("bufferSize", len(bj.Buffer)))
	flushErr := bj.flushLocked()
	bj.MU.Unlock()
	closeErr := bj.DB.Close()

	if flushErr != nil {
		slog.Error("BadgerJournal failed to flush on close", slog.Any("error", flushErr))
		return fmt.Errorf("flush failed, close may have failed: %w", flushErr)
	}

	if closeErr != nil {
		slog.Error("BadgerJournal failed to close database", slog.Any("error", closeErr))
		return fmt.Errorf("close failed: %w", closeErr)
	}

	slog.Info("BadgerJournal closed successfully")
	return nil
}

func (bj *BadgerJournal) Type() string { return "BadgerDB" }

const dispatchKeyLen = 8 + 3

// timeKey is the big endian timestamp prefix,
// so keys sort chronologically in BadgerDB
func timeKey(t time.Time) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(t.UnixNano()))
	return key
}

// DispatchKey creates a composite key
// timestamp + channel + type + note/control number
func DispatchKey(d *Mt.Dispatch) []byte {
	key := make([]byte, dispatchKeyLen)
	copy(key[0:8], timeKey(d.Timestamp))
	key[8] = byte(d.Event.Channel)
	key[9] = byte(d.Event.Type)
	key[10] = byte(d.Event.NoteOrControl)
	return key
}

// DispatchEncode serializes the dispatch for data storage
func DispatchEncode(d *Mt.Dispatch) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(d); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DispatchDecode deserializes the dispatch data
func DispatchDecode(data []byte) (*Mt.Dispatch, error) {
	var d Mt.Dispatch
	err := gob.NewDecoder(bytes.NewBuffer(data)).Decode(&d)
	return &d, err
}

// QueryRange retrieves dispatches with start <= Timestamp < end, oldest first
func (bj *BadgerJournal) QueryRange(start, end time.Time) ([]*Mt.Dispatch, error) {
	var ds []*Mt.Dispatch
	endKey := timeKey(end)

	// db.View() callback
	// BadgerDB provides a transaction in which to get item.Value()
	err := bj.DB.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(timeKey(start)); it.Valid(); it.Next() {
			item := it.Item()
			if bytes.Compare(item.Key()[:8], endKey) >= 0 {
				break
			}

			err := item.Value(func(val []byte) error {
				d, err := DispatchDecode(val)
				if err != nil {
					slog.Error("BadgerJournal failed to decode dispatch", slog.Any("error", err))
					return fmt.Errorf("dispatch decode error: %w", err)
				}
				ds = append(ds, d)
				return nil
			})
			if err != nil {
				slog.Error("BadgerJournal callback failure", slog.Any("error", err))
				return fmt.Errorf("item data error: %w", err)
			}
		}
		return nil
	})

	slog.Debug("BadgerJournal QueryRange", slog.Int("count", len(ds)))
	return ds, err
}
