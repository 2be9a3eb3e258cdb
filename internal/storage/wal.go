package storage

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWALBatchSize is the number of buffered records that triggers an
// immediate group-commit flush.
const DefaultWALBatchSize = 500

// DefaultWALFlushInterval is the maximum time a record waits in the
// group-commit buffer before being flushed, when the batch hasn't filled.
const DefaultWALFlushInterval = 10 * time.Millisecond

// WAL is an append-only, durable log of key-value mutations. Writers call
// Append to enqueue a record and Sync to force it to disk; a background
// goroutine group-commits the buffer on a size or time trigger.
type WAL struct {
	path          string
	lg            *slog.Logger
	batchSize     int
	flushInterval time.Duration

	mu      sync.Mutex
	file    *os.File
	w       *bufio.Writer
	pending int

	flushNow chan struct{}
	done     chan struct{}
	closed   bool
	wg       sync.WaitGroup
}

// WALOptions configures a WAL. The zero value selects the documented
// defaults.
type WALOptions struct {
	BatchSize     int
	FlushInterval time.Duration
}

func (o WALOptions) withDefaults() WALOptions {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultWALBatchSize
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = DefaultWALFlushInterval
	}
	return o
}

// OpenWAL opens (creating if necessary) the WAL file at path, appending
// any new records after existing content.
func OpenWAL(path string, lg *slog.Logger, opts WALOptions) (*WAL, error) {
	opts = opts.withDefaults()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("storage: open wal: %w", err)
	}
	w := &WAL{
		path:          path,
		lg:            lg,
		batchSize:     opts.BatchSize,
		flushInterval: opts.FlushInterval,
		file:          f,
		w:             bufio.NewWriter(f),
		flushNow:      make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
	w.wg.Add(1)
	go w.flushLoop()
	return w, nil
}

// Append enqueues a record into the group-commit buffer. It returns once
// the record is buffered, not once it is durable; call Sync for that.
func (w *WAL) Append(op Op, key, value []byte) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	r := record{Timestamp: time.Now().UnixNano(), Op: op, Key: key, Value: value}
	if err := encodeRecord(w.w, r); err != nil {
		w.mu.Unlock()
		return fmt.Errorf("storage: wal append: %w", err)
	}
	w.pending++
	trigger := w.pending >= w.batchSize
	w.mu.Unlock()

	if trigger {
		select {
		case w.flushNow <- struct{}{}:
		default:
		}
	}
	return nil
}

// AppendBatch appends a group of records in one call, all sharing the same
// in-memory buffer write; Sync (or the group-commit timer) still governs
// durability.
func (w *WAL) AppendBatch(ops []Op, keys, values [][]byte) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	now := time.Now().UnixNano()
	for i := range ops {
		r := record{Timestamp: now, Op: ops[i], Key: keys[i], Value: values[i]}
		if err := encodeRecord(w.w, r); err != nil {
			w.mu.Unlock()
			return fmt.Errorf("storage: wal append batch: %w", err)
		}
	}
	w.pending += len(ops)
	trigger := w.pending >= w.batchSize
	w.mu.Unlock()

	if trigger {
		select {
		case w.flushNow <- struct{}{}:
		default:
		}
	}
	return nil
}

// Sync flushes the buffer and fsyncs the file, returning once the data is
// durable on disk.
func (w *WAL) Sync() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	err := w.flushLocked()
	w.mu.Unlock()
	return err
}

func (w *WAL) flushLocked() error {
	if w.pending == 0 {
		return nil
	}
	if err := w.w.Flush(); err != nil {
		return fmt.Errorf("storage: wal flush: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("storage: wal fsync: %w", err)
	}
	w.pending = 0
	return nil
}

func (w *WAL) flushLoop() {
	defer w.wg.Done()
	t := time.NewTicker(w.flushInterval)
	defer t.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-w.flushNow:
			w.mu.Lock()
			if err := w.flushLocked(); err != nil {
				w.lg.Warn("wal background flush failed", "err", err)
			}
			w.mu.Unlock()
		case <-t.C:
			w.mu.Lock()
			if w.pending > 0 {
				if err := w.flushLocked(); err != nil {
					w.lg.Warn("wal periodic flush failed", "err", err)
				}
			}
			w.mu.Unlock()
		}
	}
}

// Replay iterates the file in order, returning records applied so far when
// it hits a decoding error or short read: a torn tail written before a
// crash is silently truncated, never partially applied.
func (w *WAL) Replay() ([]record, error) {
	f, err := os.Open(w.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: wal replay open: %w", err)
	}
	defer f.Close()

	var out []record
	r := bufio.NewReader(f)
	for {
		rec, err := decodeRecord(r)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, errCorruptRecord) {
				break
			}
			return out, fmt.Errorf("storage: wal replay: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Truncate empties the log file, discarding every record it held. The
// engine does not call it; the log is kept across Close and replayed on
// Open.
func (w *WAL) Truncate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if err := w.w.Flush(); err != nil {
		return fmt.Errorf("storage: wal truncate flush: %w", err)
	}
	if err := w.file.Truncate(0); err != nil {
		return fmt.Errorf("storage: wal truncate: %w", err)
	}
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("storage: wal truncate seek: %w", err)
	}
	w.w.Reset(w.file)
	w.pending = 0
	return nil
}

// Close syncs and releases the log file.
func (w *WAL) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	err := w.flushLocked()
	w.mu.Unlock()

	close(w.done)
	w.wg.Wait()
	if cerr := w.file.Close(); err == nil {
		err = cerr
	}
	return err
}
