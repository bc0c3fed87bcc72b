// Package journal appends agent activity to rotating JSONL files, one line
// per record and one file per category, so a session can be reconstructed
// after the fact without grepping the main log.
package journal

import (
	"encoding/json"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Categories used by the agent. Callers may add their own; each gets its
// own file under the journal directory.
const (
	CategoryEvents    = "events"
	CategoryLifecycle = "lifecycle"
)

// Entry is one journaled record.
type Entry struct {
	Time  time.Time `json:"ts"`
	Kind  string    `json:"kind"`
	TabID string    `json:"tab_id,omitempty"`
	Data  any       `json:"data,omitempty"`
}

type record struct {
	category string
	entry    Entry
}

// Journal is an async JSONL writer. Records are buffered and written by a
// single goroutine; when the buffer is full the oldest record is dropped so
// recent activity survives a stall.
type Journal struct {
	dir       string
	maxSizeMB int

	writeCh chan record
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once

	mu      sync.Mutex
	loggers map[string]*lumberjack.Logger
}

// New starts a journal writing under dir.
func New(dir string, bufferSize, maxSizeMB int) *Journal {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	if maxSizeMB <= 0 {
		maxSizeMB = 20
	}
	j := &Journal{
		dir:       dir,
		maxSizeMB: maxSizeMB,
		writeCh:   make(chan record, bufferSize),
		done:      make(chan struct{}),
		loggers:   make(map[string]*lumberjack.Logger),
	}
	j.wg.Add(1)
	go j.writeLoop()
	return j
}

// Record queues one entry. It never blocks; the oldest queued record is
// dropped when the buffer is full.
func (j *Journal) Record(category, kind, tabID string, data any) {
	select {
	case <-j.done:
		return
	default:
	}

	rec := record{
		category: category,
		entry:    Entry{Time: time.Now().UTC(), Kind: kind, TabID: tabID, Data: data},
	}
	select {
	case j.writeCh <- rec:
		return
	default:
	}

	// Buffer full: make room by dropping the oldest record, then try once
	// more. A second failure means the writer raced us to the slot.
	select {
	case <-j.writeCh:
		slog.Warn("journal buffer full, dropped oldest record", "category", category)
	default:
	}
	select {
	case j.writeCh <- rec:
	default:
	}
}

// Close flushes pending records and closes the underlying files.
func (j *Journal) Close() error {
	j.once.Do(func() { close(j.done) })

	timeout := time.After(5 * time.Second)
drain:
	for {
		select {
		case rec := <-j.writeCh:
			j.writeRecord(rec)
		case <-timeout:
			slog.Warn("journal close timeout, some records may be lost")
			break drain
		default:
			break drain
		}
	}

	j.wg.Wait()

	j.mu.Lock()
	defer j.mu.Unlock()
	var firstErr error
	for _, l := range j.loggers {
		if err := l.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	j.loggers = make(map[string]*lumberjack.Logger)
	return firstErr
}

func (j *Journal) writeLoop() {
	defer j.wg.Done()

	for {
		select {
		case rec := <-j.writeCh:
			j.writeRecord(rec)
		case <-j.done:
			return
		}
	}
}

func (j *Journal) writeRecord(rec record) {
	data, err := json.Marshal(rec.entry)
	if err != nil {
		slog.Error("journal record not marshalable", "error", err, "kind", rec.entry.Kind)
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	logger := j.loggers[rec.category]
	if logger == nil {
		// lumberjack creates the directory on first write.
		logger = &lumberjack.Logger{
			Filename:   filepath.Join(j.dir, rec.category+".jsonl"),
			MaxSize:    j.maxSizeMB,
			MaxBackups: 10,
			MaxAge:     30,
			Compress:   false,
			LocalTime:  false,
		}
		j.loggers[rec.category] = logger
	}

	if _, err := logger.Write(append(data, '\n')); err != nil {
		slog.Error("journal write failed", "error", err, "category", rec.category)
	}
}
