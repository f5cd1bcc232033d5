package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"main/internal/schema"
	"main/pkg/exception"
)

// Recorder appends audit events to JSONL segments from a buffered queue.
// Recording is best-effort and never blocks the caller: a full queue drops
// the event and returns an error the caller may count but must not fail on.
type Recorder struct {
	cfg Config
	ch  chan schema.AuditEvent
	wg  sync.WaitGroup
	err atomic.Value

	started uint32
	closed  uint32
	drops   uint64
}

// NewRecorder creates a recorder and ensures the target directory exists.
func NewRecorder(cfg Config) (*Recorder, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}
	return &Recorder{
		cfg: cfg,
		ch:  make(chan schema.AuditEvent, cfg.QueueSize),
	}, nil
}

// Start runs the writer loop in a new goroutine.
func (r *Recorder) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapUint32(&r.started, 0, 1) {
		return fmt.Errorf("audit recorder already started")
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(ctx)
	}()
	return nil
}

// Close stops the recorder and flushes buffered events.
func (r *Recorder) Close() error {
	if atomic.CompareAndSwapUint32(&r.closed, 0, 1) {
		close(r.ch)
	}
	r.wg.Wait()
	return r.Err()
}

// Err returns the first error observed by the writer loop, if any.
func (r *Recorder) Err() error {
	if v := r.err.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// Drops returns the number of events dropped on a full queue.
func (r *Recorder) Drops() uint64 {
	return atomic.LoadUint64(&r.drops)
}

// Record builds an event and enqueues it without blocking.
func (r *Recorder) Record(agent, eventType, contextRef string, payload map[string]any) error {
	return r.Append(schema.AuditEvent{
		ID:         uuid.NewString(),
		Timestamp:  time.Now().UTC(),
		Agent:      agent,
		Type:       eventType,
		ContextRef: contextRef,
		Payload:    payload,
	})
}

// Append enqueues a prebuilt event without blocking.
func (r *Recorder) Append(event schema.AuditEvent) error {
	if atomic.LoadUint32(&r.closed) != 0 {
		return exception.ErrAuditClosed
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	select {
	case r.ch <- event:
		return nil
	default:
		atomic.AddUint64(&r.drops, 1)
		return exception.ErrAuditQueueFull
	}
}

func (r *Recorder) run(ctx context.Context) {
	var (
		seg    *segmentWriter
		segID  uint64
		flushC <-chan time.Time
	)
	if r.cfg.FlushInterval > 0 {
		ticker := time.NewTicker(r.cfg.FlushInterval)
		defer ticker.Stop()
		flushC = ticker.C
	}
	defer func() {
		if err := r.closeSegment(seg); err != nil {
			r.setErr(err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			r.drainNonBlocking(&seg, &segID)
			return
		case event, ok := <-r.ch:
			if !ok {
				return
			}
			if err := r.writeEvent(&seg, &segID, event); err != nil {
				r.setErr(err)
				return
			}
		case <-flushC:
			if seg != nil {
				if err := seg.buf.Flush(); err != nil {
					r.setErr(err)
					return
				}
			}
		}
	}
}

func (r *Recorder) drainNonBlocking(seg **segmentWriter, segID *uint64) {
	for {
		select {
		case event, ok := <-r.ch:
			if !ok {
				return
			}
			if err := r.writeEvent(seg, segID, event); err != nil {
				r.setErr(err)
				return
			}
		default:
			return
		}
	}
}

func (r *Recorder) writeEvent(seg **segmentWriter, segID *uint64, event schema.AuditEvent) error {
	line, err := json.Marshal(event)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	recordSize := int64(len(line) + 1)
	if r.shouldRotate(*seg, now, recordSize) {
		if err := r.closeSegment(*seg); err != nil {
			return err
		}
		opened, err := r.openSegment(segID, now)
		if err != nil {
			return err
		}
		*seg = opened
	}
	if _, err := (*seg).buf.Write(line); err != nil {
		return err
	}
	if err := (*seg).buf.WriteByte('\n'); err != nil {
		return err
	}
	(*seg).size += recordSize
	return nil
}

func (r *Recorder) shouldRotate(seg *segmentWriter, now time.Time, nextSize int64) bool {
	if seg == nil {
		return true
	}
	if r.cfg.SegmentMaxBytes > 0 && seg.size+nextSize > r.cfg.SegmentMaxBytes {
		return true
	}
	if r.cfg.SegmentMaxDuration > 0 && now.Sub(seg.openedAt) >= r.cfg.SegmentMaxDuration {
		return true
	}
	return false
}

func (r *Recorder) closeSegment(seg *segmentWriter) error {
	if seg == nil {
		return nil
	}
	if err := seg.buf.Flush(); err != nil {
		_ = seg.file.Close()
		return err
	}
	if err := seg.file.Sync(); err != nil {
		_ = seg.file.Close()
		return err
	}
	return seg.file.Close()
}

func (r *Recorder) openSegment(segID *uint64, now time.Time) (*segmentWriter, error) {
	ts := now.Format("20060102-150405")
	for {
		*segID = *segID + 1
		name := fmt.Sprintf("%s-%s-%06d.jsonl", r.cfg.FilePrefix, ts, *segID)
		path := filepath.Join(r.cfg.Dir, name)
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
		if err != nil {
			if errors.Is(err, os.ErrExist) {
				continue
			}
			return nil, err
		}
		return &segmentWriter{
			file:     file,
			buf:      bufio.NewWriter(file),
			openedAt: now,
		}, nil
	}
}

func (r *Recorder) setErr(err error) {
	if err == nil {
		return
	}
	if r.err.Load() != nil {
		return
	}
	r.err.Store(err)
}

type segmentWriter struct {
	file     *os.File
	buf      *bufio.Writer
	size     int64
	openedAt time.Time
}
