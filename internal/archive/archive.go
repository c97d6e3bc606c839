// Package archive persists log events and upload submissions in a local
// DuckDB file so they survive orchestrator restarts.
package archive

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/editsuite/orchestrator/internal/logging"
	"github.com/editsuite/orchestrator/internal/models"
	"github.com/marcboeker/go-duckdb"
	"go.uber.org/zap"
)

const (
	defaultBatchSize     = 100
	defaultFlushInterval = 2 * time.Second

	// pending events kept across failed flushes, in batches
	maxRetainedBatches = 50
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS log_events (
		seq        BIGINT NOT NULL,
		ts         BIGINT NOT NULL,
		level      VARCHAR NOT NULL,
		level_rank TINYINT NOT NULL,
		logger     VARCHAR NOT NULL,
		message    VARCHAR NOT NULL,
		job_id     VARCHAR,
		fields     VARCHAR
	)`,
	`CREATE TABLE IF NOT EXISTS uploads (
		job_id         VARCHAR NOT NULL,
		file_name      VARCHAR NOT NULL,
		size           BIGINT NOT NULL,
		queue_position INTEGER NOT NULL,
		submitted_at   BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_log_events_ts ON log_events(ts)`,
}

// Option tunes an Archive.
type Option func(*Archive)

// WithBatchSize sets how many buffered events trigger an early flush.
func WithBatchSize(n int) Option {
	return func(a *Archive) {
		if n > 0 {
			a.batchSize = n
		}
	}
}

// WithFlushInterval sets the periodic flush interval.
func WithFlushInterval(d time.Duration) Option {
	return func(a *Archive) {
		if d > 0 {
			a.flushInterval = d
		}
	}
}

// Archive is a DuckDB-backed log sink and upload history.
type Archive struct {
	db            *sql.DB
	path          string
	logger        *zap.Logger
	batchSize     int
	flushInterval time.Duration

	mu        sync.Mutex
	batch     []logging.LogEvent
	lastError error

	kick      chan struct{}
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Open creates or opens the archive at path and starts the flush loop.
func Open(path string, logger *zap.Logger, opts ...Option) (*Archive, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating archive directory: %w", err)
		}
	}

	connector, err := duckdb.NewConnector(path, func(execer driver.ExecerContext) error {
		pragmas := []string{
			"PRAGMA memory_limit='256MB'",
			"PRAGMA threads=2",
			"PRAGMA enable_progress_bar=false",
		}
		for _, pragma := range pragmas {
			if _, err := execer.ExecContext(context.Background(), pragma, nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create DuckDB connector: %w", err)
	}

	db := sql.OpenDB(connector)
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create archive schema: %w", err)
		}
	}

	a := &Archive{
		db:            db,
		path:          path,
		logger:        logger.Named("archive"),
		batchSize:     defaultBatchSize,
		flushInterval: defaultFlushInterval,
		kick:          make(chan struct{}, 1),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.batch = make([]logging.LogEvent, 0, a.batchSize)

	go a.run()
	a.logger.Debug("archive opened", zap.String("path", path))
	return a, nil
}

// Append buffers a log event. It never blocks on the database.
func (a *Archive) Append(evt logging.LogEvent) {
	a.mu.Lock()
	a.batch = append(a.batch, evt)
	full := len(a.batch) >= a.batchSize
	a.mu.Unlock()

	if full {
		select {
		case a.kick <- struct{}{}:
		default:
		}
	}
}

func (a *Archive) run() {
	defer close(a.done)
	ticker := time.NewTicker(a.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stop:
			a.flushAndReport()
			return
		case <-ticker.C:
			a.flushAndReport()
		case <-a.kick:
			a.flushAndReport()
		}
	}
}

func (a *Archive) flushAndReport() {
	err := a.Flush(context.Background())

	a.mu.Lock()
	changed := (err == nil) != (a.lastError == nil)
	a.lastError = err
	a.mu.Unlock()

	// only transitions are logged; the logger feeds back into this archive
	if changed && err != nil {
		a.logger.Warn("archive flush failed", zap.Error(err))
	}
}

// Flush writes buffered events to DuckDB using the Appender API.
func (a *Archive) Flush(ctx context.Context) error {
	a.mu.Lock()
	if len(a.batch) == 0 {
		a.mu.Unlock()
		return nil
	}
	pending := a.batch
	a.batch = make([]logging.LogEvent, 0, a.batchSize)
	a.mu.Unlock()

	if err := a.appendEvents(ctx, pending); err != nil {
		a.requeue(pending)
		return err
	}
	return nil
}

// requeue puts a failed batch back in front of newer events, dropping the
// oldest once the retained backlog is full.
func (a *Archive) requeue(pending []logging.LogEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	merged := make([]logging.LogEvent, 0, len(pending)+len(a.batch))
	merged = append(merged, pending...)
	merged = append(merged, a.batch...)
	if limit := a.batchSize * maxRetainedBatches; len(merged) > limit {
		merged = merged[len(merged)-limit:]
	}
	a.batch = merged
}

func (a *Archive) appendEvents(ctx context.Context, pending []logging.LogEvent) error {
	conn, err := a.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	err = conn.Raw(func(driverConn interface{}) error {
		dConn, ok := driverConn.(*duckdb.Conn)
		if !ok {
			return fmt.Errorf("failed to cast to duckdb.Conn")
		}

		appender, err := duckdb.NewAppenderFromConn(dConn, "", "log_events")
		if err != nil {
			return fmt.Errorf("failed to create appender: %w", err)
		}
		defer appender.Close()

		for i, evt := range pending {
			rank, _ := logging.LevelRank(evt.Level)
			fields := ""
			if len(evt.Fields) > 0 {
				raw, err := json.Marshal(evt.Fields)
				if err != nil {
					return fmt.Errorf("failed to encode fields of row %d: %w", i, err)
				}
				fields = string(raw)
			}
			err := appender.AppendRow(
				int64(evt.Sequence),
				evt.Timestamp.UnixMilli(),
				evt.Level,
				int8(rank),
				evt.Logger,
				evt.Message,
				evt.JobID,
				fields,
			)
			if err != nil {
				return fmt.Errorf("failed to append row %d: %w", i, err)
			}
		}
		return appender.Flush()
	})
	if err != nil {
		return fmt.Errorf("appender error: %w", err)
	}
	return nil
}

// LastError returns the most recent flush error, if any.
func (a *Archive) LastError() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastError
}

// RecentLogs returns up to limit archived events at or above level, newest
// last. An empty level returns every level.
func (a *Archive) RecentLogs(ctx context.Context, level string, limit int) ([]logging.LogEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	minRank, ok := logging.LevelRank(level)
	if !ok {
		minRank = 0
	}

	rows, err := a.db.QueryContext(ctx, `
		SELECT seq, ts, level, logger, message, job_id, fields
		FROM log_events
		WHERE level_rank >= ?
		ORDER BY ts DESC, seq DESC
		LIMIT ?`, minRank, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query log events: %w", err)
	}
	defer rows.Close()

	events := make([]logging.LogEvent, 0, limit)
	for rows.Next() {
		var (
			evt    logging.LogEvent
			seq    int64
			ts     int64
			jobID  sql.NullString
			fields sql.NullString
		)
		if err := rows.Scan(&seq, &ts, &evt.Level, &evt.Logger, &evt.Message, &jobID, &fields); err != nil {
			return nil, fmt.Errorf("failed to scan log event: %w", err)
		}
		evt.Sequence = uint64(seq)
		evt.Timestamp = time.UnixMilli(ts).UTC()
		evt.JobID = jobID.String
		if fields.String != "" {
			if err := json.Unmarshal([]byte(fields.String), &evt.Fields); err != nil {
				return nil, fmt.Errorf("failed to decode fields: %w", err)
			}
		}
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

// RecordUpload stores a successful upload submission.
func (a *Archive) RecordUpload(ctx context.Context, rec models.UploadRecord) error {
	if rec.SubmittedAt.IsZero() {
		rec.SubmittedAt = time.Now()
	}
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO uploads (job_id, file_name, size, queue_position, submitted_at) VALUES (?, ?, ?, ?, ?)`,
		rec.JobID, rec.FileName, rec.Size, rec.QueuePosition, rec.SubmittedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record upload: %w", err)
	}
	return nil
}

// RecentUploads returns up to limit uploads, newest first.
func (a *Archive) RecentUploads(ctx context.Context, limit int) ([]models.UploadRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := a.db.QueryContext(ctx, `
		SELECT job_id, file_name, size, queue_position, submitted_at
		FROM uploads
		ORDER BY submitted_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query uploads: %w", err)
	}
	defer rows.Close()

	out := make([]models.UploadRecord, 0)
	for rows.Next() {
		var (
			rec         models.UploadRecord
			position    int32
			submittedAt int64
		)
		if err := rows.Scan(&rec.JobID, &rec.FileName, &rec.Size, &position, &submittedAt); err != nil {
			return nil, fmt.Errorf("failed to scan upload: %w", err)
		}
		rec.QueuePosition = int(position)
		rec.SubmittedAt = time.UnixMilli(submittedAt).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Path returns the database file location.
func (a *Archive) Path() string {
	return a.path
}

// Close stops the flush loop, writes pending events and closes the database.
func (a *Archive) Close() error {
	var err error
	a.closeOnce.Do(func() {
		close(a.stop)
		<-a.done
		err = a.db.Close()
	})
	return err
}
