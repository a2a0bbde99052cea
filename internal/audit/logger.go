// Package audit keeps a per-campaign event log with async buffered writes.
package audit

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// Action constants
const (
	ActionCampaignStarted   = "campaign.started"
	ActionCampaignCompleted = "campaign.completed"
	ActionCampaignFailed    = "campaign.failed"
	ActionCampaignStopped   = "campaign.stopped"
	ActionRequeued          = "submissions.requeued"
)

// Metadata is a JSONB object column.
type Metadata map[string]any

// Value implements driver.Valuer
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner
func (m *Metadata) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*m = nil
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("audit: cannot scan %T into metadata", src)
	}
	return json.Unmarshal(data, m)
}

// Entry is one campaign event
type Entry struct {
	ID         uuid.UUID `json:"id" db:"id"`
	CampaignID uuid.UUID `json:"campaign_id" db:"campaign_id"`
	Action     string    `json:"action" db:"action"`
	Metadata   Metadata  `json:"metadata,omitempty" db:"metadata"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// LoggerConfig holds configuration for the event logger
type LoggerConfig struct {
	BufferSize    int           // Max entries to buffer before flush
	FlushInterval time.Duration // Time interval for flushing buffer
}

// DefaultLoggerConfig returns sensible defaults
func DefaultLoggerConfig() LoggerConfig {
	return LoggerConfig{
		BufferSize:    256,
		FlushInterval: 2 * time.Second,
	}
}

// ErrClosed is returned by LogSync after Close.
var ErrClosed = errors.New("audit logger closed")

// Logger provides async buffered event logging
type Logger struct {
	db     *sqlx.DB
	config LoggerConfig
	logger *zap.Logger
	now    func() time.Time

	buffer chan *Entry
	wg     sync.WaitGroup
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewLogger creates a new event logger and starts its writer
func NewLogger(db *sqlx.DB, config LoggerConfig, logger *zap.Logger) *Logger {
	def := DefaultLoggerConfig()
	if config.BufferSize <= 0 {
		config.BufferSize = def.BufferSize
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = def.FlushInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	l := &Logger{
		db:     db,
		config: config,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		buffer: make(chan *Entry, config.BufferSize*2),
		done:   make(chan struct{}),
	}

	l.wg.Add(1)
	go l.backgroundWriter()

	return l
}

// Record queues an event. It never blocks; on a full buffer the entry is
// written directly in the background. Events after Close are dropped.
func (l *Logger) Record(_ context.Context, campaignID uuid.UUID, action string, metadata map[string]any) {
	entry := l.newEntry(campaignID, action, metadata)

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		l.logger.Debug("audit logger closed, dropping event", zap.String("action", action))
		return
	}

	select {
	case l.buffer <- entry:
	default:
		l.logger.Warn("audit buffer full, writing directly",
			zap.String("action", entry.Action),
			zap.String("campaign_id", campaignID.String()),
		)
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			// the caller's context may end before the write does
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := l.writeBatch(ctx, []*Entry{entry}); err != nil {
				l.logger.Error("failed to write audit entry", zap.Error(err))
			}
		}()
	}
}

// LogSync writes an event synchronously
func (l *Logger) LogSync(ctx context.Context, campaignID uuid.UUID, action string, metadata map[string]any) error {
	l.mu.RLock()
	closed := l.closed
	l.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	return l.writeBatch(ctx, []*Entry{l.newEntry(campaignID, action, metadata)})
}

func (l *Logger) newEntry(campaignID uuid.UUID, action string, metadata map[string]any) *Entry {
	return &Entry{
		ID:         uuid.New(),
		CampaignID: campaignID,
		Action:     action,
		Metadata:   metadata,
		CreatedAt:  l.now(),
	}
}

// backgroundWriter continuously flushes the buffer
func (l *Logger) backgroundWriter() {
	defer l.wg.Done()

	batch := make([]*Entry, 0, l.config.BufferSize)
	ticker := time.NewTicker(l.config.FlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		l.flushBatch(batch)
		batch = batch[:0]
	}

	for {
		select {
		case entry := <-l.buffer:
			batch = append(batch, entry)
			if len(batch) >= l.config.BufferSize {
				flush()
			}

		case <-ticker.C:
			flush()

		case <-l.done:
			for {
				select {
				case entry := <-l.buffer:
					batch = append(batch, entry)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (l *Logger) flushBatch(batch []*Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := l.writeBatch(ctx, batch); err != nil {
		l.logger.Error("failed to flush audit batch",
			zap.Error(err),
			zap.Int("batch_size", len(batch)),
		)
		return
	}

	l.logger.Debug("flushed audit batch", zap.Int("count", len(batch)))
}

// writeBatch inserts entries with one multi-row statement
func (l *Logger) writeBatch(ctx context.Context, batch []*Entry) error {
	const cols = 5
	values := make([]string, 0, len(batch))
	args := make([]any, 0, len(batch)*cols)

	for i, e := range batch {
		base := i * cols
		values = append(values, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5))
		args = append(args, e.ID, e.CampaignID, e.Action, e.Metadata, e.CreatedAt)
	}

	query := `INSERT INTO campaign_events (id, campaign_id, action, metadata, created_at) VALUES ` +
		strings.Join(values, ", ") + ` ON CONFLICT DO NOTHING`

	_, err := l.db.ExecContext(ctx, query, args...)
	return err
}

// Close flushes buffered events and stops the writer
func (l *Logger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	close(l.done)
	l.wg.Wait()
	return nil
}

// Query returns a campaign's most recent events, newest first
func (l *Logger) Query(ctx context.Context, campaignID uuid.UUID, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, campaign_id, action, metadata, created_at
		FROM campaign_events
		WHERE campaign_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	var entries []Entry
	if err := l.db.SelectContext(ctx, &entries, query, campaignID, limit); err != nil {
		return nil, fmt.Errorf("querying campaign events: %w", err)
	}
	return entries, nil
}
