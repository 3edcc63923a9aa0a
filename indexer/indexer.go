package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"yieldprotocol/core"
)

// ErrNotFound is returned when a receipt is not indexed.
var ErrNotFound = errors.New("indexer: not found")

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// Open connects to the configured relational store.
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("indexer: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("indexer: open %s: %w", driver, err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("indexer: migrate: %w", err)
	}
	return db, nil
}

// Indexer mirrors committed receipts into a relational store for querying.
type Indexer struct {
	db     *gorm.DB
	logger *slog.Logger
}

// New wraps db. A nil logger uses slog.Default.
func New(db *gorm.DB, log *slog.Logger) *Indexer {
	if log == nil {
		log = slog.Default()
	}
	return &Indexer{db: db, logger: log.With(slog.String("component", "indexer"))}
}

// DB exposes the underlying handle.
func (ix *Indexer) DB() *gorm.DB { return ix.db }

// Record stores a receipt and its events in one transaction. Receipts already
// indexed are skipped.
func (ix *Indexer) Record(ctx context.Context, receipt core.Receipt) error {
	return ix.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&ReceiptRecord{}).Where("tx_id = ?", receipt.TxID).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return nil
		}
		row := ReceiptRecord{
			TxID:       receipt.TxID,
			Op:         receipt.Op,
			Height:     receipt.Height,
			Timestamp:  receipt.Timestamp.UTC(),
			EventCount: len(receipt.Events),
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		if len(receipt.Events) == 0 {
			return nil
		}
		events := make([]EventRecord, 0, len(receipt.Events))
		for i, evt := range receipt.Events {
			if evt == nil {
				continue
			}
			attrs, err := json.Marshal(evt.Attributes)
			if err != nil {
				return err
			}
			events = append(events, EventRecord{
				ID:         uuid.New(),
				TxID:       receipt.TxID,
				Height:     receipt.Height,
				Seq:        i,
				Type:       evt.Type,
				Attributes: string(attrs),
				Timestamp:  receipt.Timestamp.UTC(),
			})
		}
		return tx.Create(&events).Error
	})
}

// Subscriber adapts Record to the ledger's receipt hook. Failures are logged;
// the ledger state is authoritative and the index can be rebuilt.
func (ix *Indexer) Subscriber() core.Subscriber {
	return func(receipt core.Receipt) {
		if err := ix.Record(context.Background(), receipt); err != nil {
			ix.logger.Error("index receipt failed",
				slog.String("tx_id", receipt.TxID),
				slog.Uint64("height", receipt.Height),
				slog.String("error", err.Error()))
		}
	}
}

// Query filters indexed events.
type Query struct {
	Type       string
	TxID       string
	FromHeight uint64
	Limit      int
}

// Event is the decoded form of an EventRecord.
type Event struct {
	TxID       string            `json:"txId"`
	Height     uint64            `json:"height"`
	Seq        int               `json:"seq"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	Timestamp  int64             `json:"timestamp"`
}

// Events returns matching events ordered by height and position.
func (ix *Indexer) Events(ctx context.Context, q Query) ([]Event, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	tx := ix.db.WithContext(ctx).Model(&EventRecord{}).Where("height >= ?", q.FromHeight)
	if t := strings.TrimSpace(q.Type); t != "" {
		tx = tx.Where("type = ?", t)
	}
	if id := strings.TrimSpace(q.TxID); id != "" {
		tx = tx.Where("tx_id = ?", id)
	}
	var rows []EventRecord
	if err := tx.Order("height asc").Order("seq asc").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Event, 0, len(rows))
	for _, row := range rows {
		attrs := map[string]string{}
		if row.Attributes != "" {
			if err := json.Unmarshal([]byte(row.Attributes), &attrs); err != nil {
				return nil, fmt.Errorf("indexer: decode attributes for %s: %w", row.TxID, err)
			}
		}
		out = append(out, Event{
			TxID:       row.TxID,
			Height:     row.Height,
			Seq:        row.Seq,
			Type:       row.Type,
			Attributes: attrs,
			Timestamp:  row.Timestamp.Unix(),
		})
	}
	return out, nil
}

// Receipt loads one indexed receipt.
func (ix *Indexer) Receipt(ctx context.Context, txID string) (*ReceiptRecord, error) {
	var row ReceiptRecord
	err := ix.db.WithContext(ctx).First(&row, "tx_id = ?", txID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// LatestHeight returns the highest indexed height, or zero when empty.
func (ix *Indexer) LatestHeight(ctx context.Context) (uint64, error) {
	var height uint64
	err := ix.db.WithContext(ctx).Model(&ReceiptRecord{}).Select("COALESCE(MAX(height), 0)").Scan(&height).Error
	return height, err
}
