// Package questdb records mirrored balance and position snapshots into a
// QuestDB instance over the postgres wire protocol, for offline inspection of
// account history. Writes are queued and best effort; a full queue drops the
// sample rather than back-pressuring the message loop.
package questdb

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"account-mirror/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

type BalanceRow struct {
	Time      time.Time
	Asset     string
	Source    string
	Total     float64
	Available float64
	Hold      float64
}

type PositionRow struct {
	Time       time.Time
	PositionID string
	Symbol     string
	Side       string
	Size       float64
	EntryPrice float64
	MarkPrice  float64
	PnL        float64
}

type Writer struct {
	db        *sql.DB
	log       *zap.Logger
	balances  chan BalanceRow
	positions chan PositionRow
	started   atomic.Bool
	dropBal   atomic.Uint64
	dropPos   atomic.Uint64
}

func New(cfg config.QuestDBConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("questdb dsn is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	writer := &Writer{
		db:        db,
		log:       log,
		balances:  make(chan BalanceRow, queueSize),
		positions: make(chan PositionRow, queueSize),
	}
	if err := writer.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

func (w *Writer) EnqueueBalance(row BalanceRow) {
	if w == nil {
		return
	}
	select {
	case w.balances <- row:
		return
	default:
		if w.dropBal.Add(1) == 1 && w.log != nil {
			w.log.Warn("questdb balance queue full")
		}
	}
}

func (w *Writer) EnqueuePosition(row PositionRow) {
	if w == nil {
		return
	}
	select {
	case w.positions <- row:
		return
	default:
		if w.dropPos.Add(1) == 1 && w.log != nil {
			w.log.Warn("questdb position queue full")
		}
	}
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case row := <-w.balances:
			w.writeBalance(ctx, row)
		case row := <-w.positions:
			w.writePosition(ctx, row)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("questdb not initialized")
	}
	if err := w.exec(ctx, `CREATE TABLE IF NOT EXISTS account_balances (
		ts TIMESTAMP,
		asset SYMBOL,
		source SYMBOL,
		total DOUBLE,
		available DOUBLE,
		hold DOUBLE
	) TIMESTAMP(ts) PARTITION BY DAY`); err != nil {
		return err
	}
	return w.exec(ctx, `CREATE TABLE IF NOT EXISTS account_positions (
		ts TIMESTAMP,
		position_id SYMBOL,
		symbol SYMBOL,
		side SYMBOL,
		size DOUBLE,
		entry_price DOUBLE,
		mark_price DOUBLE,
		pnl DOUBLE
	) TIMESTAMP(ts) PARTITION BY DAY`)
}

func (w *Writer) writeBalance(ctx context.Context, row BalanceRow) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if _, err := w.db.ExecContext(ctx,
		`INSERT INTO account_balances (ts, asset, source, total, available, hold) VALUES ($1,$2,$3,$4,$5,$6)`,
		row.Time, row.Asset, row.Source, row.Total, row.Available, row.Hold,
	); err != nil && w.log != nil {
		w.log.Warn("questdb balance insert failed", zap.Error(err))
	}
}

func (w *Writer) writePosition(ctx context.Context, row PositionRow) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if _, err := w.db.ExecContext(ctx,
		`INSERT INTO account_positions (ts, position_id, symbol, side, size, entry_price, mark_price, pnl) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		row.Time, row.PositionID, row.Symbol, row.Side, row.Size, row.EntryPrice, row.MarkPrice, row.PnL,
	); err != nil && w.log != nil {
		w.log.Warn("questdb position insert failed", zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}
