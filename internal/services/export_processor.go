package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"splitledger/internal/core"
	"splitledger/internal/ledger"
	"splitledger/internal/log"
	"splitledger/internal/sheets"
	"splitledger/internal/storage"
)

type ExportProcessorConfig struct {
	// PollInterval is how often pending charges are checked (default: 30s)
	PollInterval time.Duration

	// BatchSize caps the charges exported per poll (default: 25)
	BatchSize int

	// MaxRetries is how many failed attempts a charge revision gets before
	// it is skipped until its next edit (default: 3)
	MaxRetries int
}

func DefaultExportProcessorConfig() ExportProcessorConfig {
	return ExportProcessorConfig{
		PollInterval: 30 * time.Second,
		BatchSize:    25,
		MaxRetries:   3,
	}
}

type ExportStore interface {
	GetCharge(ctx context.Context, id core.ChargeID) (core.Charge, error)
	PendingExports(ctx context.Context, limit int) ([]storage.PendingExport, error)
	MarkExported(ctx context.Context, id core.ChargeID, version int64) (bool, error)
}

type BalanceSource interface {
	SheetFor(ctx context.Context, groupID core.GroupID) (ledger.BalanceSheet, error)
}

type attemptKey struct {
	id      core.ChargeID
	version int64
}

// ExportProcessor copies charges and balance snapshots to the export target.
// Event handlers call it directly; the poll loop catches anything whose
// event was lost.
type ExportProcessor struct {
	store    ExportStore
	exporter sheets.Exporter
	balances BalanceSource
	config   ExportProcessorConfig
	logger   *log.Logger

	attemptsMu sync.Mutex
	attempts   map[attemptKey]int

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewExportProcessor(store ExportStore, exporter sheets.Exporter, balances BalanceSource, config ExportProcessorConfig, logger *log.Logger) *ExportProcessor {
	return &ExportProcessor{
		store:    store,
		exporter: exporter,
		balances: balances,
		config:   config,
		logger:   logger.WithComponent(log.ComponentSheets),
		attempts: make(map[attemptKey]int),
	}
}

// Start begins the polling loop. Returns an error if already running.
func (p *ExportProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return errors.New("export processor is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})

	go p.runLoop(ctx)

	p.logger.InfoContext(ctx, "Export processor started",
		"poll_interval", p.config.PollInterval,
		"batch_size", p.config.BatchSize)
	return nil
}

// Stop signals the loop and waits for it to finish or for ctx to expire.
func (p *ExportProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	close(p.stopCh)
	done := p.doneCh
	p.mu.Unlock()

	select {
	case <-done:
		p.logger.InfoContext(ctx, "Export processor stopped")
		return nil
	case <-ctx.Done():
		p.logger.WarnContext(ctx, "Export processor stop timed out")
		return ctx.Err()
	}
}

func (p *ExportProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *ExportProcessor) runLoop(ctx context.Context) {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	p.processPending(ctx)

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.processPending(ctx)
		}
	}
}

func (p *ExportProcessor) processPending(ctx context.Context) {
	if _, err := p.ProcessPending(ctx); err != nil {
		p.logger.ErrorContext(ctx, "Pending export batch failed", log.FieldError, err)
	}
}

// ProcessPending exports one batch of charges that changed since their last
// export, then refreshes the balance snapshot of every group touched. It
// returns how many charges were exported.
func (p *ExportProcessor) ProcessPending(ctx context.Context) (int, error) {
	pending, err := p.store.PendingExports(ctx, p.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list pending exports: %w", err)
	}

	exported := 0
	groups := make(map[core.GroupID]bool)
	for _, item := range pending {
		if ctx.Err() != nil {
			return exported, ctx.Err()
		}
		key := attemptKey{item.ID, item.Version}
		if p.attemptCount(key) >= p.config.MaxRetries {
			continue
		}

		if err := p.ExportCharge(ctx, item.ID); err != nil {
			n := p.recordAttempt(key)
			p.logger.WarnContext(ctx, "Charge export failed",
				log.FieldChargeID, int64(item.ID),
				"attempt", n,
				log.FieldError, err)
			if n >= p.config.MaxRetries {
				p.logger.ErrorContext(ctx, "Charge export gave up until next edit",
					log.FieldChargeID, int64(item.ID),
					"version", item.Version)
			}
			continue
		}
		exported++
		groups[item.GroupID] = true
	}

	for gid := range groups {
		if err := p.ExportGroupBalances(ctx, gid); err != nil {
			p.logger.WarnContext(ctx, "Balance snapshot export failed", log.FieldGroupID, int64(gid), log.FieldError, err)
		}
	}
	return exported, nil
}

// ExportCharge exports the current revision of a charge and marks that
// revision exported.
func (p *ExportProcessor) ExportCharge(ctx context.Context, id core.ChargeID) error {
	c, err := p.store.GetCharge(ctx, id)
	if err != nil {
		return fmt.Errorf("get charge %d: %w", id, err)
	}

	ref, err := p.exporter.ExportCharge(ctx, c)
	if err != nil {
		return fmt.Errorf("export charge %d: %w", id, err)
	}

	current, err := p.store.MarkExported(ctx, id, c.Version)
	if err != nil {
		// The row is out; a retry only duplicates an audit line.
		p.logger.WarnContext(ctx, "Failed to mark charge exported", log.FieldChargeID, int64(id), log.FieldError, err)
	}
	if !current {
		p.logger.DebugContext(ctx, "Charge changed during export, will export again", log.FieldChargeID, int64(id))
	}

	p.clearAttempts(id)
	p.logger.InfoContext(ctx, "Charge exported",
		log.FieldChargeID, int64(id),
		"version", c.Version,
		log.FieldSheetsRef, ref)
	return nil
}

func (p *ExportProcessor) ExportGroupBalances(ctx context.Context, groupID core.GroupID) error {
	sheet, err := p.balances.SheetFor(ctx, groupID)
	if err != nil {
		return fmt.Errorf("compute balances: %w", err)
	}
	if err := p.exporter.ExportBalances(ctx, groupID, sheet); err != nil {
		return fmt.Errorf("export balances for group %d: %w", groupID, err)
	}
	return nil
}

func (p *ExportProcessor) attemptCount(k attemptKey) int {
	p.attemptsMu.Lock()
	defer p.attemptsMu.Unlock()
	return p.attempts[k]
}

func (p *ExportProcessor) recordAttempt(k attemptKey) int {
	p.attemptsMu.Lock()
	defer p.attemptsMu.Unlock()
	p.attempts[k]++
	return p.attempts[k]
}

func (p *ExportProcessor) clearAttempts(id core.ChargeID) {
	p.attemptsMu.Lock()
	defer p.attemptsMu.Unlock()
	for k := range p.attempts {
		if k.id == id {
			delete(p.attempts, k)
		}
	}
}
