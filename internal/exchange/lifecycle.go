package exchange

import (
	"context"

	"coin-exchange/internal/errors"
	"coin-exchange/internal/models"
)

// Start launches background market updates. It returns false if they were
// already running.
func (e *Exchange) Start(ctx context.Context) bool {
	return e.scheduler.Start(ctx)
}

// Stop halts background updates, waits for the in-flight iteration and then
// for event firings still in progress.
func (e *Exchange) Stop() {
	e.scheduler.Stop()
	e.events.Wait()
}

// Running reports whether background updates are active.
func (e *Exchange) Running() bool {
	return e.scheduler.Running()
}

// Scheduler returns the background update loop.
func (e *Exchange) Scheduler() *Scheduler { return e.scheduler }

// Close stops updates, saves a final snapshot and closes the store.
func (e *Exchange) Close(ctx context.Context) error {
	e.Stop()
	saveErr := e.SaveSnapshot(ctx)
	closeErr := e.store.Close()
	return errors.Join(saveErr, closeErr)
}

// Snapshot captures the full market, account and order state.
func (e *Exchange) Snapshot() *models.Snapshot {
	e.mu.Lock()
	prices, vols, means := e.market.Export()
	balances, positions := e.ledger.Export()
	orders := e.book.Export()
	e.mu.Unlock()

	return &models.Snapshot{
		MarketPrices:      prices,
		UserBalances:      balances,
		UserPositions:     positions,
		PendingOrders:     orders,
		CurrentVolatility: vols,
		DynamicMeans:      means,
		LastEventAt:       e.events.LastFired(),
		SavedAt:           e.clock.Now(),
	}
}

// SaveSnapshot persists the current state.
func (e *Exchange) SaveSnapshot(ctx context.Context) error {
	snap := e.Snapshot()

	ctx, cancel := e.storeContext(ctx)
	defer cancel()
	if err := errors.WithTimeout(e.store.SaveSnapshot(ctx, snap)); err != nil {
		e.logger.Error().Err(err).Msg("Failed to save snapshot")
		return err
	}
	e.logger.Debug().Int("users", len(snap.UserBalances)).Msg("Snapshot saved")
	return nil
}

// LoadSnapshot restores the last saved state. It returns false, with no
// error, when nothing has been saved yet.
func (e *Exchange) LoadSnapshot(ctx context.Context) (bool, error) {
	ctx, cancel := e.storeContext(ctx)
	defer cancel()

	snap, err := e.store.LoadSnapshot(ctx)
	if errors.Is(err, errors.ErrDataNotFound) {
		e.logger.Info().Msg("No snapshot found, starting fresh market")
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(errors.WithTimeout(err), "loading snapshot")
	}

	e.Restore(snap)
	e.logger.Info().
		Time("saved_at", snap.SavedAt).
		Int("users", len(snap.UserBalances)).
		Msg("Snapshot restored")
	return true, nil
}

// Restore replaces the market, account and order state with snap.
func (e *Exchange) Restore(snap *models.Snapshot) {
	e.mu.Lock()
	e.market.Restore(snap.MarketPrices, snap.CurrentVolatility, snap.DynamicMeans)
	e.ledger.Restore(snap.UserBalances, snap.UserPositions)
	e.book.Restore(snap.PendingOrders)
	e.mu.Unlock()

	if !snap.LastEventAt.IsZero() {
		e.events.SetLastFired(snap.LastEventAt)
	}
}
