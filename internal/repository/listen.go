package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"kitchenledger/internal/logger"
)

const (
	listenMinBackoff = 500 * time.Millisecond
	listenMaxBackoff = 30 * time.Second
)

// Listen keeps one connection, opened outside the pool, subscribed to the
// change channels and turns each notification into a feed signal for every
// live subscriber. It reconnects with backoff until ctx is done. Triggers
// notify per statement and Postgres folds identical notifications of one
// transaction, so a batch write causes a single reload.
func (r *Repository) Listen(ctx context.Context) error {
	backoff := listenMinBackoff
	for {
		connected, err := r.listenOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			backoff = listenMinBackoff
		}
		logger.Warn(ctx).Err(err).Dur("backoff", backoff).Msg("change listener disconnected")

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		backoff = min(backoff*2, listenMaxBackoff)
	}
}

// listenOnce reports whether LISTEN was established before it failed.
func (r *Repository) listenOnce(ctx context.Context) (bool, error) {
	conn, err := pgx.ConnectConfig(ctx, r.pool.Config().ConnConfig.Copy())
	if err != nil {
		return false, storeError("listen", fmt.Errorf("connect: %w", err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = conn.Close(closeCtx)
	}()

	for _, channel := range []string{channelInventory, channelRecipes} {
		if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
			return false, storeError("listen "+channel, err)
		}
	}
	// changes made while disconnected were never announced
	r.inventoryFeed.Notify()
	r.recipeFeed.Notify()
	logger.Info(ctx).Msg("change listener connected")

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return true, storeError("wait for notification", err)
		}
		switch n.Channel {
		case channelInventory:
			r.inventoryFeed.Notify()
		case channelRecipes:
			r.recipeFeed.Notify()
		}
	}
}
