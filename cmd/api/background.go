package main

import (
	"context"
	"time"
)

// reconcilePendingPayments periodically sweeps payment attempts that never
// saw a redirect (closed tab, dropped connection) and runs the status check
// for each, so a successful charge is never lost with the browser.
func (app *application) reconcilePendingPayments() {
	interval := app.config.payment.reconcileEvery
	if interval <= 0 {
		app.logger.Infow("payment reconciler disabled")
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		// Run once immediately
		app.reconcileSweep()

		for range ticker.C {
			app.reconcileSweep()
		}
	}()
}

func (app *application) reconcileSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	// Only attempts old enough for the shopper to have plausibly finished or
	// abandoned the gateway leg.
	cutoff := time.Now().Add(-10 * time.Minute)

	pending, err := app.store.Payments.ListPendingOlderThan(ctx, cutoff, 50)
	if err != nil {
		app.logger.Errorw("reconcile: list pending payments failed", "error", err.Error())
		return
	}
	if len(pending) == 0 {
		return
	}

	app.logger.Infow("reconcile: sweeping pending payments", "count", len(pending))

	for _, pay := range pending {
		order, err := app.store.Orders.GetByID(ctx, pay.OrderID)
		if err != nil {
			app.logger.Errorw("reconcile: order lookup failed", "order_id", pay.OrderID, "error", err.Error())
			continue
		}

		outcome, result := app.settlePayment(ctx, pay, order)
		app.logger.Infow("reconcile: attempt settled",
			"payment_id", pay.ID,
			"outcome", outcome,
			"gateway_status", result.Status,
		)
	}
}
