// Package credits meters paid AI operations against per-user credit balances.
//
// Credits is a library, not a service. It gates every charge behind an atomic
// conditional decrement in the backing store and keeps an append-only usage
// ledger next to the balance. It provides:
//
//   - A deterministic cost calculator driven by a static operation table
//   - Overdraft-free deductions under any number of concurrent callers
//   - Top-ups with typed reasons and absolute monthly allowance resets
//   - Usage statistics aggregated from the ledger
//   - Audit trail and Prometheus metrics via plugins
//
// # Quick Start
//
//	import (
//	    "github.com/xraph/credits"
//	    "github.com/xraph/credits/store/memory"
//	)
//
//	engine := credits.New(memory.New())
//	if err := engine.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Stop()
//
//	if _, err := engine.CreateAccount(ctx, "user-1", "", credits.PlanFree); err != nil {
//	    log.Fatal(err)
//	}
//
// # Charging
//
// DeductCredits prices the operation and subtracts it in one store update:
//
//	res, err := engine.DeductCredits(ctx, "user-1", credits.OperationImageGeneration, credits.DeductOptions{
//	    Hints:    credits.Hints{ImageCount: 4},
//	    Provider: "openai",
//	})
//	if err != nil {
//	    return err // validation, missing account or store failure
//	}
//	if !res.Success {
//	    // Not enough credits; res.Shortfall says how many are missing.
//	}
//
// An insufficient balance is an expected outcome and is reported on the
// result, not as an error. CheckCredits is available for display purposes but
// must never be used as the gate for a charge.
//
// # Replenishment
//
//	engine.AddCredits(ctx, "user-1", 500, credits.ReasonPurchase, map[string]string{"order": "o-1"})
//	engine.ResetMonthlyCredits(ctx, "user-1") // balance becomes the plan allowance
//
// # Stores
//
// Backends live under store/: memory, mongo, postgres, sqlite and redis. Each
// implements the conditional decrement natively (mutex, FindOneAndUpdate,
// UPDATE ... WHERE credits >= n, Lua script).
package credits
