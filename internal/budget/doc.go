// Copyright (c) GatewayLLM Authors.
// Licensed under the MIT License.

/*
Package budget provides token budget management and cost control,
guarding against runaway LLM spend through multi-window rate limiting
and alerting.

# Overview

LLM calls bill per token; left uncontrolled they can produce surprise
bills. TokenBudgetManager tracks token usage and cost across minute,
hour, and day windows simultaneously, raising alerts or throttling as
the configured thresholds approach.

# Core types

  - TokenBudgetManager: records usage, checks limits, fires alerts.
  - BudgetConfig: per-window token ceilings, cost ceilings, alert
    threshold, and throttle policy.
  - AlertHandler: callback invoked when usage crosses the threshold.

# Capabilities

  - Four token limits: per-request, per-minute, per-hour, per-day.
  - Two cost limits: per-request and per-day.
  - Auto-throttle when the minute window tops out, rejecting requests
    until the throttle delay passes.
  - Threshold alerts at a configurable utilization percentage, with
    multiple registered handlers.
  - Thread safety through atomics and an RWMutex.
  - Windows reset automatically on expiry.

# Usage

	cfg := budget.DefaultBudgetConfig()
	mgr := budget.NewTokenBudgetManager(cfg, logger)
	mgr.OnAlert(func(a budget.Alert) { log.Println(a.Message) })

	if err := mgr.CheckBudget(ctx, 5000, 0.05); err != nil {
	    // over budget, reject the request
	}
	mgr.RecordUsage(budget.UsageRecord{Tokens: 4800, Cost: 0.048, Model: "gpt-4"})
*/
package budget
