// Package engine implements the ledger's only mutation entry points:
// Submit and Reverse. The engine validates requests, deduplicates retries,
// orders account locks deterministically, applies balance mutations as an
// all-or-nothing unit, and records every terminal outcome in the journal.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/securebank/ledger-core/internal/account"
	"github.com/securebank/ledger-core/internal/asset"
	"github.com/securebank/ledger-core/internal/events"
	"github.com/securebank/ledger-core/internal/idempotency"
	"github.com/securebank/ledger-core/internal/journal"
	"github.com/securebank/ledger-core/internal/metrics"
	"github.com/securebank/ledger-core/internal/oracle"
)

// Config carries the policy values the engine enforces. Zero values fall
// back to the defaults in withDefaults.
type Config struct {
	// FeeAccountID receives fee line items. Required when any fee is
	// non-zero.
	FeeAccountID string
	// Fees is the flat per-type fee schedule, in fiat minor units. Fees
	// apply to the fiat-debited types only.
	Fees map[TxType]int64
	// RateFreshness is the maximum age of an oracle rate at apply time.
	RateFreshness time.Duration
	// OracleTimeout bounds a single oracle call.
	OracleTimeout time.Duration
	// ReversalWindow bounds how long after apply a reversal is accepted.
	ReversalWindow time.Duration
	// OracleAttempts bounds oracle retries before ServiceUnavailable.
	OracleAttempts int
	// RetryBaseDelay seeds the exponential backoff between attempts.
	RetryBaseDelay time.Duration
	Limits         LimitPolicy
}

func (c Config) withDefaults() Config {
	if c.RateFreshness <= 0 {
		c.RateFreshness = 30 * time.Second
	}
	if c.OracleTimeout <= 0 {
		c.OracleTimeout = 3 * time.Second
	}
	if c.ReversalWindow <= 0 {
		c.ReversalWindow = 24 * time.Hour
	}
	if c.OracleAttempts <= 0 {
		c.OracleAttempts = 3
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 25 * time.Millisecond
	}
	if c.Limits == nil {
		c.Limits = DefaultLimits()
	}
	return c
}

// Deps are the collaborators the engine orchestrates. Accounts, Journal and
// Guard are required; adapters and the publisher are optional.
type Deps struct {
	Accounts  account.Store
	Journal   journal.Journal
	Guard     *idempotency.Guard
	Oracle    oracle.PricingOracle
	Gateway   oracle.SettlementGateway
	Auth      oracle.AuthProvider
	Publisher events.Publisher
	Assets    *asset.Catalog
	Metrics   *metrics.Metrics
}

// Engine is the transaction processing core. It holds explicit references
// to its collaborators; there is no process-wide mutable state.
type Engine struct {
	cfg       Config
	accounts  account.Store
	journal   journal.Journal
	guard     *idempotency.Guard
	oracle    oracle.PricingOracle
	gateway   oracle.SettlementGateway
	auth      oracle.AuthProvider
	publisher events.Publisher
	assets    *asset.Catalog
	metrics   *metrics.Metrics
}

// New constructs an engine.
func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Accounts == nil || deps.Journal == nil || deps.Guard == nil {
		return nil, errors.New("engine requires an account store, a journal and an idempotency guard")
	}
	cfg = cfg.withDefaults()
	for t, fee := range cfg.Fees {
		if !t.Valid() {
			return nil, fmt.Errorf("fee configured for unknown transaction type %s", t)
		}
		if fee < 0 {
			return nil, fmt.Errorf("negative fee configured for %s", t)
		}
		if fee > 0 && cfg.FeeAccountID == "" {
			return nil, fmt.Errorf("fee configured for %s but no fee account", t)
		}
	}
	if deps.Assets == nil {
		deps.Assets = asset.Default()
	}
	if deps.Publisher == nil {
		deps.Publisher = events.NopPublisher{}
	}
	return &Engine{
		cfg:       cfg,
		accounts:  deps.Accounts,
		journal:   deps.Journal,
		guard:     deps.Guard,
		oracle:    deps.Oracle,
		gateway:   deps.Gateway,
		auth:      deps.Auth,
		publisher: deps.Publisher,
		assets:    deps.Assets,
		metrics:   deps.Metrics,
	}, nil
}

// ruleViolation aborts the locked section with a journaled rejection.
type ruleViolation struct {
	reason string
}

func (v *ruleViolation) Error() string { return "business rule violated: " + v.reason }

// move is one planned balance delta.
type move struct {
	acct  account.Account
	delta int64
	fee   int64 // informational: fee portion included in delta
}

// Submit is the only mutation entry point for new transactions. Business
// and validation failures come back as typed results; only transient
// conditions (wrapped ErrServiceUnavailable) and broken internal invariants
// return a non-nil error.
func (e *Engine) Submit(ctx context.Context, req TransactionRequest) (TransactionResult, error) {
	lc := newLifecycle()

	if reason := e.validateShape(req); reason != "" {
		// Malformed input: rejected before any journal write, not counted
		// against limits, and not bound to the idempotency key.
		e.metrics.ObserveSubmission(string(req.Type), string(StatusRejected))
		return TransactionResult{Status: StatusRejected, ReasonCode: reason}, nil
	}

	switch state, prior := e.guard.CheckOrReserve(req.RequestID); state {
	case idempotency.Done:
		res, ok := prior.(TransactionResult)
		if !ok {
			return TransactionResult{}, fmt.Errorf("unexpected idempotency payload for %s", req.RequestID)
		}
		res.Status = StatusDuplicate
		return res, nil
	case idempotency.InFlight:
		return TransactionResult{}, fmt.Errorf("request %s already in flight: %w", req.RequestID, ErrServiceUnavailable)
	}
	if err := lc.advance(StateValidating); err != nil {
		return TransactionResult{}, err
	}

	// External adapter work happens strictly before any account lock.
	var rate *oracle.Rate
	if req.Type.Priced() {
		r, err := e.fetchRate(ctx, req.Asset)
		if err != nil {
			e.guard.Release(req.RequestID)
			return TransactionResult{}, err
		}
		rate = &r
	}

	from, to, feeAcct, reason, err := e.resolveAccounts(ctx, req)
	if err != nil {
		e.guard.Release(req.RequestID)
		return TransactionResult{}, err
	}
	if reason == "" && req.Type == TxDeposit {
		reason = e.checkSettlement(ctx, req, &err)
		if err != nil {
			e.guard.Release(req.RequestID)
			return TransactionResult{}, err
		}
	}
	if reason != "" {
		return e.rejectJournaled(ctx, req, lc, firstResolved(from, to), reason, rate)
	}

	tier := oracle.TierBasic
	if e.auth != nil {
		tier, err = e.auth.KYCTier(ctx, from.OwnerID)
		if err != nil {
			e.guard.Release(req.RequestID)
			return TransactionResult{}, fmt.Errorf("kyc tier lookup failed: %w", ErrServiceUnavailable)
		}
	}

	moves, reason := e.plan(req, from, to, feeAcct, rate)
	if reason != "" {
		return e.rejectJournaled(ctx, req, lc, from, reason, rate)
	}

	var (
		entries []*journal.LedgerEntry
		ids     = make([]string, 0, len(moves))
	)
	for _, m := range moves {
		ids = append(ids, m.acct.ID)
	}

	lockStart := time.Now()
	err = e.accounts.WithLock(ctx, ids, func(tx account.Txn) error {
		now := time.Now().UTC()
		if rate != nil && !rate.FreshAt(now, e.cfg.RateFreshness) {
			return &ruleViolation{reason: ReasonStaleRate}
		}
		if reason := e.recheckStatus(ctx, moves); reason != "" {
			return &ruleViolation{reason: reason}
		}
		if reason, err := e.checkFundsAndLimits(ctx, req, moves, tx, tier, now); err != nil {
			return err
		} else if reason != "" {
			return &ruleViolation{reason: reason}
		}

		var err error
		entries, err = e.buildEntries(req, moves, rate, tx)
		if err != nil {
			return err
		}
		// Mutations are staged until this callback returns, so appending
		// last means a journal failure discards every balance change: no
		// balance ever moves without its journal entry.
		if err := e.journal.Append(ctx, entries); err != nil {
			return fmt.Errorf("journal append failed: %w", ErrServiceUnavailable)
		}
		return nil
	})
	e.metrics.ObserveLockHold(time.Since(lockStart))

	if err != nil {
		var rv *ruleViolation
		switch {
		case errors.As(err, &rv):
			return e.rejectJournaled(ctx, req, lc, from, rv.reason, rate)
		case errors.Is(err, account.ErrNotFound):
			return e.rejectJournaled(ctx, req, lc, nil, ReasonAccountNotFound, rate)
		case errors.Is(err, ErrConsistency):
			slog.Error("consistency violation, manual intervention required", "request_id", req.RequestID, "error", err)
			return TransactionResult{}, err
		default:
			e.guard.Release(req.RequestID)
			if errors.Is(err, ErrServiceUnavailable) {
				return TransactionResult{}, err
			}
			return TransactionResult{}, fmt.Errorf("lock section failed: %w (%v)", ErrServiceUnavailable, err)
		}
	}

	if err := lc.advance(StateApplied); err != nil {
		return TransactionResult{}, err
	}

	primary := entries[0]
	res := TransactionResult{
		Status:        StatusApplied,
		LedgerEntryID: primary.ID,
		NewBalance:    primary.BalanceAfter,
	}
	if cerr := e.guard.Complete(req.RequestID, res); cerr != nil {
		slog.Warn("idempotency key lost before completion, replay protection gone",
			"request_id", req.RequestID, "error", cerr)
	}
	e.metrics.ObserveSubmission(string(req.Type), string(StatusApplied))
	e.publish(ctx, primary)
	return res, nil
}

// validateShape returns a reason code for malformed input, or "".
func (e *Engine) validateShape(req TransactionRequest) string {
	switch {
	case req.RequestID == "",
		req.FromAccount == "",
		req.Amount <= 0,
		!req.Type.Valid():
		return ReasonValidation
	}
	if _, ok := e.assets.Lookup(req.Asset); !ok {
		return ReasonValidation
	}
	if req.Type.NeedsDestination() {
		if req.ToAccount == "" || req.ToAccount == req.FromAccount {
			return ReasonValidation
		}
	}
	return ""
}

// resolveAccounts loads every account the request touches. It returns a
// rejection reason for missing/closed accounts or asset mismatches, and a
// transient error for store failures.
func (e *Engine) resolveAccounts(ctx context.Context, req TransactionRequest) (from, to, feeAcct *account.Account, reason string, err error) {
	load := func(id string) (*account.Account, string, error) {
		acct, gerr := e.accounts.GetAccount(ctx, id)
		if gerr != nil {
			if errors.Is(gerr, account.ErrNotFound) {
				return nil, ReasonAccountNotFound, nil
			}
			return nil, "", fmt.Errorf("account lookup failed: %w", ErrServiceUnavailable)
		}
		return &acct, "", nil
	}

	from, reason, err = load(req.FromAccount)
	if err != nil || reason != "" {
		return from, nil, nil, reason, err
	}
	if req.Type.NeedsDestination() {
		to, reason, err = load(req.ToAccount)
		if err != nil || reason != "" {
			return from, to, nil, reason, err
		}
	}
	if e.feeFor(req.Type) > 0 {
		feeAcct, reason, err = load(e.cfg.FeeAccountID)
		if err != nil || reason != "" {
			return from, to, feeAcct, reason, err
		}
	}

	for _, acct := range []*account.Account{from, to, feeAcct} {
		if acct != nil && acct.Status == account.StatusClosed {
			return from, to, feeAcct, ReasonAccountClosed, nil
		}
	}
	if reason := e.checkAssets(req, from, to); reason != "" {
		return from, to, feeAcct, reason, nil
	}
	return from, to, feeAcct, "", nil
}

// checkAssets enforces per-type asset compatibility between the request and
// the accounts it touches.
func (e *Engine) checkAssets(req TransactionRequest, from, to *account.Account) string {
	reqAsset := e.assets.MustLookup(req.Asset)
	fiat := func(a *account.Account) bool {
		def, ok := e.assets.Lookup(a.Asset)
		return ok && def.Kind == asset.KindFiat
	}
	same := func(a *account.Account) bool { return a.Asset == req.Asset }

	switch req.Type {
	case TxCryptoBuy:
		if reqAsset.Kind != asset.KindCrypto || !fiat(from) || !same(to) {
			return ReasonAssetMismatch
		}
	case TxCryptoSell:
		if reqAsset.Kind != asset.KindCrypto || !same(from) || !fiat(to) {
			return ReasonAssetMismatch
		}
	case TxGiftCardSettle:
		if reqAsset.Kind != asset.KindGiftCard || !same(from) || !fiat(to) {
			return ReasonAssetMismatch
		}
	case TxTransfer:
		if !same(from) || !same(to) {
			return ReasonAssetMismatch
		}
	default:
		if !same(from) {
			return ReasonAssetMismatch
		}
	}
	return ""
}

// checkSettlement verifies an external deposit when the request names a
// settlement reference. Unknown references reject; gateway outages are
// transient.
func (e *Engine) checkSettlement(ctx context.Context, req TransactionRequest, outErr *error) string {
	ref := req.Metadata["settlement_ref"]
	if ref == "" || e.gateway == nil {
		return ""
	}
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.OracleTimeout)
	defer cancel()
	evt, err := e.gateway.VerifySettlement(callCtx, ref)
	if err != nil {
		if errors.Is(err, oracle.ErrUnknownReference) {
			return ReasonSettlementUnverified
		}
		*outErr = fmt.Errorf("settlement verification failed: %w", ErrServiceUnavailable)
		return ""
	}
	if evt.Asset != req.Asset || evt.Amount != req.Amount {
		return ReasonSettlementUnverified
	}
	return ""
}

// feeFor returns the configured flat fee for fiat-debited types.
func (e *Engine) feeFor(t TxType) int64 {
	switch t {
	case TxTransfer, TxWithdrawal, TxBillPayment, TxCryptoBuy:
		return e.cfg.Fees[t]
	}
	return 0
}

// plan computes the signed balance deltas for the request. The first move
// is the primary one reported in the result.
func (e *Engine) plan(req TransactionRequest, from, to, feeAcct *account.Account, rate *oracle.Rate) ([]move, string) {
	fee := e.feeFor(req.Type)

	switch req.Type {
	case TxDeposit:
		return []move{{acct: *from, delta: req.Amount}}, ""
	case TxWithdrawal, TxBillPayment:
		moves := []move{{acct: *from, delta: -(req.Amount + fee), fee: fee}}
		if fee > 0 {
			moves = append(moves, move{acct: *feeAcct, delta: fee})
		}
		return moves, ""
	case TxTransfer:
		moves := []move{
			{acct: *from, delta: -(req.Amount + fee), fee: fee},
			{acct: *to, delta: req.Amount},
		}
		if fee > 0 {
			moves = append(moves, move{acct: *feeAcct, delta: fee})
		}
		return moves, ""
	case TxCryptoBuy:
		credit := convertToAsset(req.Amount, rate.Price, e.assets.MustLookup(req.Asset).Decimals)
		if credit <= 0 {
			return nil, ReasonAmountTooSmall
		}
		moves := []move{
			{acct: *from, delta: -(req.Amount + fee), fee: fee},
			{acct: *to, delta: credit},
		}
		if fee > 0 {
			moves = append(moves, move{acct: *feeAcct, delta: fee})
		}
		return moves, ""
	case TxCryptoSell, TxGiftCardSettle:
		credit := convertToFiat(req.Amount, rate.Price, e.assets.MustLookup(req.Asset).Decimals)
		if credit <= 0 {
			return nil, ReasonAmountTooSmall
		}
		return []move{
			{acct: *from, delta: -req.Amount},
			{acct: *to, delta: credit},
		}, ""
	}
	return nil, ReasonValidation
}

// convertToAsset converts a fiat minor-unit spend into asset minor units at
// price (fiat minor units per whole asset unit), rounding down.
func convertToAsset(fiatMinor int64, price decimal.Decimal, assetDecimals int32) int64 {
	whole := decimal.NewFromInt(fiatMinor).DivRound(price, 18)
	return whole.Mul(decimal.New(1, assetDecimals)).Floor().IntPart()
}

// convertToFiat converts asset minor units into fiat minor units at price,
// rounding down.
func convertToFiat(assetMinor int64, price decimal.Decimal, assetDecimals int32) int64 {
	whole := decimal.NewFromInt(assetMinor).Div(decimal.New(1, assetDecimals))
	return whole.Mul(price).Floor().IntPart()
}

// recheckStatus re-reads every account under lock: frozen or suspended
// accounts reject, closed accounts cannot be touched at all.
func (e *Engine) recheckStatus(ctx context.Context, moves []move) string {
	for _, m := range moves {
		acct, err := e.accounts.GetAccount(ctx, m.acct.ID)
		if err != nil {
			return ReasonAccountNotFound
		}
		switch acct.Status {
		case account.StatusFrozen, account.StatusSuspended:
			return ReasonAccountFrozen
		case account.StatusClosed:
			return ReasonAccountClosed
		}
	}
	return ""
}

// checkFundsAndLimits re-checks balances and tier limits under lock.
func (e *Engine) checkFundsAndLimits(ctx context.Context, req TransactionRequest, moves []move, tx account.Txn, tier oracle.Tier, now time.Time) (string, error) {
	for _, m := range moves {
		if m.delta >= 0 {
			continue
		}
		bal, err := tx.Balance(m.acct.ID)
		if err != nil {
			return "", err
		}
		if bal.Amount+m.delta < -m.acct.OverdraftLimit {
			return ReasonInsufficientFunds, nil
		}
	}

	limits := e.cfg.Limits.For(tier)
	debit := -moves[0].delta
	if debit <= 0 {
		return "", nil
	}
	if single := limits.Single(req.Type); single > 0 && debit > single {
		return ReasonLimitExceeded, nil
	}
	if daily := limits.Daily(req.Type); daily > 0 {
		used, err := e.journal.SumDebitsForDay(ctx, req.FromAccount, string(req.Type), now)
		if err != nil {
			return "", fmt.Errorf("daily usage lookup failed: %w", ErrServiceUnavailable)
		}
		if used+debit > daily {
			return ReasonLimitExceeded, nil
		}
	}
	return "", nil
}

// buildEntries applies each move against the staged transaction view and
// materializes one journal entry per move with its post-mutation balance.
func (e *Engine) buildEntries(req TransactionRequest, moves []move, rate *oracle.Rate, tx account.Txn) ([]*journal.LedgerEntry, error) {
	rateStr := ""
	if rate != nil {
		rateStr = rate.Price.String()
	}

	entries := make([]*journal.LedgerEntry, 0, len(moves))
	for _, m := range moves {
		bal, err := tx.Balance(m.acct.ID)
		if err != nil {
			return nil, err
		}
		next, err := tx.Apply(m.acct.ID, m.delta, bal.Version)
		if err != nil {
			return nil, err
		}
		after := next.Amount
		meta := cloneMeta(req.Metadata)
		if m.fee > 0 {
			meta = setMeta(meta, "fee", fmt.Sprintf("%d", m.fee))
		}
		entries = append(entries, &journal.LedgerEntry{
			RequestID:    req.RequestID,
			AccountID:    m.acct.ID,
			Type:         string(req.Type),
			Status:       journal.StatusApplied,
			Asset:        m.acct.Asset,
			Amount:       m.delta,
			BalanceAfter: &after,
			Rate:         rateStr,
			Metadata:     meta,
		})
	}
	return entries, nil
}

// rejectJournaled records a REJECTED outcome (when an account exists to
// anchor it), binds the idempotency key to it, and returns the result.
func (e *Engine) rejectJournaled(ctx context.Context, req TransactionRequest, lc *lifecycle, anchor *account.Account, reason string, rate *oracle.Rate) (TransactionResult, error) {
	if err := lc.advance(StateRejected); err != nil {
		return TransactionResult{}, err
	}

	res := TransactionResult{Status: StatusRejected, ReasonCode: reason}
	if anchor != nil {
		rateStr := ""
		if rate != nil {
			rateStr = rate.Price.String()
		}
		entry := &journal.LedgerEntry{
			RequestID:  req.RequestID,
			AccountID:  anchor.ID,
			Type:       string(req.Type),
			Status:     journal.StatusRejected,
			Asset:      req.Asset,
			Amount:     0,
			ReasonCode: reason,
			Rate:       rateStr,
			Metadata:   cloneMeta(req.Metadata),
		}
		if err := e.journal.Append(ctx, []*journal.LedgerEntry{entry}); err != nil {
			e.guard.Release(req.RequestID)
			return TransactionResult{}, fmt.Errorf("failed to journal rejection: %w", ErrServiceUnavailable)
		}
		res.LedgerEntryID = entry.ID
	}

	if cerr := e.guard.Complete(req.RequestID, res); cerr != nil {
		slog.Warn("idempotency key lost before completion, replay protection gone",
			"request_id", req.RequestID, "error", cerr)
	}
	e.metrics.ObserveSubmission(string(req.Type), string(StatusRejected))
	return res, nil
}

// fetchRate queries the pricing oracle with a per-attempt deadline and
// bounded exponential backoff. No lock is held during these calls.
func (e *Engine) fetchRate(ctx context.Context, assetCode string) (oracle.Rate, error) {
	if e.oracle == nil {
		return oracle.Rate{}, fmt.Errorf("no pricing oracle configured: %w", ErrServiceUnavailable)
	}

	var lastErr error
	for attempt := 0; attempt < e.cfg.OracleAttempts; attempt++ {
		if attempt > 0 {
			delay := e.cfg.RetryBaseDelay * (1 << (attempt - 1))
			select {
			case <-ctx.Done():
				return oracle.Rate{}, fmt.Errorf("rate fetch canceled: %w", ErrServiceUnavailable)
			case <-time.After(delay):
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, e.cfg.OracleTimeout)
		start := time.Now()
		rate, err := e.oracle.GetRate(callCtx, assetCode)
		cancel()
		e.metrics.ObserveOracle(time.Since(start))

		if err == nil {
			// A non-positive price would divide by zero in the conversion
			// math; a provider quoting one is broken, not slow.
			if rate.Price.Sign() <= 0 {
				return oracle.Rate{}, fmt.Errorf("non-positive rate %s for %s: %w",
					rate.Price, assetCode, ErrServiceUnavailable)
			}
			return rate, nil
		}
		if errors.Is(err, oracle.ErrUnknownAsset) {
			return oracle.Rate{}, fmt.Errorf("no rate for %s: %w", assetCode, ErrServiceUnavailable)
		}
		lastErr = err
	}
	return oracle.Rate{}, fmt.Errorf("pricing oracle unavailable after %d attempts (%v): %w",
		e.cfg.OracleAttempts, lastErr, ErrServiceUnavailable)
}

// publish emits the terminal event. The journal entry is already durable,
// so failures are logged and counted, never surfaced.
func (e *Engine) publish(ctx context.Context, entry *journal.LedgerEntry) {
	evt := events.TransactionEvent{
		LedgerEntryID: entry.ID,
		RequestID:     entry.RequestID,
		AccountID:     entry.AccountID,
		Type:          entry.Type,
		Status:        string(entry.Status),
		Asset:         entry.Asset,
		Amount:        entry.Amount,
		OccurredAt:    entry.CreatedAt,
	}
	if err := e.publisher.Publish(ctx, evt); err != nil {
		slog.Warn("failed to publish transaction event", "entry_id", entry.ID, "error", err)
		e.metrics.ObserveEventFailure()
	}
}

func firstResolved(accts ...*account.Account) *account.Account {
	for _, a := range accts {
		if a != nil {
			return a
		}
	}
	return nil
}

func cloneMeta(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

func setMeta(m map[string]string, k, v string) map[string]string {
	if m == nil {
		m = make(map[string]string, 1)
	}
	m[k] = v
	return m
}
