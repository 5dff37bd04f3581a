// Package validate implements the stateful forward sweep over the sorted
// directive stream: account lifecycles, balance assertions with pad
// auto-adjustment, currency constraints, interpolation, and booking. Every
// finding is accumulated as a diagnostic; a malformed directive never
// prevents its neighbors from being validated.
package validate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/ledgerforge/rledger/ast"
	"github.com/ledgerforge/rledger/booking"
	"github.com/ledgerforge/rledger/diagnostics"
	"github.com/ledgerforge/rledger/interpolate"
	"github.com/ledgerforge/rledger/telemetry"
)

// accountState is one account's lifecycle record: when it opened and
// closed, which currencies it accepts (empty set means any), and the
// booking method its reductions use.
type accountState struct {
	OpenedOn   *ast.Date
	ClosedOn   *ast.Date
	Currencies map[string]bool
	Method     booking.Method
}

func (s *accountState) allows(currency string) bool {
	return len(s.Currencies) == 0 || s.Currencies[currency]
}

// Result is the outcome of a validation pass. Inventories are the
// validator's own working state exposed as read-only snapshots; callers
// must not mutate them. Directives is the validated stream: the input
// re-sorted, with interpolated transaction copies substituted for their
// incomplete originals and synthetic pad transactions inserted. A
// cancelled pass carries the diagnostics accumulated so far and a nil
// Directives.
type Result struct {
	Diagnostics diagnostics.List
	Inventories map[ast.Account]*booking.Inventory
	Directives  ast.Directives
	Cancelled   bool
}

// Inventory returns the final inventory snapshot for account, or an empty
// inventory if the account was never touched.
func (r *Result) Inventory(account ast.Account) *booking.Inventory {
	if inv, ok := r.Inventories[account]; ok {
		return inv
	}
	return booking.New()
}

// Validator is the single-pass sweep state of §4.5.
type Validator struct {
	cfg         *Config
	accounts    map[ast.Account]*accountState
	inventories map[ast.Account]*booking.Inventory
	commodities map[string]bool
	pendingPads map[ast.Account][]*ast.Pad
	synthetic   []*ast.Transaction
	diags       diagnostics.List
}

// New returns a Validator with empty state. A nil cfg uses the defaults.
func New(cfg *Config) *Validator {
	if cfg == nil {
		cfg = NewConfig()
	}
	return &Validator{
		cfg:         cfg,
		accounts:    make(map[ast.Account]*accountState),
		inventories: make(map[ast.Account]*booking.Inventory),
		commodities: make(map[string]bool),
		pendingPads: make(map[ast.Account][]*ast.Pad),
	}
}

// Validate runs the full pass over directives. The input is left
// untouched: the validator sorts a copy, substitutes interpolated
// transaction clones, and appends synthetic pad transactions into the
// returned stream. Cancellation is checked between directives.
func (v *Validator) Validate(ctx context.Context, directives ast.Directives) *Result {
	timer := telemetry.StartTimer(ctx, fmt.Sprintf("validate.pass (%d directives)", len(directives)))
	defer timer.End()

	v.checkSourceOrder(directives)

	stream := append(ast.Directives{}, directives...)
	ast.SortDirectives(stream)

	for i, d := range stream {
		select {
		case <-ctx.Done():
			return &Result{Diagnostics: v.diags, Cancelled: true}
		default:
		}

		if v.cfg.CheckFutureDates && d.GetDate().After(v.cfg.Today) {
			v.report(diagnostics.FutureDate, d, "directive dated %s is in the future", d.GetDate())
		}

		switch dir := d.(type) {
		case *ast.Open:
			v.processOpen(dir)
		case *ast.Close:
			v.processClose(dir)
		case *ast.Commodity:
			v.commodities[dir.Currency] = true
		case *ast.Pad:
			v.processPad(dir)
		case *ast.Balance:
			if synth := v.processBalance(dir); synth != nil {
				v.synthetic = append(v.synthetic, synth)
			}
		case *ast.Transaction:
			if completed := v.processTransaction(dir); completed != nil {
				stream[i] = completed
			}
		case *ast.Note:
			v.useAccount(dir.Account, dir)
		case *ast.Document:
			v.processDocument(dir)
		case *ast.Price:
			v.checkCurrencyDeclared(dir.Currency, dir)
			if dir.Amount != nil {
				v.checkCurrencyDeclared(dir.Amount.Currency, dir)
			}
		case *ast.Event, *ast.Query, *ast.Custom:
			// Informational; no state or checks.
		}
	}

	// Any pad never consumed by a balance assertion is a dangling grant.
	for _, pads := range v.pendingPads {
		for _, pad := range pads {
			v.report(diagnostics.PadWithoutBalance, pad,
				"pad of %s from %s has no subsequent balance assertion", pad.Account, pad.AccountPad)
		}
	}

	for _, txn := range v.synthetic {
		stream = append(stream, txn)
	}
	ast.SortDirectives(stream)

	return &Result{
		Diagnostics: v.diags,
		Inventories: v.inventories,
		Directives:  stream,
	}
}

// Diagnostics returns everything reported so far, in encounter order.
func (v *Validator) Diagnostics() diagnostics.List { return v.diags }

func (v *Validator) report(code diagnostics.Code, d ast.Directive, format string, args ...any) {
	v.diags = append(v.diags, diagnostics.New(code, d.Position(), d.GetDate(), fmt.Sprintf(format, args...)))
}

// checkSourceOrder walks each file's directives in byte-offset order and
// reports an informational E10001 wherever a dated directive precedes an
// earlier-positioned directive with a later date. The global sort hides
// this from every other pass, so it is detected against the original
// source layout, not the sorted stream.
func (v *Validator) checkSourceOrder(directives ast.Directives) {
	byFile := make(map[string]ast.Directives)
	for _, d := range directives {
		f := d.Position().Filename
		byFile[f] = append(byFile[f], d)
	}
	files := make([]string, 0, len(byFile))
	for f := range byFile {
		files = append(files, f)
	}
	sort.Strings(files)

	for _, f := range files {
		ds := byFile[f]
		sort.SliceStable(ds, func(i, j int) bool { return ds[i].Position().Offset < ds[j].Position().Offset })
		var last *ast.Date
		for _, d := range ds {
			date := d.GetDate()
			if date == nil {
				continue
			}
			if last != nil && date.Before(last) {
				v.report(diagnostics.DateOutOfOrder, d,
					"directive dated %s appears after one dated %s", date, last)
			} else {
				last = date
			}
		}
	}
}

// useAccount checks that account is open on the directive's date and has
// not been closed by an earlier-sorted Close. Because Close sorts after
// Transaction within a date, a posting on the close day is still legal.
func (v *Validator) useAccount(account ast.Account, d ast.Directive) bool {
	state, ok := v.accounts[account]
	if !ok || state.OpenedOn == nil || d.GetDate().Before(state.OpenedOn) {
		v.report(diagnostics.AccountUsedBeforeOpen, d, "account %s is not open", account)
		return false
	}
	if state.ClosedOn != nil {
		v.report(diagnostics.AccountUsedAfterClose, d,
			"account %s was closed on %s", account, state.ClosedOn)
		return false
	}
	return true
}

func (v *Validator) checkCurrencyDeclared(currency string, d ast.Directive) {
	if !v.cfg.StrictCurrencies || currency == "" {
		return
	}
	if !v.commodities[currency] {
		v.report(diagnostics.UndeclaredCurrency, d, "currency %s has no commodity declaration", currency)
	}
}

func (v *Validator) processOpen(open *ast.Open) {
	if err := ast.ValidateAccount(string(open.Account)); err != nil {
		v.report(diagnostics.InvalidAccountName, open, "%s", err)
		return
	}

	if existing, ok := v.accounts[open.Account]; ok && existing.OpenedOn != nil {
		v.report(diagnostics.DuplicateOpen, open,
			"account %s was already opened on %s", open.Account, existing.OpenedOn)
		return
	}

	method := v.cfg.DefaultBooking
	if open.BookingMethod != "" {
		parsed, err := booking.ParseMethod(open.BookingMethod)
		if err != nil {
			v.report(diagnostics.BookingNoMatch, open, "%s", err)
		} else {
			method = parsed
		}
	}

	state := &accountState{OpenedOn: open.Date, Method: method}
	if len(open.ConstraintCurrencies) > 0 {
		state.Currencies = make(map[string]bool, len(open.ConstraintCurrencies))
		for _, c := range open.ConstraintCurrencies {
			state.Currencies[c] = true
			v.checkCurrencyDeclared(c, open)
		}
	}
	v.accounts[open.Account] = state
	if _, ok := v.inventories[open.Account]; !ok {
		v.inventories[open.Account] = booking.New()
	}
}

func (v *Validator) processClose(close *ast.Close) {
	state, ok := v.accounts[close.Account]
	if !ok || state.OpenedOn == nil {
		v.report(diagnostics.AccountUsedBeforeOpen, close, "cannot close account %s: never opened", close.Account)
		return
	}
	if state.ClosedOn != nil {
		v.report(diagnostics.AccountUsedAfterClose, close,
			"account %s was already closed on %s", close.Account, state.ClosedOn)
		return
	}
	state.ClosedOn = close.Date

	if inv := v.inventories[close.Account]; inv != nil {
		for _, currency := range inv.Currencies() {
			if !inv.Total(currency).IsZero() {
				v.report(diagnostics.CloseNonZeroBalance, close,
					"account %s closed with non-zero balance %s", close.Account, inv.String())
				break
			}
		}
	}
}

func (v *Validator) processPad(pad *ast.Pad) {
	v.useAccount(pad.Account, pad)
	v.useAccount(pad.AccountPad, pad)
	v.pendingPads[pad.Account] = append(v.pendingPads[pad.Account], pad)
}

// processBalance resolves a balance assertion. With pads pending for the
// account, the last pad grants a synthesized delta that makes the
// assertion hold; the inventory adjustment conserves value across the
// (target, source) pair. Without a pad, the held total must match the
// expected amount within tolerance.
func (v *Validator) processBalance(balance *ast.Balance) *ast.Transaction {
	if !v.useAccount(balance.Account, balance) {
		return nil
	}
	currency := balance.Amount.Currency
	v.checkCurrencyDeclared(currency, balance)
	if state := v.accounts[balance.Account]; state != nil && !state.allows(currency) {
		v.report(diagnostics.CurrencyNotAllowed, balance,
			"currency %s is not allowed in account %s", currency, balance.Account)
	}

	inv := v.inventory(balance.Account)
	current := inv.Total(currency)

	pads := v.pendingPads[balance.Account]
	if len(pads) > 0 {
		if len(pads) > 1 {
			v.report(diagnostics.MultiplePadsBeforeSame, balance,
				"%d pad directives queued for %s before this balance; only the last applies",
				len(pads), balance.Account)
		}
		pad := pads[len(pads)-1]
		delete(v.pendingPads, balance.Account)

		delta := balance.Amount.Number.Sub(current)
		if delta.IsZero() {
			return nil
		}
		inv.Add(currency, delta)
		v.inventory(pad.AccountPad).Add(currency, delta.Neg())
		return paddingTransaction(pad, balance, delta, currency)
	}

	tolerance := v.cfg.Tolerance.DefaultTolerance(currency)
	if balance.Tolerance != nil {
		tolerance = *balance.Tolerance
	}
	if !interpolate.AmountEqual(current, balance.Amount.Number, tolerance) {
		residual := current.Sub(balance.Amount.Number)
		v.report(diagnostics.BalanceAssertionFailed, balance,
			"balance of %s is %s %s, expected %s %s (off by %s %s)",
			balance.Account, current, currency, balance.Amount.Number, currency, residual, currency)
	}
	return nil
}

// paddingTransaction synthesizes the "P"-flagged transaction a consumed
// pad inserts into the validated stream, dated at the pad. It sorts
// before the assertion it satisfies when the pad is dated earlier than
// the balance; on a shared date the Balance sorts first.
func paddingTransaction(pad *ast.Pad, balance *ast.Balance, delta ast.Decimal, currency string) *ast.Transaction {
	return &ast.Transaction{
		Pos:  pad.Pos,
		Date: pad.Date,
		Flag: "P",
		Narration: fmt.Sprintf("(Padding inserted for Balance of %s %s for difference %s %s)",
			balance.Amount.Number, currency, delta, currency),
		Postings: []*ast.Posting{
			{
				Pos:     pad.Pos,
				Account: pad.Account,
				Units:   &ast.IncompleteAmount{Kind: ast.AmountComplete, Number: delta, Currency: currency},
			},
			{
				Pos:     pad.Pos,
				Account: pad.AccountPad,
				Units:   &ast.IncompleteAmount{Kind: ast.AmountComplete, Number: delta.Neg(), Currency: currency},
			},
		},
	}
}

// processTransaction interpolates and books a transaction against the
// validator's inventories. Postings carrying a cost spec are booked
// first, so that a reduction's weight is its booked aggregate cost basis
// rather than the (unknowable) spec contents; interpolation and the
// balance check then run over the resolved costs. The original
// transaction is never mutated: a clone with completed postings is
// returned for substitution into the validated stream, or nil when a
// posting could not be booked or interpolation failed. Postings booked
// before such a failure keep their inventory effects.
func (v *Validator) processTransaction(txn *ast.Transaction) *ast.Transaction {
	if len(txn.Postings) == 0 {
		v.report(diagnostics.NoPostings, txn, "transaction has no postings")
		return nil
	}
	if len(txn.Postings) == 1 {
		v.report(diagnostics.SinglePosting, txn, "transaction has only one posting")
	}

	incomplete := 0
	for _, p := range txn.Postings {
		v.useAccount(p.Account, txn)
		if p.Units == nil || !p.Units.Complete() {
			incomplete++
			continue
		}
		v.checkPostingCurrencies(txn, p)
	}
	if incomplete > 1 {
		v.report(diagnostics.MultipleMissingAmounts, txn,
			"%d postings have missing amounts; at most one may be elided", incomplete)
		return nil
	}

	completed := cloneTransaction(txn)

	// Phase one: book every complete posting with a cost spec. An
	// augmentation resolves its spec into a concrete Cost; a reduction
	// matches lots and yields the aggregate basis. Either way the clone's
	// spec is rewritten to the resolved per-unit cost so the balance
	// check below weighs the posting at cost.
	booked := make(map[*ast.Posting]bool)
	for _, p := range completed.Postings {
		if p.CostSpec == nil || !p.Units.Complete() {
			continue
		}
		res, err := v.bookPosting(txn, completed.Date, p)
		if err != nil {
			return nil
		}
		booked[p] = true
		// A costed reduction weighs in at its booked aggregate basis; an
		// augmentation keeps its source spec, which already weighs
		// exactly. The basis is carried as a total so a basis that does
		// not divide evenly per unit stays exact.
		if res.Basis != nil {
			total := res.Basis.Number.Abs()
			p.CostSpec = &ast.CostSpec{NumberTotal: &total, Currency: res.Basis.Currency,
				Date: p.CostSpec.Date, Label: p.CostSpec.Label}
		}
	}

	result, err := interpolate.Interpolate(completed, v.cfg.Tolerance)
	if err != nil {
		v.report(diagnostics.TransactionDoesNotBalance, txn, "%s", err)
		return nil
	}
	if result.FilledPosting != nil {
		v.checkPostingCurrencies(txn, result.FilledPosting)
	}

	for currency, residual := range result.Residual {
		if residual.Abs().GreaterThan(result.Tolerance[currency]) {
			v.report(diagnostics.TransactionDoesNotBalance, txn,
				"transaction does not balance: %s %s residual exceeds tolerance %s",
				residual, currency, result.Tolerance[currency])
		}
	}

	// Phase two: apply the remaining (cost-less) postings, including the
	// interpolated one, to the inventories.
	for _, p := range completed.Postings {
		if booked[p] || !p.Units.Complete() {
			continue
		}
		if _, err := v.bookPosting(txn, completed.Date, p); err != nil {
			return nil
		}
	}
	return completed
}

// bookPosting books p against its account's inventory under the
// account's method, reporting any booking failure as a diagnostic.
func (v *Validator) bookPosting(txn *ast.Transaction, date *ast.Date, p *ast.Posting) (*booking.Result, error) {
	method := v.cfg.DefaultBooking
	if state := v.accounts[p.Account]; state != nil {
		method = state.Method
	}
	res, err := booking.Book(v.inventory(p.Account), p, method, date)
	if err != nil {
		code := diagnostics.BookingNoMatch
		if berr, ok := err.(*booking.Error); ok {
			code = diagnostics.Code(berr.Code)
		}
		v.report(code, txn, "posting to %s: %s", p.Account, err)
		return nil, err
	}
	return res, nil
}

func (v *Validator) checkPostingCurrencies(txn *ast.Transaction, p *ast.Posting) {
	if p.Units != nil && p.Units.Currency != "" {
		v.checkCurrencyDeclared(p.Units.Currency, txn)
		if state := v.accounts[p.Account]; state != nil && !state.allows(p.Units.Currency) {
			v.report(diagnostics.CurrencyNotAllowed, txn,
				"currency %s is not allowed in account %s", p.Units.Currency, p.Account)
		}
	}
	if p.CostSpec != nil && p.CostSpec.Currency != "" {
		v.checkCurrencyDeclared(p.CostSpec.Currency, txn)
	}
	if p.Price != nil && p.Price.Currency != "" {
		v.checkCurrencyDeclared(p.Price.Currency, txn)
	}
}

func (v *Validator) processDocument(doc *ast.Document) {
	if !v.useAccount(doc.Account, doc) {
		return
	}
	if !v.cfg.CheckDocuments {
		return
	}
	path := doc.Path
	if !filepath.IsAbs(path) && v.cfg.DocumentRoot != "" {
		path = filepath.Join(v.cfg.DocumentRoot, path)
	}
	if _, err := os.Stat(path); err != nil {
		v.report(diagnostics.DocumentNotFound, doc, "document file %s not found", doc.Path)
	}
}

func (v *Validator) inventory(account ast.Account) *booking.Inventory {
	inv, ok := v.inventories[account]
	if !ok {
		inv = booking.New()
		v.inventories[account] = inv
	}
	return inv
}

// cloneTransaction copies txn deeply enough that interpolation and
// booking of the clone can never write through to the parsed original:
// postings and their unit amounts are fresh allocations.
func cloneTransaction(txn *ast.Transaction) *ast.Transaction {
	clone := &ast.Transaction{
		Pos:       txn.Pos,
		Date:      txn.Date,
		Flag:      txn.Flag,
		Payee:     txn.Payee,
		Narration: txn.Narration,
		Tags:      txn.Tags,
		Links:     txn.Links,
		Postings:  make([]*ast.Posting, len(txn.Postings)),
	}
	clone.AddMetadata(txn.Metadata()...)
	for i, p := range txn.Postings {
		cp := &ast.Posting{
			Pos:        p.Pos,
			Flag:       p.Flag,
			Account:    p.Account,
			CostSpec:   p.CostSpec,
			PriceTotal: p.PriceTotal,
			Price:      p.Price,
		}
		if p.Units != nil {
			units := *p.Units
			cp.Units = &units
		} else {
			cp.Units = &ast.IncompleteAmount{Kind: ast.AmountMissing}
		}
		cp.AddMetadata(p.Metadata()...)
		clone.Postings[i] = cp
	}
	return clone
}
