package query

import (
	"regexp"
	"strings"

	"github.com/ledgerforge/rledger/ast"
	"github.com/ledgerforge/rledger/booking"
	"github.com/ledgerforge/rledger/pricedb"
	"github.com/shopspring/decimal"
)

// evalExpr evaluates one expression against a row. A row with a nil
// posting is a transaction-level context (FROM predicates); posting
// columns are unknown there.
func evalExpr(env *Env, e Expr, r *row) (any, error) {
	switch expr := e.(type) {
	case *Literal:
		return expr.Value, nil
	case *Column:
		return evalColumn(expr.Name, r)
	case *UnOp:
		return evalUnOp(env, expr, r)
	case *BinOp:
		return evalBinOp(env, expr, r)
	case *Call:
		if isAggregate(expr.Func) {
			return nil, errf(ErrInvalidArgs, "aggregate %s is only valid in a SELECT target", strings.ToUpper(expr.Func))
		}
		return evalCall(env, expr, r)
	default:
		return nil, errf(ErrType, "unsupported expression %T", e)
	}
}

func evalColumn(name string, r *row) (any, error) {
	switch strings.ToLower(name) {
	case "date":
		return r.txn.Date, nil
	case "payee":
		return r.txn.Payee, nil
	case "narration":
		return r.txn.Narration, nil
	case "flag":
		return r.txn.Flag, nil
	case "tags":
		tags := make([]string, len(r.txn.Tags))
		for i, t := range r.txn.Tags {
			tags[i] = string(t)
		}
		return NewStringSet(tags...), nil
	case "links":
		links := make([]string, len(r.txn.Links))
		for i, l := range r.txn.Links {
			links[i] = string(l)
		}
		return NewStringSet(links...), nil
	case "year":
		return r.txn.Date.Year(), nil
	case "month":
		return int(r.txn.Date.Month()), nil
	case "day":
		return r.txn.Date.Day(), nil
	}

	if r.posting == nil {
		return nil, errf(ErrUnknownColumn, "column %q is not available at transaction granularity", name)
	}

	switch strings.ToLower(name) {
	case "account":
		return string(r.posting.Account), nil
	case "position":
		return postingPosition(r.posting), nil
	case "units":
		return r.posting.Units.ToAmount(), nil
	case "cost":
		return postingCost(r.posting), nil
	case "weight":
		return postingWeight(r.posting), nil
	case "balance":
		return r.balance, nil
	default:
		return nil, errf(ErrUnknownColumn, "unknown column %q", name)
	}
}

// postingPosition builds the posting's position: its units plus the
// concrete cost carried by the (already-booked) cost spec.
func postingPosition(p *ast.Posting) *booking.Lot {
	lot := &booking.Lot{Currency: p.Units.Currency, Units: p.Units.Number}
	if cost := postingUnitCost(p); cost != nil {
		lot.Cost = cost
	}
	return lot
}

// postingUnitCost resolves the posting's per-unit cost from its spec, or
// nil when the posting carries no cost.
func postingUnitCost(p *ast.Posting) *ast.Cost {
	cs := p.CostSpec
	if cs == nil || cs.IsEmpty() {
		return nil
	}
	switch {
	case cs.NumberPer != nil:
		return &ast.Cost{Number: *cs.NumberPer, Currency: cs.Currency, Date: cs.Date, Label: cs.Label}
	case cs.NumberTotal != nil && !p.Units.Number.IsZero():
		return &ast.Cost{Number: cs.NumberTotal.Div(p.Units.Number.Abs()), Currency: cs.Currency, Date: cs.Date, Label: cs.Label}
	default:
		return nil
	}
}

// postingCost returns the posting's total cost as an amount, or nil.
func postingCost(p *ast.Posting) any {
	cs := p.CostSpec
	if cs == nil || cs.IsEmpty() {
		return nil
	}
	switch {
	case cs.NumberTotal != nil:
		return &ast.Amount{Number: *cs.NumberTotal, Currency: cs.Currency}
	case cs.NumberPer != nil:
		return &ast.Amount{Number: cs.NumberPer.Mul(p.Units.Number.Abs()), Currency: cs.Currency}
	default:
		return nil
	}
}

// postingWeight is the amount the posting contributes to its
// transaction's balance: cost total when held at cost, price value when
// priced, otherwise the units themselves.
func postingWeight(p *ast.Posting) *ast.Amount {
	units := p.Units.Number
	if cs := p.CostSpec; cs != nil && !cs.IsEmpty() {
		switch {
		case cs.NumberTotal != nil:
			w := *cs.NumberTotal
			if units.IsNegative() {
				w = w.Neg()
			}
			return &ast.Amount{Number: w, Currency: cs.Currency}
		case cs.NumberPer != nil:
			return &ast.Amount{Number: units.Mul(*cs.NumberPer), Currency: cs.Currency}
		}
	}
	if p.Price != nil && p.Price.Complete() {
		if p.PriceTotal {
			w := p.Price.Number
			if units.IsNegative() {
				w = w.Neg()
			}
			return &ast.Amount{Number: w, Currency: p.Price.Currency}
		}
		return &ast.Amount{Number: units.Mul(p.Price.Number), Currency: p.Price.Currency}
	}
	return p.Units.ToAmount()
}

func evalUnOp(env *Env, expr *UnOp, r *row) (any, error) {
	v, err := evalExpr(env, expr.X, r)
	if err != nil {
		return nil, err
	}
	switch expr.Op {
	case "NOT":
		b, err := truthy(v)
		if err != nil {
			return nil, err
		}
		return !b, nil
	case "-":
		switch val := v.(type) {
		case ast.Decimal:
			return val.Neg(), nil
		case int:
			return -val, nil
		case *ast.Amount:
			return val.Neg(), nil
		default:
			return nil, errf(ErrType, "cannot negate %s", FormatValue(v))
		}
	default:
		return nil, errf(ErrType, "unknown unary operator %q", expr.Op)
	}
}

func evalBinOp(env *Env, expr *BinOp, r *row) (any, error) {
	// AND/OR short-circuit before the right side evaluates.
	switch expr.Op {
	case "AND", "OR":
		lv, err := evalExpr(env, expr.L, r)
		if err != nil {
			return nil, err
		}
		lb, err := truthy(lv)
		if err != nil {
			return nil, err
		}
		if expr.Op == "AND" && !lb {
			return false, nil
		}
		if expr.Op == "OR" && lb {
			return true, nil
		}
		rv, err := evalExpr(env, expr.R, r)
		if err != nil {
			return nil, err
		}
		return truthy(rv)
	}

	lv, err := evalExpr(env, expr.L, r)
	if err != nil {
		return nil, err
	}
	rv, err := evalExpr(env, expr.R, r)
	if err != nil {
		return nil, err
	}

	switch expr.Op {
	case "+", "-", "*", "/":
		return evalArithmetic(expr.Op, lv, rv)
	case "=", "!=":
		eq := valueKey(lv) == valueKey(rv)
		if expr.Op == "!=" {
			return !eq, nil
		}
		return eq, nil
	case "<", "<=", ">", ">=":
		if lv == nil || rv == nil {
			return false, nil
		}
		c := compareValues(lv, rv)
		switch expr.Op {
		case "<":
			return c < 0, nil
		case "<=":
			return c <= 0, nil
		case ">":
			return c > 0, nil
		default:
			return c >= 0, nil
		}
	case "~":
		ls, lok := lv.(string)
		rs, rok := rv.(string)
		if !lok || !rok {
			return nil, errf(ErrType, "~ requires string operands")
		}
		re, err := regexp.Compile(rs)
		if err != nil {
			return nil, errf(ErrInvalidArgs, "invalid regexp %q: %s", rs, err)
		}
		return re.MatchString(ls), nil
	case "IN":
		switch haystack := rv.(type) {
		case StringSet:
			needle, ok := lv.(string)
			if !ok {
				return nil, errf(ErrType, "IN over a string set requires a string needle")
			}
			return haystack.Contains(needle), nil
		default:
			return nil, errf(ErrType, "IN requires a set on the right-hand side")
		}
	default:
		return nil, errf(ErrType, "unknown operator %q", expr.Op)
	}
}

func evalArithmetic(op string, lv, rv any) (any, error) {
	// Amount op number scales the amount and keeps its currency.
	if la, ok := lv.(*ast.Amount); ok {
		if rn, ok := rv.(ast.Decimal); ok {
			switch op {
			case "*":
				return &ast.Amount{Number: la.Number.Mul(rn), Currency: la.Currency}, nil
			case "/":
				if rn.IsZero() {
					return nil, errf(ErrInvalidArgs, "division by zero")
				}
				return &ast.Amount{Number: la.Number.Div(rn), Currency: la.Currency}, nil
			}
		}
		if ra, ok := rv.(*ast.Amount); ok && la.Currency == ra.Currency {
			switch op {
			case "+":
				return &ast.Amount{Number: la.Number.Add(ra.Number), Currency: la.Currency}, nil
			case "-":
				return &ast.Amount{Number: la.Number.Sub(ra.Number), Currency: la.Currency}, nil
			}
		}
		return nil, errf(ErrType, "unsupported amount arithmetic %s %s %s", FormatValue(lv), op, FormatValue(rv))
	}

	ln, err := toDecimal(lv)
	if err != nil {
		return nil, err
	}
	rn, err := toDecimal(rv)
	if err != nil {
		return nil, err
	}
	switch op {
	case "+":
		return ln.Add(rn), nil
	case "-":
		return ln.Sub(rn), nil
	case "*":
		return ln.Mul(rn), nil
	default:
		if rn.IsZero() {
			return nil, errf(ErrInvalidArgs, "division by zero")
		}
		return ln.Div(rn), nil
	}
}

func toDecimal(v any) (ast.Decimal, error) {
	switch val := v.(type) {
	case ast.Decimal:
		return val, nil
	case int:
		return decimal.NewFromInt(int64(val)), nil
	default:
		return ast.Decimal{}, errf(ErrType, "expected a number, got %s", FormatValue(v))
	}
}

// evalCall dispatches the non-aggregate builtin functions. Names match
// case-insensitively; the conventional spelling in queries is uppercase.
func evalCall(env *Env, call *Call, r *row) (any, error) {
	args := make([]any, len(call.Args))
	for i, a := range call.Args {
		v, err := evalExpr(env, a, r)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}

	name := strings.ToUpper(call.Func)
	switch name {
	case "ABS":
		if err := wantArgs(name, args, 1); err != nil {
			return nil, err
		}
		switch val := args[0].(type) {
		case ast.Decimal:
			return val.Abs(), nil
		case *ast.Amount:
			return &ast.Amount{Number: val.Number.Abs(), Currency: val.Currency}, nil
		}
		return nil, errf(ErrType, "ABS expects a number or amount")

	case "ROUND":
		if err := wantArgs(name, args, 2); err != nil {
			return nil, err
		}
		num, err := toDecimal(args[0])
		if err != nil {
			return nil, err
		}
		places, err := toDecimal(args[1])
		if err != nil {
			return nil, err
		}
		return num.Round(int32(places.IntPart())), nil

	case "LENGTH":
		if err := wantArgs(name, args, 1); err != nil {
			return nil, err
		}
		switch val := args[0].(type) {
		case string:
			return len(val), nil
		case StringSet:
			return len(val), nil
		}
		return nil, errf(ErrType, "LENGTH expects a string or set")

	case "UPPER", "LOWER":
		if err := wantArgs(name, args, 1); err != nil {
			return nil, err
		}
		s, ok := args[0].(string)
		if !ok {
			return nil, errf(ErrType, "%s expects a string", name)
		}
		if name == "UPPER" {
			return strings.ToUpper(s), nil
		}
		return strings.ToLower(s), nil

	case "STR":
		if err := wantArgs(name, args, 1); err != nil {
			return nil, err
		}
		return FormatValue(args[0]), nil

	case "YEAR", "MONTH", "DAY":
		if err := wantArgs(name, args, 1); err != nil {
			return nil, err
		}
		date, ok := args[0].(*ast.Date)
		if !ok {
			return nil, errf(ErrType, "%s expects a date", name)
		}
		switch name {
		case "YEAR":
			return date.Year(), nil
		case "MONTH":
			return int(date.Month()), nil
		default:
			return date.Day(), nil
		}

	case "ROOT", "PARENT", "LEAF":
		if err := wantArgs(name, args, 1); err != nil {
			return nil, err
		}
		account, ok := args[0].(string)
		if !ok {
			return nil, errf(ErrType, "%s expects an account string", name)
		}
		parts := strings.Split(account, ":")
		switch name {
		case "ROOT":
			return parts[0], nil
		case "LEAF":
			return parts[len(parts)-1], nil
		default:
			if len(parts) <= 1 {
				return "", nil
			}
			return strings.Join(parts[:len(parts)-1], ":"), nil
		}

	case "NUMBER":
		if err := wantArgs(name, args, 1); err != nil {
			return nil, err
		}
		switch val := args[0].(type) {
		case *ast.Amount:
			return val.Number, nil
		case *booking.Lot:
			return val.Units, nil
		}
		return nil, errf(ErrType, "NUMBER expects an amount or position")

	case "CURRENCY":
		if err := wantArgs(name, args, 1); err != nil {
			return nil, err
		}
		switch val := args[0].(type) {
		case *ast.Amount:
			return val.Currency, nil
		case *booking.Lot:
			return val.Currency, nil
		}
		return nil, errf(ErrType, "CURRENCY expects an amount or position")

	case "COST":
		if err := wantArgs(name, args, 1); err != nil {
			return nil, err
		}
		lot, ok := args[0].(*booking.Lot)
		if !ok {
			return nil, errf(ErrType, "COST expects a position")
		}
		if lot.Cost == nil {
			return nil, nil
		}
		return &ast.Amount{Number: lot.Units.Abs().Mul(lot.Cost.Number), Currency: lot.Cost.Currency}, nil

	case "WEIGHT":
		if err := wantArgs(name, args, 1); err != nil {
			return nil, err
		}
		lot, ok := args[0].(*booking.Lot)
		if !ok {
			return nil, errf(ErrType, "WEIGHT expects a position")
		}
		if lot.Cost != nil {
			return &ast.Amount{Number: lot.Units.Mul(lot.Cost.Number), Currency: lot.Cost.Currency}, nil
		}
		return &ast.Amount{Number: lot.Units, Currency: lot.Currency}, nil

	case "VALUE", "CONVERT":
		if err := wantArgs(name, args, 2); err != nil {
			return nil, err
		}
		target, ok := args[1].(string)
		if !ok {
			return nil, errf(ErrType, "%s expects a currency name as its second argument", name)
		}
		date := r.txn.Date
		return marketValue(env.Prices, args[0], target, date)

	default:
		return nil, errf(ErrUnknownFunction, "unknown function %q", call.Func)
	}
}

// marketValue converts an amount, position, or inventory into target
// currency using the most recent quote on or before date. Unconvertible
// values are returned unchanged, matching the price database contract.
func marketValue(db *pricedb.DB, v any, target string, date *ast.Date) (any, error) {
	switch val := v.(type) {
	case *ast.Amount:
		return pricedb.Convert(db, val, target, date), nil
	case *booking.Lot:
		return pricedb.Convert(db, &ast.Amount{Number: val.Units, Currency: val.Currency}, target, date), nil
	case *booking.Inventory:
		total := decimal.Decimal{}
		converted := booking.New()
		allConverted := true
		for _, currency := range val.Currencies() {
			amount := &ast.Amount{Number: val.Total(currency), Currency: currency}
			out := pricedb.Convert(db, amount, target, date)
			if out.Currency != target {
				allConverted = false
			}
			converted.Add(out.Currency, out.Number)
			if out.Currency == target {
				total = total.Add(out.Number)
			}
		}
		if allConverted {
			return &ast.Amount{Number: total, Currency: target}, nil
		}
		return converted, nil
	default:
		return nil, errf(ErrType, "cannot convert %s to %s", FormatValue(v), target)
	}
}

func wantArgs(name string, args []any, n int) error {
	if len(args) != n {
		return errf(ErrInvalidArgs, "%s expects %d argument(s), got %d", name, n, len(args))
	}
	return nil
}

// Aggregates.

func isAggregate(name string) bool {
	switch strings.ToUpper(name) {
	case "SUM", "COUNT", "MIN", "MAX", "FIRST", "LAST", "AVG":
		return true
	default:
		return false
	}
}

func hasAggregate(targets []*Target) bool {
	for _, t := range targets {
		if call, ok := t.Expr.(*Call); ok && isAggregate(call.Func) {
			return true
		}
	}
	return false
}

// evalAggregate folds an aggregate call over a group's rows.
func evalAggregate(env *Env, call *Call, rows []*row) (any, error) {
	name := strings.ToUpper(call.Func)

	if name == "COUNT" {
		if len(call.Args) == 0 {
			return len(rows), nil
		}
		n := 0
		for _, r := range rows {
			v, err := evalExpr(env, call.Args[0], r)
			if err != nil {
				return nil, err
			}
			if v != nil {
				n++
			}
		}
		return n, nil
	}

	if len(call.Args) != 1 {
		return nil, errf(ErrInvalidArgs, "%s expects exactly one argument", name)
	}

	var values []any
	for _, r := range rows {
		v, err := evalExpr(env, call.Args[0], r)
		if err != nil {
			return nil, err
		}
		if v != nil {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return nil, nil
	}

	switch name {
	case "FIRST":
		return values[0], nil
	case "LAST":
		return values[len(values)-1], nil
	case "MIN", "MAX":
		best := values[0]
		for _, v := range values[1:] {
			c := compareValues(v, best)
			if (name == "MIN" && c < 0) || (name == "MAX" && c > 0) {
				best = v
			}
		}
		return best, nil
	case "AVG":
		total := decimal.Decimal{}
		for _, v := range values {
			num, err := toDecimal(v)
			if err != nil {
				return nil, err
			}
			total = total.Add(num)
		}
		return total.Div(decimal.NewFromInt(int64(len(values)))), nil
	case "SUM":
		return aggregateSum(values)
	default:
		return nil, errf(ErrUnknownFunction, "unknown aggregate %q", call.Func)
	}
}

// aggregateSum sums a column of numbers into a number, or of amounts,
// positions, and inventories into an inventory that preserves each
// currency (and cost, for positions) separately.
func aggregateSum(values []any) (any, error) {
	if _, ok := values[0].(ast.Decimal); ok {
		total := decimal.Decimal{}
		for _, v := range values {
			num, err := toDecimal(v)
			if err != nil {
				return nil, err
			}
			total = total.Add(num)
		}
		return total, nil
	}

	inv := booking.New()
	for _, v := range values {
		switch val := v.(type) {
		case *ast.Amount:
			inv.Add(val.Currency, val.Number)
		case *booking.Lot:
			inv.AddLot(val.Currency, val.Units, val.Cost)
		case *booking.Inventory:
			for _, currency := range val.Currencies() {
				for _, l := range val.Lots(currency) {
					inv.AddLot(currency, l.Units, l.Cost)
				}
			}
		default:
			return nil, errf(ErrType, "SUM cannot aggregate %s", FormatValue(v))
		}
	}
	return inv, nil
}
