package query

import (
	"context"
	"sort"
	"strings"

	"github.com/ledgerforge/rledger/ast"
	"github.com/ledgerforge/rledger/booking"
	"github.com/ledgerforge/rledger/pricedb"
	"github.com/ledgerforge/rledger/telemetry"
)

// Env is everything a query evaluates against: the validated directive
// stream and the price database for market-value conversion. Both are
// read-only snapshots.
type Env struct {
	Directives ast.Directives
	Prices     *pricedb.DB
}

// Table is the tabular result of a query: column names plus rows of
// typed values.
type Table struct {
	Columns []string
	Rows    [][]any
}

// Execute parses and runs one BQL statement. Cancellation is best-effort
// between directives; a cancelled query returns ctx.Err().
func Execute(ctx context.Context, env *Env, src string) (*Table, error) {
	stmt, err := ParseQuery(src)
	if err != nil {
		return nil, err
	}
	return ExecuteStatement(ctx, env, stmt)
}

// ExecuteStatement runs an already-parsed statement.
func ExecuteStatement(ctx context.Context, env *Env, stmt Statement) (*Table, error) {
	timer := telemetry.StartTimer(ctx, "query.execute")
	defer timer.End()

	if env.Prices == nil {
		env = &Env{Directives: env.Directives, Prices: pricedb.New()}
	}

	switch s := stmt.(type) {
	case *Select:
		return executeSelect(ctx, env, s)
	case *Journal:
		return executeSelect(ctx, env, journalSelect(s))
	case *Balances:
		return executeSelect(ctx, env, balancesSelect(s))
	case *Print:
		return executePrint(ctx, env, s)
	default:
		return nil, errf(ErrInvalidArgs, "unsupported statement %T", stmt)
	}
}

// journalSelect lowers JOURNAL to its equivalent SELECT.
func journalSelect(j *Journal) *Select {
	sel := &Select{
		Targets: []*Target{
			{Expr: &Column{Name: "date"}},
			{Expr: &Column{Name: "flag"}},
			{Expr: &Column{Name: "payee"}},
			{Expr: &Column{Name: "narration"}},
			{Expr: &Column{Name: "account"}},
			{Expr: &Column{Name: "position"}},
			{Expr: &Column{Name: "balance"}},
		},
		From: j.From,
	}
	if j.AccountRegexp != "" {
		sel.Where = &BinOp{Op: "~", L: &Column{Name: "account"}, R: &Literal{Value: j.AccountRegexp}}
	}
	return sel
}

// balancesSelect lowers BALANCES to its equivalent grouped SELECT.
func balancesSelect(b *Balances) *Select {
	sel := &Select{
		Targets: []*Target{
			{Expr: &Column{Name: "account"}},
			{Expr: &Call{Func: "SUM", Args: []Expr{&Column{Name: "position"}}}},
		},
		From:    b.From,
		GroupBy: []Expr{&Column{Name: "account"}},
		OrderBy: []*Ordering{{Expr: &Column{Name: "account"}}},
	}
	if b.AccountRegexp != "" {
		sel.Where = &BinOp{Op: "~", L: &Column{Name: "account"}, R: &Literal{Value: b.AccountRegexp}}
	}
	return sel
}

// row is one posting in its transaction context, with the account's
// running balance after this posting applied.
type row struct {
	txn     *ast.Transaction
	posting *ast.Posting
	balance *booking.Inventory
}

// collectRows applies the FROM clause at transaction granularity and
// produces posting rows with running balances.
func collectRows(ctx context.Context, env *Env, from *From) ([]*row, error) {
	running := make(map[ast.Account]*booking.Inventory)
	var rows []*row

	for _, d := range env.Directives {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		txn, ok := d.(*ast.Transaction)
		if !ok {
			continue
		}
		if from != nil {
			if from.OpenOn != nil && txn.Date.Before(from.OpenOn) {
				continue
			}
			if from.CloseOn != nil && !txn.Date.Before(from.CloseOn) {
				continue
			}
			if from.Clear && txn.Flag != "*" {
				continue
			}
			if from.Predicate != nil {
				v, err := evalExpr(env, from.Predicate, &row{txn: txn})
				if err != nil {
					return nil, err
				}
				keep, err := truthy(v)
				if err != nil {
					return nil, err
				}
				if !keep {
					continue
				}
			}
		}

		for _, p := range txn.Postings {
			if p.Units == nil || !p.Units.Complete() {
				continue
			}
			inv, ok := running[p.Account]
			if !ok {
				inv = booking.New()
				running[p.Account] = inv
			}
			inv.Add(p.Units.Currency, p.Units.Number)
			rows = append(rows, &row{txn: txn, posting: p, balance: inv.Clone()})
		}
	}
	return rows, nil
}

func executeSelect(ctx context.Context, env *Env, sel *Select) (*Table, error) {
	rows, err := collectRows(ctx, env, sel.From)
	if err != nil {
		return nil, err
	}

	if sel.Where != nil {
		filtered := rows[:0]
		for _, r := range rows {
			v, err := evalExpr(env, sel.Where, r)
			if err != nil {
				return nil, err
			}
			keep, err := truthy(v)
			if err != nil {
				return nil, err
			}
			if keep {
				filtered = append(filtered, r)
			}
		}
		rows = filtered
	}

	columns := make([]string, len(sel.Targets))
	for i, t := range sel.Targets {
		columns[i] = targetName(t)
	}

	// GROUP BY keys may name a target alias; substitute the aliased
	// expression so grouping and selection agree.
	for i, expr := range sel.GroupBy {
		col, ok := expr.(*Column)
		if !ok {
			continue
		}
		for _, t := range sel.Targets {
			if t.Alias != "" && strings.EqualFold(t.Alias, col.Name) {
				sel.GroupBy[i] = t.Expr
				break
			}
		}
	}

	var out [][]any
	if len(sel.GroupBy) > 0 || hasAggregate(sel.Targets) {
		out, err = evaluateGrouped(env, sel, rows)
	} else {
		out, err = evaluatePlain(env, sel, rows)
	}
	if err != nil {
		return nil, err
	}

	if err := orderRows(sel, columns, out); err != nil {
		return nil, err
	}
	if sel.Distinct {
		out = distinctRows(out)
	}
	if sel.Limit > 0 && len(out) > sel.Limit {
		out = out[:sel.Limit]
	}

	return &Table{Columns: columns, Rows: out}, nil
}

func evaluatePlain(env *Env, sel *Select, rows []*row) ([][]any, error) {
	out := make([][]any, 0, len(rows))
	for _, r := range rows {
		vals := make([]any, len(sel.Targets))
		for i, t := range sel.Targets {
			v, err := evalExpr(env, t.Expr, r)
			if err != nil {
				return nil, err
			}
			vals[i] = v
		}
		out = append(out, vals)
	}
	return out, nil
}

type group struct {
	key  string
	rows []*row
}

// evaluateGrouped groups rows by the GROUP BY tuple (value equality is
// structural for amounts, positions, and inventories) and evaluates each
// target once per group: aggregates over the group's rows, anything else
// on the group's first row.
func evaluateGrouped(env *Env, sel *Select, rows []*row) ([][]any, error) {
	groups := []*group{}
	index := map[string]*group{}

	for _, r := range rows {
		var key strings.Builder
		for _, expr := range sel.GroupBy {
			v, err := evalExpr(env, expr, r)
			if err != nil {
				return nil, err
			}
			key.WriteString(valueKey(v))
			key.WriteByte('\x1f')
		}
		g, ok := index[key.String()]
		if !ok {
			g = &group{key: key.String()}
			index[key.String()] = g
			groups = append(groups, g)
		}
		g.rows = append(g.rows, r)
	}

	// With aggregates but no GROUP BY, the whole row set is one group.
	if len(sel.GroupBy) == 0 {
		groups = []*group{{rows: rows}}
	}

	out := make([][]any, 0, len(groups))
	for _, g := range groups {
		if len(g.rows) == 0 {
			continue
		}
		vals := make([]any, len(sel.Targets))
		for i, t := range sel.Targets {
			v, err := evalTargetOverGroup(env, t.Expr, g.rows)
			if err != nil {
				return nil, err
			}
			vals[i] = v
		}
		out = append(out, vals)
	}
	return out, nil
}

// evalTargetOverGroup evaluates expr against a group: an aggregate call
// folds over every row, any other expression takes the first row's value.
func evalTargetOverGroup(env *Env, expr Expr, rows []*row) (any, error) {
	if call, ok := expr.(*Call); ok && isAggregate(call.Func) {
		return evalAggregate(env, call, rows)
	}
	return evalExpr(env, expr, rows[0])
}

// orderRows applies ORDER BY. Each key must reference a selected column
// or alias by name; nulls sort last in either direction.
func orderRows(sel *Select, columns []string, out [][]any) error {
	if len(sel.OrderBy) == 0 {
		return nil
	}
	type key struct {
		index int
		desc  bool
	}
	keys := make([]key, len(sel.OrderBy))
	for i, ord := range sel.OrderBy {
		col, ok := ord.Expr.(*Column)
		if !ok {
			return errf(ErrInvalidArgs, "ORDER BY must reference a selected column or alias")
		}
		index := -1
		for j, name := range columns {
			if strings.EqualFold(name, col.Name) {
				index = j
				break
			}
		}
		if index < 0 {
			return errf(ErrUnknownColumn, "ORDER BY column %q is not selected", col.Name)
		}
		keys[i] = key{index: index, desc: ord.Desc}
	}

	sort.SliceStable(out, func(a, b int) bool {
		for _, k := range keys {
			av, bv := out[a][k.index], out[b][k.index]
			if av == nil && bv == nil {
				continue
			}
			// Nulls last regardless of direction.
			if av == nil {
				return false
			}
			if bv == nil {
				return true
			}
			c := compareValues(av, bv)
			if c == 0 {
				continue
			}
			if k.desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
	return nil
}

func distinctRows(out [][]any) [][]any {
	seen := map[string]bool{}
	kept := out[:0]
	for _, vals := range out {
		var key strings.Builder
		for _, v := range vals {
			key.WriteString(valueKey(v))
			key.WriteByte('\x1f')
		}
		if !seen[key.String()] {
			seen[key.String()] = true
			kept = append(kept, vals)
		}
	}
	return kept
}

// targetName derives the output column name: the alias when given, the
// column name for plain references, and "func(...)" for calls.
func targetName(t *Target) string {
	if t.Alias != "" {
		return t.Alias
	}
	return exprName(t.Expr)
}

func exprName(e Expr) string {
	switch expr := e.(type) {
	case *Column:
		return strings.ToLower(expr.Name)
	case *Call:
		args := make([]string, len(expr.Args))
		for i, a := range expr.Args {
			args[i] = exprName(a)
		}
		return strings.ToLower(expr.Func) + "(" + strings.Join(args, ",") + ")"
	case *Literal:
		return FormatValue(expr.Value)
	case *BinOp:
		return exprName(expr.L) + expr.Op + exprName(expr.R)
	case *UnOp:
		return expr.Op + exprName(expr.X)
	default:
		return "?"
	}
}

// executePrint renders every FROM-surviving directive back to ledger
// text, one directive per row.
func executePrint(ctx context.Context, env *Env, p *Print) (*Table, error) {
	out := &Table{Columns: []string{"directive"}}
	for _, d := range env.Directives {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		if p.From != nil {
			if p.From.OpenOn != nil && d.GetDate().Before(p.From.OpenOn) {
				continue
			}
			if p.From.CloseOn != nil && !d.GetDate().Before(p.From.CloseOn) {
				continue
			}
			if txn, ok := d.(*ast.Transaction); ok {
				if p.From.Clear && txn.Flag != "*" {
					continue
				}
				if p.From.Predicate != nil {
					v, err := evalExpr(env, p.From.Predicate, &row{txn: txn})
					if err != nil {
						return nil, err
					}
					keep, err := truthy(v)
					if err != nil {
						return nil, err
					}
					if !keep {
						continue
					}
				}
			}
		}
		out.Rows = append(out.Rows, []any{renderDirective(d)})
	}
	return out, nil
}

