// Package rledger orchestrates the full engine pipeline over a ledger
// file: load (with include resolution and the binary cache), plugin
// transformation, validation with interpolation and booking, price
// database construction, and query execution over the validated stream.
//
// Example usage:
//
//	ledger, err := rledger.Load(ctx, "main.beancount")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if ledger.HasErrors() {
//	    for _, d := range ledger.Diagnostics {
//	        fmt.Println(d.Error())
//	    }
//	}
//	table, err := ledger.Query(ctx, `SELECT account, SUM(position) GROUP BY account`)
package rledger

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/ledgerforge/rledger/ast"
	"github.com/ledgerforge/rledger/booking"
	"github.com/ledgerforge/rledger/diagnostics"
	"github.com/ledgerforge/rledger/loader"
	"github.com/ledgerforge/rledger/parser"
	"github.com/ledgerforge/rledger/plugin"
	"github.com/ledgerforge/rledger/pricedb"
	"github.com/ledgerforge/rledger/query"
	"github.com/ledgerforge/rledger/telemetry"
	"github.com/ledgerforge/rledger/validate"
)

// Ledger is the fully-processed state of one ledger: the validated
// directive stream, per-account inventories, accumulated diagnostics,
// and the price database. All fields are read-only snapshots once Load
// returns.
type Ledger struct {
	// Tree is the merged AST as loaded, before validation's
	// interpolation substitutions.
	Tree *ast.AST

	// Directives is the validated stream: sorted, with interpolated
	// transactions and synthetic pad transactions substituted in.
	Directives ast.Directives

	// SyntaxErrors are the parser's accumulated diagnostics.
	SyntaxErrors parser.ErrorList

	// Diagnostics are the validator's findings, in sorted-stream order.
	Diagnostics diagnostics.List

	// PluginWarnings records plugins that failed to load or run; a
	// failed plugin never aborts the pipeline.
	PluginWarnings []error

	// Prices indexes every Price directive and implicit @/@@ quote.
	Prices *pricedb.DB

	config      *validate.Config
	inventories map[ast.Account]*booking.Inventory
	namedQuery  map[string]string
}

type loadConfig struct {
	followIncludes bool
	useCache       bool
	pluginHost     *plugin.Host
}

type Option func(*loadConfig)

// WithoutIncludes parses only the root file, leaving includes
// unresolved in the tree.
func WithoutIncludes() Option {
	return func(c *loadConfig) { c.followIncludes = false }
}

// WithoutCache disables the binary cache.
func WithoutCache() Option {
	return func(c *loadConfig) { c.useCache = false }
}

// WithPluginHost supplies a pre-configured plugin host (fuel and memory
// bounds, pre-loaded modules) instead of the default one.
func WithPluginHost(h *plugin.Host) Option {
	return func(c *loadConfig) { c.pluginHost = h }
}

// Load reads, parses, transforms, and validates filename. The returned
// error covers I/O-level failure only; syntax and semantic findings
// accumulate on the Ledger.
func Load(ctx context.Context, filename string, opts ...Option) (*Ledger, error) {
	cfg := &loadConfig{followIncludes: true, useCache: true}
	for _, opt := range opts {
		opt(cfg)
	}

	timer := telemetry.StartTimer(ctx, fmt.Sprintf("rledger.load %s", filepath.Base(filename)))
	defer timer.End()

	loaderOpts := []loader.Option{}
	if cfg.followIncludes {
		loaderOpts = append(loaderOpts, loader.WithFollowIncludes())
	}
	if cfg.useCache {
		// One cache file per build, alongside the root input file.
		loaderOpts = append(loaderOpts, loader.WithCache(loader.NewCache(filename+".cache")))
	}

	tree, syntaxErrs, err := loader.New(loaderOpts...).Load(ctx, filename)
	if err != nil {
		return nil, err
	}
	return process(ctx, cfg, filepath.Dir(filename), tree, syntaxErrs)
}

// LoadBytes processes in-memory content the same way Load processes a
// file. Includes and plugin paths resolve relative to filename's
// directory, which for a bare name is the current directory.
func LoadBytes(ctx context.Context, filename string, data []byte, opts ...Option) (*Ledger, error) {
	cfg := &loadConfig{followIncludes: true, useCache: false}
	for _, opt := range opts {
		opt(cfg)
	}

	loaderOpts := []loader.Option{}
	if cfg.followIncludes {
		loaderOpts = append(loaderOpts, loader.WithFollowIncludes())
	}
	tree, syntaxErrs, err := loader.New(loaderOpts...).LoadBytes(ctx, filename, data)
	if err != nil {
		return nil, err
	}
	return process(ctx, cfg, filepath.Dir(filename), tree, syntaxErrs)
}

func process(ctx context.Context, cfg *loadConfig, baseDir string, tree *ast.AST, syntaxErrs parser.ErrorList) (*Ledger, error) {
	l := &Ledger{
		Tree:         tree,
		SyntaxErrors: syntaxErrs,
		namedQuery:   make(map[string]string),
	}

	options := validate.OptionsFromAST(tree)
	vcfg, err := validate.ConfigFromOptions(options)
	if err != nil {
		return nil, err
	}
	if vcfg.DocumentRoot == "" {
		vcfg.DocumentRoot = baseDir
	}
	l.config = vcfg

	directives := tree.Directives
	if warnings := l.runPlugins(ctx, cfg, baseDir, &directives); len(warnings) > 0 {
		l.PluginWarnings = warnings
	}

	result := validate.New(vcfg).Validate(ctx, directives)
	if result.Cancelled {
		l.Diagnostics = result.Diagnostics
		return l, ctx.Err()
	}
	l.Directives = result.Directives
	l.Diagnostics = result.Diagnostics
	l.inventories = result.Inventories

	l.Prices = buildPrices(l.Directives)

	for _, d := range l.Directives {
		if q, ok := d.(*ast.Query); ok {
			l.namedQuery[q.Name] = q.Query
		}
	}
	return l, nil
}

// runPlugins loads every declared plugin module and runs the chain over
// the directive stream. Plugin names are file paths relative to the
// ledger root; any failure becomes a warning and the stream continues
// unchanged past the failing plugin.
func (l *Ledger) runPlugins(ctx context.Context, cfg *loadConfig, baseDir string, directives *ast.Directives) []error {
	if len(l.Tree.Plugins) == 0 {
		return nil
	}

	host := cfg.pluginHost
	if host == nil {
		host = plugin.NewHost(ctx)
		defer func() { _ = host.Close(ctx) }()
	}

	var warnings []error
	for _, decl := range l.Tree.Plugins {
		path := decl.Name
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		if _, err := host.Load(ctx, decl.Name, path); err != nil {
			warnings = append(warnings, err)
		}
	}

	transformed, errs := host.Transform(ctx, *directives)
	warnings = append(warnings, errs...)
	*directives = transformed
	return warnings
}

// buildPrices indexes Price directives plus the implicit quotes carried
// by posting @/@@ annotations, in stream order.
func buildPrices(directives ast.Directives) *pricedb.DB {
	db := pricedb.New()
	for _, d := range directives {
		switch dir := d.(type) {
		case *ast.Price:
			if dir.Amount != nil {
				_ = db.Add(dir.Date, dir.Currency, dir.Amount.Currency, dir.Amount.Number)
			}
		case *ast.Transaction:
			for _, p := range dir.Postings {
				if p.Price == nil || !p.Price.Complete() || p.Units == nil || !p.Units.Complete() {
					continue
				}
				if p.PriceTotal {
					_ = db.AddFromPosting(dir.Date, p.Units.Currency, p.Units.Number, p.Price.ToAmount())
				} else if !p.Price.Number.IsZero() {
					_ = db.Add(dir.Date, p.Units.Currency, p.Price.Currency, p.Price.Number)
				}
			}
		}
	}
	return db
}

// HasErrors reports whether any syntax error or Error-severity
// diagnostic was found.
func (l *Ledger) HasErrors() bool {
	return l.SyntaxErrors.HasErrors() || l.Diagnostics.HasErrors()
}

// Inventory returns the final inventory snapshot for account; empty if
// the account was never used.
func (l *Ledger) Inventory(account ast.Account) *booking.Inventory {
	if inv, ok := l.inventories[account]; ok {
		return inv
	}
	return booking.New()
}

// Accounts returns every account that holds state, in no particular
// order.
func (l *Ledger) Accounts() []ast.Account {
	out := make([]ast.Account, 0, len(l.inventories))
	for account := range l.inventories {
		out = append(out, account)
	}
	return out
}

// Query executes a BQL statement over the validated stream.
func (l *Ledger) Query(ctx context.Context, src string) (*query.Table, error) {
	return query.Execute(ctx, &query.Env{Directives: l.Directives, Prices: l.Prices}, src)
}

// NamedQuery executes a query registered by a Query directive.
func (l *Ledger) NamedQuery(ctx context.Context, name string) (*query.Table, error) {
	src, ok := l.namedQuery[name]
	if !ok {
		return nil, fmt.Errorf("no query named %q", name)
	}
	return l.Query(ctx, src)
}
