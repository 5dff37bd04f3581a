// Package loader resolves a beancount-dialect entry file into a single
// merged AST, recursively following include directives.
//
// The loader supports two modes:
//   - Simple mode: parses a single file, leaving Includes in the AST for
//     the caller to resolve.
//   - Follow mode: recursively loads every included file concurrently
//     (golang.org/x/sync/errgroup) and merges them into one sorted AST.
package loader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/ledgerforge/rledger/ast"
	"github.com/ledgerforge/rledger/parser"
	"github.com/ledgerforge/rledger/telemetry"
	"golang.org/x/sync/errgroup"
)

// Loader loads and parses beancount files with optional include resolution.
type Loader struct {
	FollowIncludes bool
	// Cache, when set, is consulted before any parsing and rewritten
	// after a successful error-free load. One entry covers the whole
	// resolved build, keyed on every file transitively reached.
	Cache *Cache
}

type Option func(*Loader)

func WithFollowIncludes() Option {
	return func(l *Loader) { l.FollowIncludes = true }
}

func WithCache(c *Cache) Option {
	return func(l *Loader) { l.Cache = c }
}

func New(opts ...Option) *Loader {
	l := &Loader{}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load parses filename, following includes if configured. With a cache
// attached, a still-valid entry short-circuits all parsing; after a
// fresh error-free load the entry is rewritten to cover every file the
// load touched.
func (l *Loader) Load(ctx context.Context, filename string) (*ast.AST, parser.ErrorList, error) {
	if l.Cache != nil {
		if tree, ok := l.Cache.Load(); ok {
			reinternAST(tree)
			return tree, nil, nil
		}
	}

	if !l.FollowIncludes {
		timer := telemetry.StartTimer(ctx, fmt.Sprintf("loader.parse %s", filepath.Base(filename)))
		defer timer.End()
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read %s: %w", filename, err)
		}
		tree, errs := parser.Parse(filename, data)
		if l.Cache != nil && !errs.HasErrors() && len(tree.Includes) == 0 {
			if sf, statErr := statSource(filename); statErr == nil {
				_ = l.Cache.Store(tree, []SourceFile{sf})
			}
		}
		reinternAST(tree)
		return tree, errs, nil
	}

	timer := telemetry.StartTimer(ctx, fmt.Sprintf("loader.load %s", filepath.Base(filename)))
	defer timer.End()
	state := &loaderState{visited: make(map[string]bool)}
	tree, errs, err := state.loadRecursive(ctx, filename, timer)
	if err != nil {
		return nil, nil, err
	}
	if l.Cache != nil && !errs.HasErrors() {
		// Concurrent include loading makes the append order racy; the
		// key hashes the tuples in sorted-path order so equal builds
		// always produce equal keys.
		sort.Slice(state.files, func(i, j int) bool { return state.files[i].Path < state.files[j].Path })
		_ = l.Cache.Store(tree, state.files)
	}
	reinternAST(tree)
	return tree, errs, nil
}

// LoadBytes parses in-memory content under filename, following includes
// from disk if configured and the content contains any.
func (l *Loader) LoadBytes(ctx context.Context, filename string, data []byte) (*ast.AST, parser.ErrorList, error) {
	if !l.FollowIncludes {
		tree, errs := parser.Parse(filename, data)
		reinternAST(tree)
		return tree, errs, nil
	}

	timer := telemetry.StartTimer(ctx, fmt.Sprintf("loader.parse %s", filepath.Base(filename)))
	tree, errs := parser.Parse(filename, data)
	timer.End()

	if len(tree.Includes) == 0 {
		reinternAST(tree)
		return tree, errs, nil
	}

	state := &loaderState{visited: make(map[string]bool)}
	var absPath, baseDir string
	if filename == "-" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to get working directory for stdin: %w", err)
		}
		baseDir, absPath = wd, filepath.Join(wd, "-")
	} else {
		abs, err := filepath.Abs(filename)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to resolve absolute path for %s: %w", filename, err)
		}
		absPath, baseDir = abs, filepath.Dir(abs)
	}
	state.visited[absPath] = true

	var includedASTs []*ast.AST
	var allErrs parser.ErrorList
	allErrs = append(allErrs, errs...)
	for _, inc := range tree.Includes {
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		default:
		}
		includePath := inc.Filename
		if !filepath.IsAbs(includePath) {
			includePath = filepath.Join(baseDir, includePath)
		}
		includedAST, includeErrs, err := state.loadRecursive(ctx, includePath, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("in file %s: %w", filename, err)
		}
		includedASTs = append(includedASTs, includedAST)
		allErrs = append(allErrs, includeErrs...)
	}

	merged := mergeASTs(tree, includedASTs...)
	reinternAST(merged)
	return merged, allErrs, nil
}

type loaderState struct {
	visited map[string]bool
	// files records the (path, mtime, size) tuple of every file read, in
	// racy append order; Load sorts it before deriving the cache key.
	files []SourceFile
	mu    sync.Mutex
}

// loadRecursive loads filename and every file it (transitively) includes.
// The visited-map check, mark, and file read happen atomically under the
// lock to avoid a TOCTOU race between two goroutines both wanting to load
// the same include.
func (s *loaderState) loadRecursive(ctx context.Context, filename string, timer telemetry.Timer) (*ast.AST, parser.ErrorList, error) {
	absPath, err := filepath.Abs(filename)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve absolute path for %s: %w", filename, err)
	}

	if timer == nil {
		timer = telemetry.StartTimer(ctx, fmt.Sprintf("loader.parse %s", filepath.Base(filename)))
	}
	defer timer.End()

	s.mu.Lock()
	if s.visited[absPath] {
		s.mu.Unlock()
		return &ast.AST{}, nil, nil
	}
	s.visited[absPath] = true

	data, err := os.ReadFile(filename)
	if err != nil {
		delete(s.visited, absPath)
		s.mu.Unlock()
		return nil, nil, fmt.Errorf("failed to read %s: %w", filename, err)
	}
	if sf, statErr := statSource(filename); statErr == nil {
		s.files = append(s.files, sf)
	}
	s.mu.Unlock()

	result, errs := parser.Parse(filename, data)

	if len(result.Includes) == 0 {
		result.Includes = nil
		return result, errs, nil
	}

	baseDir := filepath.Dir(absPath)
	includedASTs := make([]*ast.AST, len(result.Includes))
	includeErrs := make([]parser.ErrorList, len(result.Includes))
	includeTimers := make([]telemetry.Timer, len(result.Includes))
	for i, inc := range result.Includes {
		includeTimers[i] = timer.Child(fmt.Sprintf("loader.parse %s", filepath.Base(inc.Filename)))
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, inc := range result.Includes {
		i, inc := i, inc
		childTimer := includeTimers[i]
		g.Go(func() error {
			includePath := inc.Filename
			if !filepath.IsAbs(includePath) {
				includePath = filepath.Join(baseDir, includePath)
			}
			childCtx := telemetry.WithParentTimer(gctx, childTimer)
			includedAST, errs, err := s.loadRecursive(childCtx, includePath, childTimer)
			if err != nil {
				return fmt.Errorf("in file %s: %w", filename, err)
			}
			includedASTs[i] = includedAST
			includeErrs[i] = errs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	mergeTimer := timer.Child("ast.merging")
	merged := mergeASTs(result, includedASTs...)
	mergeTimer.End()

	allErrs := append(parser.ErrorList{}, errs...)
	for _, e := range includeErrs {
		allErrs = append(allErrs, e...)
	}
	return merged, allErrs, nil
}

// mergeASTs combines main with its (already-loaded) includes. Main's
// options take precedence over duplicate option names from includes.
func mergeASTs(main *ast.AST, included ...*ast.AST) *ast.AST {
	result := &ast.AST{
		Directives: make(ast.Directives, 0, len(main.Directives)),
		Plugins:    append([]*ast.Plugin{}, main.Plugins...),
		Pushtags:   main.Pushtags,
		Poptags:    main.Poptags,
		Pushmetas:  main.Pushmetas,
		Popmetas:   main.Popmetas,
	}

	mainOptionNames := make(map[string]bool, len(main.Options))
	for _, opt := range main.Options {
		mainOptionNames[opt.Name] = true
	}
	for _, inc := range included {
		for _, opt := range inc.Options {
			if !mainOptionNames[opt.Name] {
				result.Options = append(result.Options, opt)
				mainOptionNames[opt.Name] = true
			}
		}
	}
	result.Options = append(result.Options, main.Options...)

	result.Directives = append(result.Directives, main.Directives...)
	for _, inc := range included {
		result.Directives = append(result.Directives, inc.Directives...)
		result.Plugins = append(result.Plugins, inc.Plugins...)
	}

	ast.SortDirectives(result.Directives)
	return result
}
