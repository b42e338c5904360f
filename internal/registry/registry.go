// Package registry maps source names to runnable plugins. Plugins are
// single-file Go programs interpreted with yaegi; the registry is
// rebuilt from the artifact store at defined refresh points (startup
// and after any promote) instead of hot-reloading.
package registry

import (
	"context"
	"fmt"
	"go/parser"
	"go/token"
	"os"
	"strings"
	"sync"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"forager/internal/types"
)

// Source is the capability a deployed plugin provides.
type Source interface {
	// Name returns the source name the plugin is registered under.
	Name() string
	// Fetch returns the raw payload for the source.
	Fetch(ctx context.Context) (string, error)
	// Parse extracts entities from a fetched payload.
	Parse(payload string) ([]types.Entity, error)
}

// ArtifactReader is the slice of the artifact store the registry needs.
type ArtifactReader interface {
	Names() ([]string, error)
	Read(name string) (string, error)
}

// Registry holds the loaded plugins. Rebuild replaces the whole set.
type Registry struct {
	artifacts ArtifactReader

	mu      sync.RWMutex
	sources map[string]Source
}

// New creates an empty registry over the given artifact store.
func New(artifacts ArtifactReader) *Registry {
	return &Registry{
		artifacts: artifacts,
		sources:   make(map[string]Source),
	}
}

// Rebuild re-reads every deployed artifact and replaces the plugin set.
// A plugin that fails to load is skipped with a warning; one broken
// artifact must not take down the others.
func (r *Registry) Rebuild() error {
	names, err := r.artifacts.Names()
	if err != nil {
		return fmt.Errorf("failed to enumerate artifacts: %w", err)
	}

	loaded := make(map[string]Source, len(names))
	for _, name := range names {
		code, err := r.artifacts.Read(name)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to read plugin %s: %v\n", name, err)
			continue
		}
		src, err := LoadSource(name, code)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load plugin %s: %v\n", name, err)
			continue
		}
		loaded[name] = src
	}

	r.mu.Lock()
	r.sources = loaded
	r.mu.Unlock()

	fmt.Printf("[registry] loaded %d of %d plugins\n", len(loaded), len(names))
	return nil
}

// Get returns the plugin for name, or nil if not deployed.
func (r *Registry) Get(name string) Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sources[name]
}

// Names returns the registered source names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.sources))
	for n := range r.sources {
		names = append(names, n)
	}
	return names
}

// interpretedSource adapts interpreted Fetch/Parse functions to Source.
type interpretedSource struct {
	name  string
	fetch func() (string, error)
	parse func(string) ([]map[string]string, error)
}

func (s *interpretedSource) Name() string { return s.name }

func (s *interpretedSource) Fetch(ctx context.Context) (string, error) {
	type result struct {
		payload string
		err     error
	}
	ch := make(chan result, 1)
	go func() {
		payload, err := s.fetch()
		ch <- result{payload, err}
	}()
	select {
	case res := <-ch:
		return res.payload, res.err
	case <-ctx.Done():
		return "", &types.TransientError{Err: fmt.Errorf("fetch %s: %w", s.name, ctx.Err())}
	}
}

func (s *interpretedSource) Parse(payload string) ([]types.Entity, error) {
	rows, err := s.parse(payload)
	if err != nil {
		return nil, err
	}
	entities := make([]types.Entity, len(rows))
	for i, row := range rows {
		entities[i] = types.Entity(row)
	}
	return entities, nil
}

// LoadSource interprets plugin source text and binds its Fetch and
// Parse functions. This doubles as the compile-check used by the
// healing pipeline's validate stage.
func LoadSource(name, code string) (Source, error) {
	if err := CheckSyntax(code); err != nil {
		return nil, err
	}

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("failed to load stdlib symbols: %w", err)
	}

	if _, err := i.Eval(code); err != nil {
		return nil, &types.ValidationError{Stage: "compile", Reason: err.Error()}
	}

	fetchVal, err := i.Eval("main.Fetch")
	if err != nil {
		return nil, &types.ValidationError{Stage: "structure", Reason: "Fetch function not found"}
	}
	fetch, ok := fetchVal.Interface().(func() (string, error))
	if !ok {
		return nil, &types.ValidationError{Stage: "structure", Reason: "Fetch has wrong signature (want func() (string, error))"}
	}

	parseVal, err := i.Eval("main.Parse")
	if err != nil {
		return nil, &types.ValidationError{Stage: "structure", Reason: "Parse function not found"}
	}
	parseFn, ok := parseVal.Interface().(func(string) ([]map[string]string, error))
	if !ok {
		return nil, &types.ValidationError{Stage: "structure", Reason: "Parse has wrong signature (want func(string) ([]map[string]string, error))"}
	}

	return &interpretedSource{name: name, fetch: fetch, parse: parseFn}, nil
}

// CheckSyntax verifies the text parses as a Go source file declaring
// package main.
func CheckSyntax(code string) error {
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, "plugin.go", code, 0)
	if err != nil {
		return &types.ValidationError{Stage: "syntax", Reason: err.Error()}
	}
	if f.Name.Name != "main" {
		return &types.ValidationError{Stage: "syntax", Reason: "plugin must declare package main"}
	}
	if !strings.Contains(code, "func Fetch") || !strings.Contains(code, "func Parse") {
		return &types.ValidationError{Stage: "structure", Reason: "plugin must define Fetch and Parse"}
	}
	return nil
}
