// Package runtime evaluates Risor filter expressions over index bindings.
// A filter is a boolean expression such as
//
//	kind == "function" && name != "main"
//
// evaluated once per candidate binding with the binding's attributes bound
// to globals. Filters may import helper modules from a module directory or
// an fs.FS.
package runtime

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/risor-io/risor"
	"github.com/risor-io/risor/importer"
	"github.com/risor-io/risor/object"
)

// moduleExt is the extension of importable filter modules.
const moduleExt = ".risor"

// Runtime holds the module source shared by the filters it compiles.
type Runtime struct {
	modules fs.FS // nil when filters cannot import
	origin  string
	log     *slog.Logger
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithRuntimeFS reads filter files and imported modules from fsys.
func WithRuntimeFS(fsys fs.FS) RuntimeOption {
	return func(r *Runtime) {
		r.modules = fsys
		r.origin = "fs"
	}
}

// WithLogger routes the log global of filters to l.
func WithLogger(l *slog.Logger) RuntimeOption {
	return func(r *Runtime) {
		if l != nil {
			r.log = l
		}
	}
}

// NewRuntime returns a Runtime importing modules from dir. An empty dir
// disables imports unless WithRuntimeFS supplies a module source.
func NewRuntime(dir string, opts ...RuntimeOption) *Runtime {
	r := &Runtime{log: slog.New(slog.NewTextHandler(io.Discard, nil))}
	if dir != "" {
		r.modules = os.DirFS(dir)
		r.origin = dir
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runtime) eval(ctx context.Context, source, label string, vars map[string]any) (object.Object, error) {
	globals := r.globals(vars)

	opts := make([]risor.Option, 0, len(globals)+1)
	for name, val := range globals {
		opts = append(opts, risor.WithGlobal(name, val))
	}
	if r.modules != nil {
		// Imported modules compile on their own and see the same globals
		// as the filter, builtins included.
		names := risor.NewConfig(opts...).GlobalNames()
		opts = append(opts, risor.WithImporter(importer.NewFSImporter(importer.FSImporterOptions{
			GlobalNames: names,
			SourceFS:    r.modules,
			Extensions:  []string{moduleExt},
		})))
	}

	res, err := risor.Eval(ctx, source, opts...)
	if err != nil {
		return nil, fmt.Errorf("runtime: filter %s: %w", label, err)
	}
	return res, nil
}

// LoadScript reads a filter file. Absolute paths are read from disk,
// relative ones from the module source.
func (r *Runtime) LoadScript(name string) (string, error) {
	if filepath.IsAbs(name) && r.origin != "fs" {
		data, err := os.ReadFile(name)
		if err != nil {
			return "", fmt.Errorf("runtime: loading script %s: %w", name, err)
		}
		return string(data), nil
	}
	if r.modules == nil {
		data, err := os.ReadFile(name)
		if err != nil {
			return "", fmt.Errorf("runtime: loading script %s: %w", name, err)
		}
		return string(data), nil
	}
	rel := path.Clean(strings.TrimPrefix(filepath.ToSlash(name), "/"))
	data, err := fs.ReadFile(r.modules, rel)
	if err != nil {
		return "", fmt.Errorf("runtime: loading script %s from %s: %w", rel, r.origin, err)
	}
	return string(data), nil
}

// globals returns the host globals plus vars; vars win on clashes.
func (r *Runtime) globals(vars map[string]any) map[string]any {
	out := map[string]any{
		"log":     mustProxy(&logObject{log: r.log}),
		"matches": matchesBuiltin(),
	}
	for k, v := range vars {
		out[k] = v
	}
	return out
}

func mustProxy(v any) object.Object {
	p, err := object.NewProxy(v)
	if err != nil {
		panic(fmt.Sprintf("runtime: proxy error: %v", err))
	}
	return p
}

// logObject provides log.Info, log.Warn and log.Error to filters.
type logObject struct {
	log *slog.Logger
}

func (l *logObject) Info(msg string)  { l.log.Info(msg, "source", "filter") }
func (l *logObject) Warn(msg string)  { l.log.Warn(msg, "source", "filter") }
func (l *logObject) Error(msg string) { l.log.Error(msg, "source", "filter") }
