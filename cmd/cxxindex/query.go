package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jward/cxxindex"
	"github.com/jward/cxxindex/internal/binding"
	"github.com/jward/cxxindex/internal/index"
	"github.com/jward/cxxindex/internal/runtime"
)

var (
	flagProject string
	flagDeps    string
	flagLimit   int
	flagOffset  int
	flagSort    string
	flagOrder   string
	flagFilter  string
	flagKinds   string
	flagFold    bool
	flagWhole   bool
	flagRoles   string
	flagReverse bool
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query the index",
	Long: `Run queries against the index of a project and, with --deps, the
projects it references or is referenced by. All line and column numbers are
0-based; columns count bytes.`,
}

func init() {
	queryCmd.PersistentFlags().StringVarP(&flagProject, "project", "p", "", "project to query (required)")
	queryCmd.PersistentFlags().StringVar(&flagDeps, "deps", "none", "include related projects: none|dependencies|dependent|both")
	queryCmd.PersistentFlags().IntVar(&flagLimit, "limit", 50, "pagination limit (max 500)")
	queryCmd.PersistentFlags().IntVar(&flagOffset, "offset", 0, "pagination offset")
	queryCmd.PersistentFlags().StringVar(&flagSort, "sort", "", "sort field: name|kind|file")
	queryCmd.PersistentFlags().StringVar(&flagOrder, "order", "asc", "sort order: asc|desc")
	_ = queryCmd.MarkPersistentFlagRequired("project")

	for _, c := range []*cobra.Command{bindingsCmd, prefixCmd} {
		c.Flags().StringVar(&flagFilter, "filter", "", "Risor expression over the binding, or @file")
		c.Flags().StringVar(&flagKinds, "kind", "", "comma-separated binding kinds to keep")
		c.Flags().BoolVar(&flagFold, "fold", false, "match ignoring case")
	}
	bindingsCmd.Flags().BoolVar(&flagWhole, "whole", false, "anchor the pattern at the global scope")
	prefixCmd.Flags().BoolVar(&flagWhole, "top-level", false, "only namespace scope bindings")
	namesCmd.Flags().StringVar(&flagRoles, "role", "", "comma-separated roles: declaration|definition|reference|write")
	includesCmd.Flags().BoolVar(&flagReverse, "reverse", false, "list the files including the location instead")

	queryCmd.AddCommand(bindingsCmd)
	queryCmd.AddCommand(prefixCmd)
	queryCmd.AddCommand(namesCmd)
	queryCmd.AddCommand(referencesCmd)
	queryCmd.AddCommand(declarationsCmd)
	queryCmd.AddCommand(definitionsCmd)
	queryCmd.AddCommand(filesCmd)
	queryCmd.AddCommand(includesCmd)
	queryCmd.AddCommand(macrosCmd)
	queryCmd.AddCommand(usingsCmd)
}

// --- Helpers ---

// openQuery opens the engine and a query builder over --project.
func openQuery() (*cxxindex.Engine, *cxxindex.QueryBuilder, error) {
	opt, err := cxxindex.ParseDependencyOption(flagDeps)
	if err != nil {
		return nil, nil, err
	}
	e, err := openEngine()
	if err != nil {
		return nil, nil, err
	}
	if _, err := mustProject(e, flagProject); err != nil {
		e.Close()
		return nil, nil, err
	}
	q, err := e.Query(flagProject, opt)
	if err != nil {
		e.Close()
		return nil, nil, err
	}
	return e, q, nil
}

// resolveFilePath converts a file argument to an absolute path.
func resolveFilePath(file string) (string, error) {
	if filepath.IsAbs(file) {
		return filepath.Clean(file), nil
	}
	abs, err := filepath.Abs(file)
	if err != nil {
		return "", fmt.Errorf("resolving file path %q: %w", file, err)
	}
	return abs, nil
}

func buildPagination() cxxindex.Pagination {
	return cxxindex.Pagination{Limit: flagLimit, Offset: flagOffset}
}

func buildSort() cxxindex.Sort {
	var field cxxindex.SortField
	switch flagSort {
	case "kind":
		field = cxxindex.SortByKind
	case "file":
		field = cxxindex.SortByFile
	default:
		field = cxxindex.SortByName
	}
	order := cxxindex.Asc
	if flagOrder == "desc" {
		order = cxxindex.Desc
	}
	return cxxindex.Sort{Field: field, Order: order}
}

// buildSearchOptions turns --kind, --filter, --fold and --whole into
// search options. A filter starting with @ names a script file.
func buildSearchOptions(ctx context.Context, log *slog.Logger) (cxxindex.SearchOptions, error) {
	opts := cxxindex.SearchOptions{MatchWhole: flagWhole, Fold: flagFold}
	for _, name := range splitList(flagKinds) {
		k, err := binding.ParseKind(name)
		if err != nil {
			return opts, err
		}
		opts.Kinds = append(opts.Kinds, k)
	}
	if flagFilter == "" {
		return opts, nil
	}
	var (
		f   *runtime.Filter
		err error
	)
	if path, ok := strings.CutPrefix(flagFilter, "@"); ok {
		// Modules imported by a filter file resolve next to it.
		rt := runtime.NewRuntime(filepath.Dir(path), runtime.WithLogger(log))
		f, err = rt.CompileFile(ctx, filepath.Base(path))
	} else {
		f, err = runtime.NewRuntime("", runtime.WithLogger(log)).Compile(ctx, flagFilter)
	}
	if err != nil {
		return opts, fmt.Errorf("filter: %w", err)
	}
	opts.Filter = index.ScriptFilter(f)
	return opts, nil
}

var roleNames = map[string]cxxindex.Role{
	"declaration": cxxindex.RoleDeclaration,
	"definition":  cxxindex.RoleDefinition,
	"reference":   cxxindex.RoleReference,
	"write":       cxxindex.RoleWrite,
}

// parseRoles parses a comma-separated role list. Empty means any role.
func parseRoles(s string) (cxxindex.Role, error) {
	names := splitList(s)
	if len(names) == 0 {
		return cxxindex.RoleAny, nil
	}
	var roles cxxindex.Role
	for _, n := range names {
		r, ok := roleNames[n]
		if !ok {
			return 0, fmt.Errorf("unknown role %q", n)
		}
		roles |= r
	}
	return roles, nil
}

func stderrLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// --- Binding searches ---

var bindingsCmd = &cobra.Command{
	Use:   "bindings <pattern>",
	Short: "Find bindings whose qualified name matches a pattern",
	Long: `Find bindings by qualified name. The pattern is split at "::" and each
segment is a regular expression matched against a whole name segment. A
leading "::" anchors the pattern at the global scope.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSymbols(cmd, "query bindings", func(ctx context.Context, q *cxxindex.QueryBuilder, opts cxxindex.SearchOptions) (*cxxindex.PagedResult[cxxindex.Symbol], error) {
			return q.Bindings(ctx, args[0], opts, buildSort(), buildPagination())
		})
	},
}

var prefixCmd = &cobra.Command{
	Use:   "prefix <prefix>",
	Short: "Find bindings whose name starts with a prefix",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSymbols(cmd, "query prefix", func(ctx context.Context, q *cxxindex.QueryBuilder, opts cxxindex.SearchOptions) (*cxxindex.PagedResult[cxxindex.Symbol], error) {
			return q.Prefix(ctx, args[0], opts, buildSort(), buildPagination())
		})
	},
}

func runSymbols(cmd *cobra.Command, command string, search func(context.Context, *cxxindex.QueryBuilder, cxxindex.SearchOptions) (*cxxindex.PagedResult[cxxindex.Symbol], error)) error {
	ctx := cmd.Context()
	opts, err := buildSearchOptions(ctx, stderrLogger())
	if err != nil {
		return outputError(command, err)
	}
	e, q, err := openQuery()
	if err != nil {
		return outputError(command, err)
	}
	defer e.Close()
	res, err := search(ctx, q, opts)
	if err != nil {
		return outputError(command, err)
	}
	return outputResult(CLIResult{Command: command, Results: res.Items, TotalCount: &res.TotalCount})
}

// --- Name occurrences ---

var namesCmd = &cobra.Command{
	Use:   "names <qualified-name>",
	Short: "List the names bound to a binding",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		roles, err := parseRoles(flagRoles)
		if err != nil {
			return outputError("query names", err)
		}
		return runOccurrences(cmd, "query names", func(ctx context.Context, q *cxxindex.QueryBuilder) ([]cxxindex.Occurrence, error) {
			return q.Names(ctx, args[0], roles)
		})
	},
}

var referencesCmd = &cobra.Command{
	Use:   "references <qualified-name>",
	Short: "List references to a binding",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOccurrences(cmd, "query references", func(ctx context.Context, q *cxxindex.QueryBuilder) ([]cxxindex.Occurrence, error) {
			return q.References(ctx, args[0])
		})
	},
}

var declarationsCmd = &cobra.Command{
	Use:   "declarations <qualified-name>",
	Short: "List declarations of a binding, definitions included",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOccurrences(cmd, "query declarations", func(ctx context.Context, q *cxxindex.QueryBuilder) ([]cxxindex.Occurrence, error) {
			return q.Declarations(ctx, args[0])
		})
	},
}

var definitionsCmd = &cobra.Command{
	Use:   "definitions <qualified-name>",
	Short: "List definitions of a binding",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOccurrences(cmd, "query definitions", func(ctx context.Context, q *cxxindex.QueryBuilder) ([]cxxindex.Occurrence, error) {
			return q.Definitions(ctx, args[0])
		})
	},
}

func runOccurrences(cmd *cobra.Command, command string, find func(context.Context, *cxxindex.QueryBuilder) ([]cxxindex.Occurrence, error)) error {
	e, q, err := openQuery()
	if err != nil {
		return outputError(command, err)
	}
	defer e.Close()
	occs, err := find(cmd.Context(), q)
	if err != nil {
		return outputError(command, err)
	}
	n := len(occs)
	return outputResult(CLIResult{Command: command, Results: occs, TotalCount: &n})
}

// --- Files ---

var filesCmd = &cobra.Command{
	Use:     "files [location]",
	Aliases: []string{"file"},
	Short:   "List file records, all of them or those of one location",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, q, err := openQuery()
		if err != nil {
			return outputError("query files", err)
		}
		defer e.Close()
		if len(args) == 0 {
			res, err := q.AllFiles(cmd.Context(), buildPagination())
			if err != nil {
				return outputError("query files", err)
			}
			return outputResult(CLIResult{Command: "query files", Results: res.Items, TotalCount: &res.TotalCount})
		}
		loc, err := resolveFilePath(args[0])
		if err != nil {
			return outputError("query files", err)
		}
		files, err := q.Files(cmd.Context(), loc)
		if err != nil {
			return outputError("query files", err)
		}
		n := len(files)
		return outputResult(CLIResult{Command: "query files", Results: files, TotalCount: &n})
	},
}

var includesCmd = &cobra.Command{
	Use:   "includes <location>",
	Short: "List the include directives of a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFileQuery(cmd, "query includes", args[0], func(ctx context.Context, q *cxxindex.QueryBuilder, loc string) (any, int, error) {
			incs, err := q.Includes(ctx, loc, flagReverse)
			return incs, len(incs), err
		})
	},
}

var macrosCmd = &cobra.Command{
	Use:   "macros <location>",
	Short: "List the macro definitions of a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFileQuery(cmd, "query macros", args[0], func(ctx context.Context, q *cxxindex.QueryBuilder, loc string) (any, int, error) {
			ms, err := q.Macros(ctx, loc)
			return ms, len(ms), err
		})
	},
}

var usingsCmd = &cobra.Command{
	Use:   "usings <location>",
	Short: "List the namespace scope using statements of a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFileQuery(cmd, "query usings", args[0], func(ctx context.Context, q *cxxindex.QueryBuilder, loc string) (any, int, error) {
			us, err := q.Usings(ctx, loc)
			return us, len(us), err
		})
	},
}

func runFileQuery(cmd *cobra.Command, command, file string, run func(context.Context, *cxxindex.QueryBuilder, string) (any, int, error)) error {
	loc, err := resolveFilePath(file)
	if err != nil {
		return outputError(command, err)
	}
	e, q, err := openQuery()
	if err != nil {
		return outputError(command, err)
	}
	defer e.Close()
	res, n, err := run(cmd.Context(), q, loc)
	if err != nil {
		return outputError(command, err)
	}
	return outputResult(CLIResult{Command: command, Results: res, TotalCount: &n})
}
