package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"github.com/jward/cxxindex"
)

// formatSymbolsText formats symbols as aligned columns.
func formatSymbolsText(w io.Writer, syms []cxxindex.Symbol) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tKIND\tLINKAGE\tFILE\tLINE")
	for _, s := range syms {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n",
			s.Qualified, s.Kind, s.Linkage, s.Location.File, s.Location.StartLine)
	}
	tw.Flush()
}

// formatOccurrencesText formats occurrences as "file:line:col role symbol".
func formatOccurrencesText(w io.Writer, occs []cxxindex.Occurrence) {
	for _, o := range occs {
		fmt.Fprintf(w, "%s:%d:%d\t%s\t%s\n", o.File, o.StartLine, o.StartCol, o.Role, o.Symbol)
	}
}

func formatFilesText(w io.Writer, files []cxxindex.FileInfo) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "LOCATION\tLINKAGE\tSOURCE\tSTANDALONE\tINCLUSIONS\tPROJECT")
	for _, f := range files {
		fmt.Fprintf(tw, "%s\t%s\t%t\t%t\t%d\t%s\n",
			f.Location, f.Linkage, f.Source, f.Standalone, f.Inclusions, f.Project)
	}
	tw.Flush()
}

func formatIncludesText(w io.Writer, incs []cxxindex.IncludeInfo) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "INCLUDER\tLINE\tNAME\tTARGET\tACTIVE")
	for _, inc := range incs {
		name := `"` + inc.Name + `"`
		if inc.System {
			name = "<" + inc.Name + ">"
		}
		target := inc.Target
		if !inc.Resolved {
			target = "(unresolved)"
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%t\n", inc.Includer, inc.Location.StartLine, name, target, inc.Active)
	}
	tw.Flush()
}

func formatMacrosText(w io.Writer, macros []cxxindex.MacroInfo) {
	for _, m := range macros {
		directive := "#define"
		if m.Undef {
			fmt.Fprintf(w, "%s:%d\t#undef %s\n", m.Location.File, m.Location.StartLine, m.Name)
			continue
		}
		name := m.Name
		if m.Params != nil {
			name += "(" + strings.Join(m.Params, ", ") + ")"
		}
		fmt.Fprintf(w, "%s:%d\t%s %s %s\n", m.Location.File, m.Location.StartLine, directive, name, m.Expansion)
	}
}

func formatUsingsText(w io.Writer, usings []cxxindex.UsingInfo) {
	for _, u := range usings {
		stmt := "using namespace " + u.Target
		if u.Declaration {
			stmt = "using " + u.Target
		}
		scope := u.Scope
		if scope == "" {
			scope = "(global)"
		}
		fmt.Fprintf(w, "%s:%d\t%s\tin %s\n", u.Location.File, u.Location.StartLine, stmt, scope)
	}
}

func formatProjectsText(w io.Writer, ps []CLIProject) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tLOCATION\tREFERENCES\tCREATED")
	for _, p := range ps {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.Name, p.Location, strings.Join(p.References, ","), p.Created)
	}
	tw.Flush()
}

// outputResultText dispatches to the text formatter for the result type.
func outputResultText(w io.Writer, result CLIResult) error {
	switch v := result.Results.(type) {
	case []cxxindex.Symbol:
		formatSymbolsText(w, v)
	case []cxxindex.Occurrence:
		formatOccurrencesText(w, v)
	case []cxxindex.FileInfo:
		formatFilesText(w, v)
	case []cxxindex.IncludeInfo:
		formatIncludesText(w, v)
	case []cxxindex.MacroInfo:
		formatMacrosText(w, v)
	case []cxxindex.UsingInfo:
		formatUsingsText(w, v)
	case []CLIProject:
		formatProjectsText(w, v)
	case CLIProject:
		formatProjectsText(w, []CLIProject{v})
	case CLIIndexSummary:
		fmt.Fprintf(w, "Indexed %s: %d files (%d sources) in %s\n", v.Project, v.Files, v.Sources, v.Duration)
	case string:
		fmt.Fprintln(w, v)
	case nil:
	default:
		return fmt.Errorf("unsupported result type for text format: %T", v)
	}

	if result.TotalCount != nil {
		count := *result.TotalCount
		shown := resultLen(result.Results)
		if shown < count {
			fmt.Fprintf(w, "\nShowing %d of %d results\n", shown, count)
		}
	}
	return nil
}

// resultLen returns the length of a result slice, or 1 for a single value.
func resultLen(v any) int {
	switch r := v.(type) {
	case []cxxindex.Symbol:
		return len(r)
	case []cxxindex.Occurrence:
		return len(r)
	case []cxxindex.FileInfo:
		return len(r)
	case []cxxindex.IncludeInfo:
		return len(r)
	case []cxxindex.MacroInfo:
		return len(r)
	case []cxxindex.UsingInfo:
		return len(r)
	case []CLIProject:
		return len(r)
	case nil:
		return 0
	default:
		return 1
	}
}

// lspSymbolKinds maps binding kinds onto the closest LSP symbol kind.
var lspSymbolKinds = map[string]protocol.SymbolKind{
	"variable":                protocol.SymbolKindVariable,
	"parameter":               protocol.SymbolKindVariable,
	"field":                   protocol.SymbolKindField,
	"function":                protocol.SymbolKindFunction,
	"function-template":       protocol.SymbolKindFunction,
	"method":                  protocol.SymbolKindMethod,
	"composite":               protocol.SymbolKindClass,
	"class-template":          protocol.SymbolKindClass,
	"partial-specialization":  protocol.SymbolKindClass,
	"explicit-specialization": protocol.SymbolKindClass,
	"instance":                protocol.SymbolKindClass,
	"enumeration":             protocol.SymbolKindEnum,
	"enumerator":              protocol.SymbolKindEnumMember,
	"typedef":                 protocol.SymbolKindClass,
	"namespace":               protocol.SymbolKindNamespace,
	"namespace-alias":         protocol.SymbolKindNamespace,
	"template-parameter":      protocol.SymbolKindTypeParameter,
}

func lspKind(kind string) protocol.SymbolKind {
	if k, ok := lspSymbolKinds[kind]; ok {
		return k
	}
	return protocol.SymbolKindNull
}

func lspLocation(loc cxxindex.Location) protocol.Location {
	return protocol.Location{
		URI: protocol.DocumentURI(uri.File(loc.File)),
		Range: protocol.Range{
			Start: protocol.Position{Line: uint32(loc.StartLine), Character: uint32(loc.StartCol)},
			End:   protocol.Position{Line: uint32(loc.EndLine), Character: uint32(loc.EndCol)},
		},
	}
}

// container returns the owner part of a qualified name.
func container(qualified string) string {
	if i := strings.LastIndex(qualified, "::"); i >= 0 {
		return qualified[:i]
	}
	return ""
}

func symbolToLSP(s cxxindex.Symbol) protocol.SymbolInformation {
	return protocol.SymbolInformation{
		Name:          s.Name,
		Kind:          lspKind(s.Kind),
		ContainerName: container(s.Qualified),
		Location:      lspLocation(s.Location),
	}
}

// toLSP converts results to LSP shapes. Symbols become SymbolInformation,
// anything carrying a position becomes a Location. Other results pass
// through unchanged.
func toLSP(v any) any {
	switch r := v.(type) {
	case []cxxindex.Symbol:
		out := make([]protocol.SymbolInformation, 0, len(r))
		for _, s := range r {
			out = append(out, symbolToLSP(s))
		}
		return out
	case []cxxindex.Occurrence:
		out := make([]protocol.Location, 0, len(r))
		for _, o := range r {
			out = append(out, lspLocation(o.Location))
		}
		return out
	case []cxxindex.IncludeInfo:
		out := make([]protocol.Location, 0, len(r))
		for _, inc := range r {
			out = append(out, lspLocation(inc.Location))
		}
		return out
	case []cxxindex.MacroInfo:
		out := make([]protocol.Location, 0, len(r))
		for _, m := range r {
			out = append(out, lspLocation(m.Location))
		}
		return out
	case []cxxindex.UsingInfo:
		out := make([]protocol.Location, 0, len(r))
		for _, u := range r {
			out = append(out, lspLocation(u.Location))
		}
		return out
	}
	return v
}

// outputResult writes a CLIResult to stdout in the selected format.
func outputResult(result CLIResult) error {
	return writeResult(os.Stdout, result)
}

func writeResult(w io.Writer, result CLIResult) error {
	switch flagFormat {
	case "text":
		return outputResultText(w, result)
	case "lsp":
		result.Results = toLSP(result.Results)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// outputError writes an error in the selected format and returns it so RunE
// can propagate it to Cobra. Text mode writes to stderr, the JSON formats
// write the envelope to stdout.
func outputError(command string, err error) error {
	errorHandled = true
	if flagFormat == "text" {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(CLIResult{Command: command, Error: err.Error()})
	return err
}

// validFormats lists accepted values for --format.
var validFormats = []string{"json", "text", "lsp"}

// validateFormat checks that the --format flag value is recognized.
func validateFormat(format string) error {
	for _, f := range validFormats {
		if format == f {
			return nil
		}
	}
	return fmt.Errorf("invalid format %q: must be one of %s", format, strings.Join(validFormats, ", "))
}
