package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jward/cxxindex"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage registered projects",
}

var (
	flagRefs     []string
	flagIncludes []string
	flagSystem   []string
	flagDefines  []string
	flagForced   []string
)

func init() {
	projectCreateCmd.Flags().StringSliceVar(&flagRefs, "ref", nil, "referenced project (repeatable)")
	projectCreateCmd.Flags().StringSliceVarP(&flagIncludes, "include", "I", nil, "quoted include search path (repeatable)")
	projectCreateCmd.Flags().StringSliceVar(&flagSystem, "isystem", nil, "system include search path (repeatable)")
	projectCreateCmd.Flags().StringSliceVarP(&flagDefines, "define", "D", nil, "macro definition NAME or NAME=VALUE (repeatable)")
	projectCreateCmd.Flags().StringSliceVar(&flagForced, "include-file", nil, "file included before every source (repeatable)")

	projectRefsCmd.Flags().StringSliceVar(&flagRefs, "ref", nil, "referenced project (repeatable)")

	projectCmd.AddCommand(projectCreateCmd)
	projectCmd.AddCommand(projectDeleteCmd)
	projectCmd.AddCommand(projectMoveCmd)
	projectCmd.AddCommand(projectRenameCmd)
	projectCmd.AddCommand(projectRefsCmd)
	projectCmd.AddCommand(projectListCmd)
}

var projectCreateCmd = &cobra.Command{
	Use:   "create <name> <location>",
	Short: "Register a project rooted at a directory",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEngine()
		if err != nil {
			return outputError("project create", err)
		}
		defer e.Close()

		var scanner *cxxindex.ScannerInfo
		if len(flagIncludes)+len(flagSystem)+len(flagDefines)+len(flagForced) > 0 {
			scanner = &cxxindex.ScannerInfo{
				IncludePaths:       flagIncludes,
				SystemIncludePaths: flagSystem,
				IncludeFiles:       flagForced,
				Defines:            parseDefines(flagDefines),
			}
		}
		p, err := e.CreateProject(args[0], args[1], flagRefs, scanner)
		if err != nil {
			return outputError("project create", err)
		}
		return outputResult(CLIResult{Command: "project create", Results: projectToCLI(p)})
	},
}

var projectDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Unregister a project and delete its index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEngine()
		if err != nil {
			return outputError("project delete", err)
		}
		defer e.Close()
		if err := e.DeleteProject(args[0]); err != nil {
			return outputError("project delete", err)
		}
		return outputResult(CLIResult{Command: "project delete", Results: args[0]})
	},
}

var projectMoveCmd = &cobra.Command{
	Use:   "move <name> <location>",
	Short: "Change a project's location, keeping its index",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEngine()
		if err != nil {
			return outputError("project move", err)
		}
		defer e.Close()
		if err := e.MoveProject(context.Background(), args[0], args[1]); err != nil {
			return outputError("project move", err)
		}
		p, err := e.Project(args[0])
		if err != nil {
			return outputError("project move", err)
		}
		return outputResult(CLIResult{Command: "project move", Results: projectToCLI(p)})
	},
}

var projectRenameCmd = &cobra.Command{
	Use:   "rename <name> <new-name>",
	Short: "Rename a project, keeping its index",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEngine()
		if err != nil {
			return outputError("project rename", err)
		}
		defer e.Close()
		if err := e.RenameProject(args[0], args[1]); err != nil {
			return outputError("project rename", err)
		}
		p, err := e.Project(args[1])
		if err != nil {
			return outputError("project rename", err)
		}
		return outputResult(CLIResult{Command: "project rename", Results: projectToCLI(p)})
	},
}

var projectRefsCmd = &cobra.Command{
	Use:   "refs <name>",
	Short: "Replace the projects a project references",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEngine()
		if err != nil {
			return outputError("project refs", err)
		}
		defer e.Close()
		if err := e.SetReferences(args[0], flagRefs); err != nil {
			return outputError("project refs", err)
		}
		p, err := e.Project(args[0])
		if err != nil {
			return outputError("project refs", err)
		}
		return outputResult(CLIResult{Command: "project refs", Results: projectToCLI(p)})
	},
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered projects",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEngine()
		if err != nil {
			return outputError("project list", err)
		}
		defer e.Close()
		ps := e.Projects()
		out := make([]CLIProject, 0, len(ps))
		for _, p := range ps {
			out = append(out, projectToCLI(p))
		}
		n := len(out)
		return outputResult(CLIResult{Command: "project list", Results: out, TotalCount: &n})
	},
}

// parseDefines turns NAME and NAME=VALUE arguments into a macro map.
// A bare NAME is defined as 1.
func parseDefines(defs []string) map[string]string {
	if len(defs) == 0 {
		return nil
	}
	out := make(map[string]string, len(defs))
	for _, d := range defs {
		name, value, ok := strings.Cut(d, "=")
		if !ok {
			value = "1"
		}
		out[strings.TrimSpace(name)] = value
	}
	return out
}

// splitList splits a comma-separated flag value, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func mustProject(e *cxxindex.Engine, name string) (*cxxindex.Project, error) {
	if name == "" {
		return nil, fmt.Errorf("a project is required (--project)")
	}
	return e.Project(name)
}
