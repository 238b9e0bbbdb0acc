package main

import (
	"time"

	"github.com/jward/cxxindex"
)

// CLIResult is the top-level JSON envelope for all commands.
type CLIResult struct {
	Command    string `json:"command"`
	Results    any    `json:"results"`
	TotalCount *int   `json:"total_count,omitempty"`
	Error      string `json:"error,omitempty"`
}

// CLIProject is a JSON-friendly project representation.
type CLIProject struct {
	Name       string   `json:"name"`
	ID         string   `json:"id"`
	Location   string   `json:"location"`
	References []string `json:"references,omitempty"`
	Created    string   `json:"created"`
}

// CLIIndexSummary reports one index run.
type CLIIndexSummary struct {
	Project  string `json:"project"`
	Files    int    `json:"files"`
	Sources  int    `json:"sources"`
	Duration string `json:"duration"`
}

func projectToCLI(p *cxxindex.Project) CLIProject {
	return CLIProject{
		Name:       p.Name,
		ID:         p.ID,
		Location:   p.Location,
		References: p.References,
		Created:    p.Created.Format(time.RFC3339),
	}
}
