// Package project keeps the registry of indexed projects. Each project
// owns one fragment, named by the project's instance id so that a project
// deleted and created again under the same name starts empty.
package project

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/jward/cxxindex/internal/preproc"
)

var (
	// ErrNotFound is returned for names the registry does not know.
	ErrNotFound = errors.New("project not found")
	// ErrExists is returned when a name is already registered.
	ErrExists = errors.New("project already exists")
)

// RegistryFile is the registry's file name inside the data directory.
const RegistryFile = "projects.yaml"

// Project is one registered project.
type Project struct {
	Name       string              `yaml:"name"`
	ID         string              `yaml:"id"`
	Location   string              `yaml:"location"`
	References []string            `yaml:"references,omitempty"`
	Scanner    preproc.ScannerInfo `yaml:"scanner,omitempty"`
	Created    time.Time           `yaml:"created"`
}

func (p *Project) clone() *Project {
	c := *p
	c.References = slices.Clone(p.References)
	return &c
}

// DependencyOption selects which projects besides the named one an index
// covers.
type DependencyOption int

const (
	// None covers the project alone.
	None DependencyOption = iota
	// AddDependencies adds the projects it references, transitively.
	AddDependencies
	// AddDependent adds the projects referencing it, transitively.
	AddDependent
	// Both adds dependencies and dependents.
	Both
)

func (o DependencyOption) String() string {
	switch o {
	case None:
		return "none"
	case AddDependencies:
		return "dependencies"
	case AddDependent:
		return "dependent"
	case Both:
		return "both"
	}
	return fmt.Sprintf("DependencyOption(%d)", int(o))
}

// ParseDependencyOption parses the names String returns.
func ParseDependencyOption(s string) (DependencyOption, error) {
	for o := None; o <= Both; o++ {
		if o.String() == s {
			return o, nil
		}
	}
	return None, fmt.Errorf("unknown dependency option %q", s)
}

type registryFile struct {
	Projects []*Project `yaml:"projects"`
}

// Registry is the persisted set of projects under a data directory.
type Registry struct {
	dir string

	mu       sync.RWMutex
	projects map[string]*Project
}

// Open loads the registry of dataDir, creating the directory when needed.
func Open(dataDir string) (*Registry, error) {
	if err := os.MkdirAll(filepath.Join(dataDir, "fragments"), 0o755); err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	r := &Registry{dir: dataDir, projects: make(map[string]*Project)}
	data, err := os.ReadFile(r.path())
	if errors.Is(err, os.ErrNotExist) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	var f registryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse registry %s: %w", r.path(), err)
	}
	for _, p := range f.Projects {
		r.projects[p.Name] = p
	}
	return r, nil
}

func (r *Registry) path() string { return filepath.Join(r.dir, RegistryFile) }

// Dir returns the data directory.
func (r *Registry) Dir() string { return r.dir }

// FragmentPath returns the database file of p's fragment.
func (r *Registry) FragmentPath(p *Project) string {
	return filepath.Join(r.dir, "fragments", p.ID+".db")
}

// saveLocked writes the registry through a temporary file and a rename.
func (r *Registry) saveLocked() error {
	f := registryFile{Projects: make([]*Project, 0, len(r.projects))}
	for _, p := range r.projects {
		f.Projects = append(f.Projects, p)
	}
	sort.Slice(f.Projects, func(i, j int) bool { return f.Projects[i].Name < f.Projects[j].Name })
	data, err := yaml.Marshal(&f)
	if err != nil {
		return fmt.Errorf("save registry: %w", err)
	}
	tmp, err := os.CreateTemp(r.dir, RegistryFile+".*")
	if err != nil {
		return fmt.Errorf("save registry: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("save registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save registry: %w", err)
	}
	if err := os.Rename(tmp.Name(), r.path()); err != nil {
		return fmt.Errorf("save registry: %w", err)
	}
	return nil
}

// Create registers a project with a fresh instance id.
func (r *Registry) Create(name, location string, references []string, scanner preproc.ScannerInfo) (*Project, error) {
	if name == "" {
		return nil, errors.New("create project: empty name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.projects[name]; ok {
		return nil, fmt.Errorf("create project %s: %w", name, ErrExists)
	}
	p := &Project{
		Name:       name,
		ID:         uuid.NewString(),
		Location:   filepath.Clean(location),
		References: slices.Clone(references),
		Scanner:    scanner,
		Created:    time.Now().UTC(),
	}
	r.projects[name] = p
	if err := r.saveLocked(); err != nil {
		delete(r.projects, name)
		return nil, err
	}
	return p.clone(), nil
}

// Get returns the project named name.
func (r *Registry) Get(name string) (*Project, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.projects[name]
	if !ok {
		return nil, fmt.Errorf("project %s: %w", name, ErrNotFound)
	}
	return p.clone(), nil
}

// List returns every project ordered by name.
func (r *Registry) List() []*Project {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Project, 0, len(r.projects))
	for _, p := range r.projects {
		out = append(out, p.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Delete unregisters a project and returns it. The caller reclaims its
// fragment.
func (r *Registry) Delete(name string) (*Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[name]
	if !ok {
		return nil, fmt.Errorf("delete project %s: %w", name, ErrNotFound)
	}
	delete(r.projects, name)
	if err := r.saveLocked(); err != nil {
		r.projects[name] = p
		return nil, err
	}
	return p.clone(), nil
}

// Move changes a project's location and returns the project as it was.
func (r *Registry) Move(name, location string) (*Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[name]
	if !ok {
		return nil, fmt.Errorf("move project %s: %w", name, ErrNotFound)
	}
	old := p.clone()
	p.Location = filepath.Clean(location)
	if err := r.saveLocked(); err != nil {
		p.Location = old.Location
		return nil, err
	}
	return old, nil
}

// Rename changes a project's name. References to it follow; its instance
// id and fragment stay.
func (r *Registry) Rename(name, newName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[name]
	if !ok {
		return fmt.Errorf("rename project %s: %w", name, ErrNotFound)
	}
	if _, ok := r.projects[newName]; ok {
		return fmt.Errorf("rename project %s: %s: %w", name, newName, ErrExists)
	}
	delete(r.projects, name)
	p.Name = newName
	r.projects[newName] = p
	for _, q := range r.projects {
		for i, ref := range q.References {
			if ref == name {
				q.References[i] = newName
			}
		}
	}
	return r.saveLocked()
}

// SetReferences replaces the projects name depends on.
func (r *Registry) SetReferences(name string, references []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[name]
	if !ok {
		return fmt.Errorf("set references of %s: %w", name, ErrNotFound)
	}
	p.References = slices.Clone(references)
	return r.saveLocked()
}

// Closure returns the named project followed by the projects opt adds, in
// breadth-first order. References to unknown projects are ignored.
func (r *Registry) Closure(name string, opt DependencyOption) ([]*Project, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	root, ok := r.projects[name]
	if !ok {
		return nil, fmt.Errorf("project %s: %w", name, ErrNotFound)
	}
	dependents := make(map[string][]string)
	for _, p := range r.projects {
		for _, ref := range p.References {
			dependents[ref] = append(dependents[ref], p.Name)
		}
	}
	for _, ds := range dependents {
		sort.Strings(ds)
	}

	out := []*Project{root.clone()}
	seen := map[string]bool{name: true}
	walk := func(next func(p *Project) []string) {
		queue := []string{name}
		for len(queue) > 0 {
			cur := r.projects[queue[0]]
			queue = queue[1:]
			for _, n := range next(cur) {
				q, ok := r.projects[n]
				if !ok || seen[n] {
					continue
				}
				seen[n] = true
				out = append(out, q.clone())
				queue = append(queue, n)
			}
		}
	}
	if opt == AddDependencies || opt == Both {
		walk(func(p *Project) []string { return p.References })
	}
	if opt == AddDependent || opt == Both {
		walk(func(p *Project) []string { return dependents[p.Name] })
	}
	return out, nil
}
