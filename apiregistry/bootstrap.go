package apiregistry

import (
	"errors"
	"fmt"
	"slices"
)

// ErrBootstrapCycle is returned by Bootstrap when two or more core API
// descriptors depend on each other, directly or transitively.
var ErrBootstrapCycle = errors.New("apiregistry: circular dependency among core apis")

// ErrUnknownDependency is returned when a descriptor names a dependency
// that was not included in the Bootstrap call.
var ErrUnknownDependency = errors.New("apiregistry: depends on an api not present in this bootstrap")

// CoreAPIDescriptor describes one core API's registration step and the
// names of the other core APIs it must be registered after.
type CoreAPIDescriptor struct {
	Name         string
	Dependencies []string
	Register     func(*Table) error
}

// Bootstrap topologically sorts descriptors by their Dependencies edges
// and calls each Register function in that order, the same depth-first
// walk with a visited/in-progress pair of sets used to sequence module
// initialization, adapted here to sequence core API registration instead
// of module lifecycle hooks.
func Bootstrap(table *Table, descriptors []CoreAPIDescriptor) error {
	byName := make(map[string]CoreAPIDescriptor, len(descriptors))
	for _, d := range descriptors {
		byName[d.Name] = d
	}

	visited := make(map[string]bool)
	inProgress := make(map[string]bool)
	var path []string

	var order []string
	var visit func(name string) error
	visit = func(name string) error {
		if inProgress[name] {
			return fmt.Errorf("%w: %s", ErrBootstrapCycle, cyclePath(path, name))
		}
		if visited[name] {
			return nil
		}
		desc, ok := byName[name]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownDependency, name)
		}

		inProgress[name] = true
		path = append(path, name)

		deps := append([]string(nil), desc.Dependencies...)
		slices.Sort(deps)
		for _, dep := range deps {
			if err := visit(dep); err != nil {
				return err
			}
		}

		path = path[:len(path)-1]
		inProgress[name] = false
		visited[name] = true
		order = append(order, name)
		return nil
	}

	names := make([]string, 0, len(descriptors))
	for _, d := range descriptors {
		names = append(names, d.Name)
	}
	slices.Sort(names)

	for _, name := range names {
		if !visited[name] {
			if err := visit(name); err != nil {
				return err
			}
		}
	}

	for _, name := range order {
		if err := byName[name].Register(table); err != nil {
			return fmt.Errorf("apiregistry: registering %s: %w", name, err)
		}
	}
	return nil
}

func cyclePath(path []string, closingNode string) string {
	out := ""
	for _, p := range path {
		out += p + " -> "
	}
	return out + closingNode
}
