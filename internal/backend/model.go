package backend

import "strings"

// ResolveModel maps a logical model name to a concrete identifier.
// Resolution is a pure function of the inputs and independent of
// transport: an empty request resolves the default alias first, a known
// alias maps through the table, and anything else passes through as an
// already-concrete identifier.
func ResolveModel(requested string, aliases map[string]string, def string) string {
	name := strings.TrimSpace(requested)
	if name == "" {
		name = def
	}
	if concrete, ok := aliases[name]; ok && concrete != "" {
		return concrete
	}
	return name
}
