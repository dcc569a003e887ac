// Package profile models the behavioral profiles agents are spawned with.
// A profile is a YAML manifest declaring the deliverables the completion
// pipeline must verify, the review gate level, and the category label used
// to de-noise keyword searches.
package profile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

var ErrProfileNotFound = errors.New("profile not found")

// ReviewGate controls whether closing the issue requires operator
// acknowledgment.
type ReviewGate string

const (
	GateNone     ReviewGate = "none"
	GateOptional ReviewGate = "optional"
	GateRequired ReviewGate = "required"
)

// Deliverable declares one artifact the pipeline checks for. Path is
// relative to the project directory; when empty, verification falls back
// to a keyword search over recently modified files.
//
// Required defaults to true: declaring a deliverable means the pipeline
// checks for it. Only an explicit `required: false` marks it advisory.
type Deliverable struct {
	Name     string `json:"name"`
	Path     string `json:"path,omitempty"`
	Required bool   `json:"required"`
}

// UnmarshalYAML distinguishes an omitted required flag from an explicit
// false so omission can default to true.
func (d *Deliverable) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Name     string `yaml:"name"`
		Path     string `yaml:"path"`
		Required *bool  `yaml:"required"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	d.Name = raw.Name
	d.Path = raw.Path
	d.Required = raw.Required == nil || *raw.Required
	return nil
}

// Profile is a parsed, validated manifest.
type Profile struct {
	Name         string        `yaml:"name" json:"name"`
	Category     string        `yaml:"category" json:"category"`
	ReviewGate   ReviewGate    `yaml:"review_gate,omitempty" json:"review_gate,omitempty"`
	Deliverables []Deliverable `yaml:"deliverables,omitempty" json:"deliverables,omitempty"`
}

// manifestSchema is the JSON Schema every manifest must satisfy before
// the struct is populated. Validating up front yields field-level errors
// instead of zero values silently flowing into the pipeline.
const manifestSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["name", "category"],
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "category": {"type": "string", "minLength": 1},
    "review_gate": {"enum": ["none", "optional", "required"]},
    "deliverables": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "path": {"type": "string"},
          "required": {"type": "boolean"}
        },
        "additionalProperties": false
      }
    }
  },
  "additionalProperties": false
}`

// Loader loads and validates profile manifests from a search path.
type Loader struct {
	dirs   []string
	schema *jsonschema.Schema
}

// NewLoader compiles the manifest schema once for the loader's lifetime.
func NewLoader(dirs []string) (*Loader, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(manifestSchema))
	if err != nil {
		return nil, fmt.Errorf("parse manifest schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("profile.schema.json", doc); err != nil {
		return nil, fmt.Errorf("register manifest schema: %w", err)
	}
	schema, err := c.Compile("profile.schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile manifest schema: %w", err)
	}
	return &Loader{dirs: dirs, schema: schema}, nil
}

// Load resolves a profile by name across the loader's directories, first
// hit wins. Discovery of the directories themselves is the caller's
// concern.
func (l *Loader) Load(name string) (*Profile, error) {
	for _, dir := range l.dirs {
		path := filepath.Join(dir, name+".yaml")
		p, err := l.LoadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrProfileNotFound, name)
}

// LoadFile parses and validates a single manifest file.
func (l *Loader) LoadFile(path string) (*Profile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := l.validate(raw); err != nil {
		return nil, fmt.Errorf("profile %s: %w", filepath.Base(path), err)
	}
	var p Profile
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("profile %s: %w", filepath.Base(path), err)
	}
	if p.ReviewGate == "" {
		p.ReviewGate = GateNone
	}
	return &p, nil
}

// validate round-trips the YAML document through JSON so the schema sees
// the same value shapes a JSON instance would have.
func (l *Loader) validate(raw []byte) error {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse manifest: %w", err)
	}
	jsonBytes, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("normalize manifest: %w", err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(jsonBytes))
	if err != nil {
		return fmt.Errorf("normalize manifest: %w", err)
	}
	if err := l.schema.Validate(inst); err != nil {
		return fmt.Errorf("invalid manifest: %w", err)
	}
	return nil
}

// RequiredDeliverables returns the deliverables the pipeline must verify.
func (p *Profile) RequiredDeliverables() []Deliverable {
	var out []Deliverable
	for _, d := range p.Deliverables {
		if d.Required {
			out = append(out, d)
		}
	}
	return out
}
