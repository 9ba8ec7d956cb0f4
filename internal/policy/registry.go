// Package policy holds the static binding configuration and the rules that
// decide what a caller may write through a binding.
//
// Policies are authored as YAML or as JSONC (JSON with comments and
// trailing commas) and loaded once at startup:
//
//	policies:
//	  - policy_id: assistant
//	    bindings:
//	      - binding_id: profile
//	        namespace: user
//	        path: profile
//	        ...
//
// A Registry is immutable once built and safe for concurrent use.
package policy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/scrypster/docmem/pkg/types"
)

// Format identifies a policy file encoding.
type Format string

// Supported policy file formats
const (
	FormatYAML  Format = "yaml"
	FormatJSONC Format = "jsonc"
)

// FormatForPath picks the file format from the extension.
func FormatForPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json", ".jsonc":
		return FormatJSONC, nil
	default:
		return "", fmt.Errorf("unsupported policy file extension %q", filepath.Ext(path))
	}
}

// file is the top-level layout of a policy file.
type file struct {
	Policies []types.Policy `json:"policies" yaml:"policies"`
}

// Registry resolves policies and bindings by id.
type Registry struct {
	policies map[string]*types.Policy
	order    []string
}

// Load reads and validates a policy file.
func Load(path string) (*Registry, error) {
	format, err := FormatForPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy file %s: %w", path, err)
	}
	reg, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return reg, nil
}

// Parse decodes policy data in the given format and validates it.
func Parse(data []byte, format Format) (*Registry, error) {
	var f file
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&f); err != nil {
			return nil, fmt.Errorf("parsing policies: %w", err)
		}
	case FormatJSONC:
		dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&f); err != nil {
			return nil, fmt.Errorf("parsing policies: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported policy format %q", format)
	}
	return New(f.Policies)
}

// New builds a registry from already decoded policies. The slice is copied.
func New(policies []types.Policy) (*Registry, error) {
	r := &Registry{policies: make(map[string]*types.Policy, len(policies))}
	for i := range policies {
		p := policies[i]
		if err := validatePolicy(&p); err != nil {
			return nil, err
		}
		if _, dup := r.policies[p.PolicyID]; dup {
			return nil, fmt.Errorf("duplicate policy id %q", p.PolicyID)
		}
		p.Bindings = append([]types.DocumentBinding(nil), p.Bindings...)
		r.policies[p.PolicyID] = &p
		r.order = append(r.order, p.PolicyID)
	}
	return r, nil
}

// PolicyIDs returns the loaded policy ids in file order.
func (r *Registry) PolicyIDs() []string {
	return append([]string(nil), r.order...)
}

// Policy returns the policy with the given id.
func (r *Registry) Policy(policyID string) (*types.Policy, error) {
	p, ok := r.policies[policyID]
	if !ok {
		return nil, types.NotFound(types.CodePolicyNotFound, "policy %q not found", policyID).
			WithDetail("policy_id", policyID)
	}
	return p, nil
}

// Resolve returns the binding identified by (policyID, bindingID).
func (r *Registry) Resolve(policyID, bindingID string) (*types.DocumentBinding, error) {
	p, err := r.Policy(policyID)
	if err != nil {
		return nil, err
	}
	b, ok := p.Binding(bindingID)
	if !ok {
		return nil, types.NotFound(types.CodeBindingNotFound, "binding %q not found in policy %q", bindingID, policyID).
			WithDetail("policy_id", policyID).
			WithDetail("binding_id", bindingID)
	}
	return b, nil
}

func validatePolicy(p *types.Policy) error {
	if p.PolicyID == "" {
		return fmt.Errorf("policy_id is required")
	}
	if p.Context.MaxDocs < 0 || p.Context.MaxCharsTotal < 0 {
		return fmt.Errorf("policy %q: context budgets must not be negative", p.PolicyID)
	}
	seen := make(map[string]bool, len(p.Bindings))
	for i := range p.Bindings {
		b := &p.Bindings[i]
		if err := validateBinding(b); err != nil {
			return fmt.Errorf("policy %q binding %q: %w", p.PolicyID, b.BindingID, err)
		}
		if seen[b.BindingID] {
			return fmt.Errorf("policy %q: duplicate binding id %q", p.PolicyID, b.BindingID)
		}
		seen[b.BindingID] = true
	}
	return nil
}

func validateBinding(b *types.DocumentBinding) error {
	if b.BindingID == "" {
		return fmt.Errorf("binding_id is required")
	}
	if !types.ValidSegment(b.Namespace) {
		return fmt.Errorf("invalid namespace %q", b.Namespace)
	}
	switch {
	case b.Path != "" && b.PathTemplate != "":
		return fmt.Errorf("path and path_template are mutually exclusive")
	case b.Path == "" && b.PathTemplate == "":
		return fmt.Errorf("one of path or path_template is required")
	case b.Path != "":
		if !validDocPath(b.Path) {
			return fmt.Errorf("invalid path %q", b.Path)
		}
	default:
		if strings.Count(b.PathTemplate, types.ProjectPlaceholder) != 1 {
			return fmt.Errorf("path_template %q must contain %s exactly once", b.PathTemplate, types.ProjectPlaceholder)
		}
		if !validDocPath(strings.ReplaceAll(b.PathTemplate, types.ProjectPlaceholder, "p")) {
			return fmt.Errorf("invalid path_template %q", b.PathTemplate)
		}
	}
	if b.SchemaID == "" {
		return fmt.Errorf("schema_id is required")
	}
	if b.MaxChars <= 0 {
		return fmt.Errorf("max_chars must be positive")
	}
	if b.MaxContentChars < 0 || b.MaxArrayItems < 0 {
		return fmt.Errorf("limits must not be negative")
	}
	switch b.WriteMode {
	case "", types.WriteModePatch, types.WriteModeReplace, types.WriteModePatchOrReplace:
	default:
		return fmt.Errorf("invalid write_mode %q", b.WriteMode)
	}
	for _, p := range b.AllowedPaths {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("allowed path %q must be a JSON pointer", p)
		}
	}
	for _, rule := range b.Compaction {
		if rule.Field == "" || rule.MaxItems <= 0 {
			return fmt.Errorf("compaction rules need a field and a positive max_items")
		}
	}
	return nil
}

func validDocPath(path string) bool {
	for _, seg := range strings.Split(path, "/") {
		if !types.ValidSegment(seg) {
			return false
		}
	}
	return true
}
