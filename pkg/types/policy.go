package types

import "strings"

// ProjectPlaceholder is the only placeholder allowed in a path template.
const ProjectPlaceholder = "{project_id}"

// WriteMode restricts which mutation styles a binding accepts.
type WriteMode string

// Write modes
const (
	WriteModePatch          WriteMode = "patch"
	WriteModeReplace        WriteMode = "replace"
	WriteModePatchOrReplace WriteMode = "patch_or_replace"
)

// AllowsPatch reports whether partial writes are permitted.
func (m WriteMode) AllowsPatch() bool {
	return m == WriteModePatch || m == WriteModePatchOrReplace || m == ""
}

// AllowsReplace reports whether full replacement is permitted.
func (m WriteMode) AllowsReplace() bool {
	return m == WriteModeReplace || m == WriteModePatchOrReplace || m == ""
}

// CompactionRule trims the array at Field (dotted path into content) to the
// most recent MaxItems entries.
type CompactionRule struct {
	Field    string `json:"field" yaml:"field"`
	MaxItems int    `json:"max_items" yaml:"max_items"`
}

// DocumentBinding declares where a document lives and what may be written to
// it. Bindings are loaded once and never mutated.
type DocumentBinding struct {
	BindingID            string           `json:"binding_id" yaml:"binding_id"`
	Namespace            string           `json:"namespace" yaml:"namespace"`
	Path                 string           `json:"path,omitempty" yaml:"path,omitempty"`
	PathTemplate         string           `json:"path_template,omitempty" yaml:"path_template,omitempty"`
	SchemaID             string           `json:"schema_id" yaml:"schema_id"`
	SchemaVersion        string           `json:"schema_version" yaml:"schema_version"`
	MaxChars             int              `json:"max_chars" yaml:"max_chars"`
	MaxContentChars      int              `json:"max_content_chars,omitempty" yaml:"max_content_chars,omitempty"`
	MaxArrayItems        int              `json:"max_array_items,omitempty" yaml:"max_array_items,omitempty"`
	AllowedPaths         []string         `json:"allowed_paths" yaml:"allowed_paths"`
	RequiredContentPaths []string         `json:"required_content_paths,omitempty" yaml:"required_content_paths,omitempty"`
	ReadPriority         int              `json:"read_priority" yaml:"read_priority"`
	WriteMode            WriteMode        `json:"write_mode,omitempty" yaml:"write_mode,omitempty"`
	Compaction           []CompactionRule `json:"compaction,omitempty" yaml:"compaction,omitempty"`
}

// HasFixedPath reports whether the binding addresses a single document.
func (b DocumentBinding) HasFixedPath() bool {
	return b.Path != ""
}

// ResolvePath returns the document path for the binding. Templated bindings
// need a project id; ok is false when none is known.
func (b DocumentBinding) ResolvePath(projectID string) (string, bool) {
	if b.Path != "" {
		return b.Path, true
	}
	if projectID == "" || !ValidSegment(projectID) {
		return "", false
	}
	return strings.ReplaceAll(b.PathTemplate, ProjectPlaceholder, projectID), true
}

// RetentionRules configures the age cutoffs, in days, for each collection.
// A value <= 0 disables the sweep for that collection.
type RetentionRules struct {
	EventsDays    int `json:"events_days" yaml:"events_days"`
	AuditDays     int `json:"audit_days" yaml:"audit_days"`
	SnapshotsDays int `json:"snapshots_days" yaml:"snapshots_days"`
}

// ContextDefaults are the policy-level budgets for context assembly.
type ContextDefaults struct {
	MaxDocs       int `json:"max_docs" yaml:"max_docs"`
	MaxCharsTotal int `json:"max_chars_total" yaml:"max_chars_total"`
}

// Policy groups the bindings and rules applied to one class of callers.
type Policy struct {
	PolicyID  string            `json:"policy_id" yaml:"policy_id"`
	Bindings  []DocumentBinding `json:"bindings" yaml:"bindings"`
	Retention RetentionRules    `json:"retention" yaml:"retention"`
	Context   ContextDefaults   `json:"context" yaml:"context"`
}

// Binding looks up a binding by id.
func (p *Policy) Binding(id string) (*DocumentBinding, bool) {
	for i := range p.Bindings {
		if p.Bindings[i].BindingID == id {
			return &p.Bindings[i], true
		}
	}
	return nil, false
}
