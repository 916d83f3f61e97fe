package task

import (
	"context"
	"regexp"
	"sort"
	"strings"

	appErr "jobe/pkg/errors"
)

// Probe is the command that reports a language's version and the pattern
// whose first group extracts it.
type Probe struct {
	Command []string
	Pattern *regexp.Regexp
}

// Variant is the per-language behaviour of a task.
type Variant interface {
	// ID is the language id used in run requests.
	ID() string
	// DefaultFileName derives a source file name from the code. ok is false
	// when no entry point could be found and a placeholder was returned.
	DefaultFileName(source string) (name string, ok bool)
	// Defaults adjusts the global defaults before caller overrides apply.
	Defaults(p *Params)
	// Compile builds or syntax-checks the source, setting CmpInfo and the
	// executable on t.
	Compile(ctx context.Context, t *Task) error
	// RunCommand is the command executed inside the sandbox.
	RunCommand(t *Task) []string
	FilterStdout(s string) string
	FilterStderr(s string) string
	VersionProbe() Probe
}

// enforcer is implemented by variants with mandatory limits that override
// whatever the caller asked for.
type enforcer interface {
	Enforce(p *Params)
}

// memoryLimitDetector refines a failed run into MemoryLimitExceeded.
type memoryLimitDetector interface {
	MemoryLimitExceeded(stdout, stderr string) bool
}

// baseVariant supplies the pass-through parts of Variant.
type baseVariant struct{}

func (baseVariant) Defaults(*Params)             {}
func (baseVariant) FilterStdout(s string) string { return s }
func (baseVariant) FilterStderr(s string) string { return s }

// VariantConfig carries the server settings variants depend on.
type VariantConfig struct {
	Python3Version  string `yaml:"python3Version"`
	JavacExtraFlags string `yaml:"javacExtraFlags"`
	JavaExtraFlags  string `yaml:"javaExtraFlags"`
}

func (c *VariantConfig) ApplyDefaults() {
	if c.Python3Version == "" {
		c.Python3Version = "python3"
	}
}

// Registry maps language ids to variants.
type Registry struct {
	variants map[string]Variant
}

// NewRegistry returns a registry holding every built-in language.
func NewRegistry(cfg VariantConfig) *Registry {
	cfg.ApplyDefaults()
	r := &Registry{variants: map[string]Variant{}}
	r.Register(newCVariant())
	r.Register(newCppVariant())
	r.Register(newJavaVariant(cfg.JavacExtraFlags, cfg.JavaExtraFlags))
	r.Register(newPython3Variant(cfg.Python3Version))
	r.Register(newPython2Variant())
	r.Register(newNodejsVariant())
	r.Register(newPHPVariant())
	r.Register(newPascalVariant())
	r.Register(newOctaveVariant())
	r.Register(newMatlabVariant())
	r.Register(newVHDLVariant())
	return r
}

// Register adds or replaces v.
func (r *Registry) Register(v Variant) {
	r.variants[strings.ToLower(v.ID())] = v
}

// Lookup finds the variant for a language id, ignoring case.
func (r *Registry) Lookup(id string) (Variant, error) {
	v, ok := r.variants[strings.ToLower(id)]
	if !ok {
		return nil, appErr.UnknownLanguage(id)
	}
	return v, nil
}

// IDs returns the registered language ids in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.variants))
	for id := range r.variants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ResolveParams applies the variant defaults, then the overrides, then any
// mandatory variant limits.
func ResolveParams(v Variant, o Overrides) Params {
	p := DefaultParams()
	v.Defaults(&p)
	o.Apply(&p)
	if e, ok := v.(enforcer); ok {
		e.Enforce(&p)
	}
	return p
}
