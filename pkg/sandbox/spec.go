package sandbox

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
	"k8s.io/apimachinery/pkg/api/resource"
	"k8s.io/apimachinery/pkg/util/validation"
)

// EgressMode is the tri-state tag for SandboxSpec.EgressWhitelist: absence
// of the field is distinct from an empty list, which is distinct from a
// populated list. A plain nullable slice conflates the first two; Egress
// keeps them apart explicitly.
type EgressMode int

const (
	// EgressOpen means the field was absent: no egress policy is created.
	EgressOpen EgressMode = iota
	// EgressBlockAll means the field was an empty list: block all egress
	// except DNS.
	EgressBlockAll
	// EgressAllow means the field was a non-empty list of CIDRs: block all
	// egress except those CIDRs plus DNS.
	EgressAllow
)

// Egress is the resolved tri-state egress policy for a spec.
type Egress struct {
	Mode  EgressMode
	CIDRs []string
}

// SandboxSpec is the (immutable-after-validation) input to the Lifecycle
// Controller. Field names match the YAML/JSON keys consumed by the CLI and
// HTTP API exactly, per spec.md §6.
type SandboxSpec struct {
	Name             string            `yaml:"name" json:"name"`
	Namespace        string            `yaml:"namespace,omitempty" json:"namespace,omitempty"`
	Image            string            `yaml:"image" json:"image"`
	EnvFile          string            `yaml:"envFile,omitempty" json:"envFile,omitempty"`
	EgressWhitelist  *[]string         `yaml:"egressWhitelist,omitempty" json:"egressWhitelist,omitempty"`
	Limits           map[string]string `yaml:"limits,omitempty" json:"limits,omitempty"`
	BeforeScript     string            `yaml:"beforeScript,omitempty" json:"beforeScript,omitempty"`
	PodNonRoot       bool              `yaml:"podNonRoot,omitempty" json:"podNonRoot,omitempty"`
	ContainerNonRoot bool              `yaml:"containerNonRoot,omitempty" json:"containerNonRoot,omitempty"`
	CapDrop          *[]string         `yaml:"capDrop,omitempty" json:"capDrop,omitempty"`
	CapAdd           []string          `yaml:"capAdd,omitempty" json:"capAdd,omitempty"`
	RuntimeClassName string            `yaml:"runtimeClassName,omitempty" json:"runtimeClassName,omitempty"`
}

const defaultRuntimeClassName = "kata"

// Normalize fills in the defaults spec.md §3 describes (namespace
// "default", runtime class "kata"). It must run before Validate.
func (s *SandboxSpec) Normalize() {
	if s.Namespace == "" {
		s.Namespace = "default"
	}
	if s.RuntimeClassName == "" {
		s.RuntimeClassName = defaultRuntimeClassName
	}
}

// Egress resolves the tri-state egress field into an explicit Egress value.
func (s *SandboxSpec) Egress() Egress {
	if s.EgressWhitelist == nil {
		return Egress{Mode: EgressOpen}
	}
	if len(*s.EgressWhitelist) == 0 {
		return Egress{Mode: EgressBlockAll}
	}
	return Egress{Mode: EgressAllow, CIDRs: *s.EgressWhitelist}
}

// DropCapabilities resolves capDrop per spec.md §3: absent means drop ALL;
// present (possibly empty) means drop exactly the given list, uppercased.
func (s *SandboxSpec) DropCapabilities() []string {
	if s.CapDrop == nil {
		return []string{"ALL"}
	}
	return upperAll(*s.CapDrop)
}

// AddCapabilities resolves capAdd: optional list, uppercased, nil if empty.
func (s *SandboxSpec) AddCapabilities() []string {
	if len(s.CapAdd) == 0 {
		return nil
	}
	return upperAll(s.CapAdd)
}

func upperAll(in []string) []string {
	out := make([]string, len(in))
	for i, c := range in {
		out[i] = strings.ToUpper(c)
	}
	return out
}

// Validate rejects a spec that fails required-field or resource-limit
// checks. It performs no cluster mutation.
func (s *SandboxSpec) Validate() error {
	if s.Name == "" {
		return &ValidationError{Msg: "name is required"}
	}
	if errs := validation.IsDNS1123Label(s.Name); len(errs) > 0 {
		return &ValidationError{Msg: fmt.Sprintf("invalid name %q: %s", s.Name, strings.Join(errs, "; "))}
	}
	if s.Image == "" {
		return &ValidationError{Msg: "image is required"}
	}
	for key, value := range s.Limits {
		switch key {
		case "cpu", "memory", "ephemeral-storage":
			q, err := resource.ParseQuantity(value)
			if err != nil {
				return &ValidationError{Msg: fmt.Sprintf("invalid limit %s=%q: %v", key, value, err)}
			}
			if q.Sign() <= 0 {
				return &ValidationError{Msg: fmt.Sprintf("invalid limit %s=%q: must be positive", key, value)}
			}
		default:
			// unknown resource keys are ignored, per spec.
		}
	}
	return nil
}

// LoadSpecYAML reads a SandboxSpec from a YAML file on fs, rejecting any
// key that is not a recognized SandboxSpec field.
func LoadSpecYAML(fs afero.Fs, path string) (*SandboxSpec, error) {
	raw, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("read sandbox spec %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	var spec SandboxSpec
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("parse sandbox spec %s: %w", path, err)
	}
	spec.Normalize()
	return &spec, nil
}

// SpecFromMap builds a SandboxSpec from an arbitrary map (e.g. a decoded
// HTTP JSON body), silently dropping unrecognized keys — the HTTP path is
// intentionally more permissive than the CLI's YAML loader, per spec.md §6.
func SpecFromMap(m map[string]any) (*SandboxSpec, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal sandbox spec input: %w", err)
	}
	var spec SandboxSpec
	if err := json.Unmarshal(raw, &spec); err != nil {
		return nil, fmt.Errorf("parse sandbox spec: %w", err)
	}
	spec.Normalize()
	return &spec, nil
}

// ParseEnvFile parses a KEY=VALUE file per spec.md §4.2: blank lines and
// lines beginning with '#' are ignored, and surrounding single or double
// quotes are trimmed from values. An env file that yields no pairs is a
// validation error, per spec.md §4.2 / §4.3.
func ParseEnvFile(fs afero.Fs, path string) (map[string]string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open env file %s: %w", path, err)
	}
	defer f.Close()

	vars := map[string]string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		value = trimQuotes(value)
		if key != "" {
			vars[key] = value
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read env file %s: %w", path, err)
	}
	if len(vars) == 0 {
		return nil, &ValidationError{Msg: "env_file is empty or invalid; no variables parsed"}
	}
	return vars, nil
}

func trimQuotes(v string) string {
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}
