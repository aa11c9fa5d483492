package workflow

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Policy overrides the configurable approval rules of the descriptor table.
type Policy struct {
	Documents map[DocType]DocumentPolicy `yaml:"documents"`
}

// DocumentPolicy holds per-type overrides. Nil fields keep the compiled default.
type DocumentPolicy struct {
	ApprovalNotesRequired *bool `yaml:"approval_notes_required"`
	AllowSelfApproval     *bool `yaml:"allow_self_approval"`
}

// LoadPolicy decodes a YAML policy document.
func LoadPolicy(r io.Reader) (Policy, error) {
	var p Policy
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		if err == io.EOF {
			return Policy{}, nil
		}
		return Policy{}, fmt.Errorf("workflow: decode policy: %w", err)
	}
	return p, nil
}

// LoadPolicyFile reads a policy from path. An empty path yields an empty policy.
func LoadPolicyFile(path string) (Policy, error) {
	if path == "" {
		return Policy{}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return Policy{}, fmt.Errorf("workflow: open policy: %w", err)
	}
	defer f.Close()
	return LoadPolicy(f)
}

// WithPolicy returns a copy of the registry with p applied.
func (r *Registry) WithPolicy(p Policy) (*Registry, error) {
	descriptors := make([]Descriptor, 0, len(r.order))
	for _, dt := range r.order {
		descriptors = append(descriptors, r.byType[dt])
	}
	for dt, override := range p.Documents {
		idx := -1
		for i := range descriptors {
			if descriptors[i].Type == dt {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, fmt.Errorf("%w: policy entry %q", ErrUnknownDocType, dt)
		}
		d := &descriptors[idx]
		if override.ApprovalNotesRequired != nil {
			if !d.Review && *override.ApprovalNotesRequired {
				return nil, fmt.Errorf("workflow: policy for %s: type has no approval step", dt)
			}
			d.ApprovalNotesRequired = *override.ApprovalNotesRequired
		}
		if override.AllowSelfApproval != nil {
			d.AllowSelfApproval = *override.AllowSelfApproval
		}
	}
	return NewRegistry(descriptors)
}
