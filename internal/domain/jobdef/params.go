package jobdef

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Parameter is one named script argument. An empty Name means the value is
// passed positionally.
type Parameter struct {
	Name  string `yaml:"name"  json:"name"`
	Value string `yaml:"value" json:"value"`
}

// Parameters accepts the three historical YAML shapes and canonicalizes to
// an ordered list of {name, value} pairs:
//
//	parameters:            parameters:          parameters:
//	  - name: Env            - "Env=prod"         Env: prod
//	    value: prod          - "Verbose=true"     Verbose: true
//
// Rendering always emits the first shape.
type Parameters []Parameter

// UnmarshalYAML implements yaml.Unmarshaler for Parameters.
func (p *Parameters) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.SequenceNode:
		out := make(Parameters, 0, len(value.Content))
		for _, item := range value.Content {
			param, err := decodeParameterItem(item)
			if err != nil {
				return err
			}
			out = append(out, param)
		}
		*p = out
		return nil
	case yaml.MappingNode:
		// Content alternates key and value nodes; source order is kept.
		out := make(Parameters, 0, len(value.Content)/2)
		for i := 0; i+1 < len(value.Content); i += 2 {
			name := value.Content[i].Value
			val, err := scalarString(value.Content[i+1])
			if err != nil {
				return fmt.Errorf("parameters: value for %q: %w", name, err)
			}
			out = append(out, Parameter{Name: name, Value: val})
		}
		*p = out
		return nil
	case yaml.ScalarNode:
		if value.Tag == "!!null" {
			*p = nil
			return nil
		}
		return fmt.Errorf("parameters: expected a list or mapping, got scalar %q", value.Value)
	default:
		return fmt.Errorf("parameters: unsupported YAML node kind %d", value.Kind)
	}
}

func decodeParameterItem(item *yaml.Node) (Parameter, error) {
	switch item.Kind {
	case yaml.MappingNode:
		var kv struct {
			Name  string    `yaml:"name"`
			Value yaml.Node `yaml:"value"`
		}
		if err := item.Decode(&kv); err != nil {
			return Parameter{}, fmt.Errorf("parameters: %w", err)
		}
		if strings.TrimSpace(kv.Name) == "" {
			return Parameter{}, fmt.Errorf("parameters: entry %d is missing a name", item.Line)
		}
		val, err := scalarString(&kv.Value)
		if err != nil {
			return Parameter{}, fmt.Errorf("parameters: value for %q: %w", kv.Name, err)
		}
		return Parameter{Name: strings.TrimSpace(kv.Name), Value: val}, nil
	case yaml.ScalarNode:
		// "name=value" shape; a bare string becomes a positional value.
		var s string
		if err := item.Decode(&s); err != nil {
			return Parameter{}, fmt.Errorf("parameters: %w", err)
		}
		if name, val, ok := strings.Cut(s, "="); ok {
			return Parameter{Name: strings.TrimSpace(name), Value: val}, nil
		}
		return Parameter{Value: s}, nil
	default:
		return Parameter{}, fmt.Errorf("parameters: entries must be mappings or strings (line %d)", item.Line)
	}
}

// scalarString stringifies a YAML scalar so `Verbose: true` and `Port: 443`
// carry through as argument text.
func scalarString(n *yaml.Node) (string, error) {
	if n == nil || n.Kind == 0 || n.Tag == "!!null" {
		return "", nil
	}
	if n.Kind != yaml.ScalarNode {
		return "", fmt.Errorf("expected a scalar, got kind %d", n.Kind)
	}
	return n.Value, nil
}

// Args renders the parameter list as a powershell.exe argument vector.
// Named parameters become -Name value pairs; positional values pass
// through bare.
func (p Parameters) Args() []string {
	if len(p) == 0 {
		return nil
	}
	args := make([]string, 0, len(p)*2)
	for _, param := range p {
		if param.Name != "" {
			args = append(args, "-"+param.Name)
		}
		if param.Value != "" || param.Name == "" {
			args = append(args, param.Value)
		}
	}
	return args
}
