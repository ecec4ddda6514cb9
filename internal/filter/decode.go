package filter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/joshsymonds/headshot/internal/models"
)

// Recognized filter field names. Anything else in a group is a
// configuration error, never silently ignored.
const (
	fieldPluginID       = "plugin_id"
	fieldSeverity       = "severity"
	fieldPluginFamily   = "plugin_family"
	fieldState          = "state"
	fieldOutputContains = "output_contains"
)

// UnmarshalJSON decodes the two accepted wire forms: a single object
// (AND group) or a non-empty array of objects (OR across groups).
func (e *Expression) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 {
		return fmt.Errorf("plugin_filters is empty")
	}

	switch trimmed[0] {
	case '{':
		var raw map[string]json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("parsing filter group: %w", err)
		}
		g, err := groupFromJSON(raw)
		if err != nil {
			return err
		}
		e.groups = []Group{g}
		return nil

	case '[':
		var raws []map[string]json.RawMessage
		if err := json.Unmarshal(data, &raws); err != nil {
			return fmt.Errorf("parsing filter group list: %w", err)
		}
		if len(raws) == 0 {
			return fmt.Errorf("plugin_filters list is empty: it would match nothing")
		}
		groups := make([]Group, 0, len(raws))
		for i, raw := range raws {
			g, err := groupFromJSON(raw)
			if err != nil {
				return fmt.Errorf("filter group %d: %w", i+1, err)
			}
			groups = append(groups, g)
		}
		e.groups = groups
		return nil

	default:
		return fmt.Errorf("plugin_filters must be an object or an array of objects")
	}
}

// MarshalJSON round-trips the canonical form for --list-rules and logs.
func (e Expression) MarshalJSON() ([]byte, error) {
	objs := make([]map[string]any, 0, len(e.groups))
	for _, g := range e.groups {
		objs = append(objs, g.asMap())
	}
	if len(objs) == 1 {
		return json.Marshal(objs[0])
	}
	return json.Marshal(objs)
}

// UnmarshalYAML accepts the same shapes as UnmarshalJSON for YAML configs.
func (e *Expression) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.MappingNode:
		g, err := groupFromYAML(node)
		if err != nil {
			return err
		}
		e.groups = []Group{g}
		return nil

	case yaml.SequenceNode:
		if len(node.Content) == 0 {
			return fmt.Errorf("plugin_filters list is empty: it would match nothing")
		}
		groups := make([]Group, 0, len(node.Content))
		for i, item := range node.Content {
			if item.Kind != yaml.MappingNode {
				return fmt.Errorf("filter group %d: must be a mapping", i+1)
			}
			g, err := groupFromYAML(item)
			if err != nil {
				return fmt.Errorf("filter group %d: %w", i+1, err)
			}
			groups = append(groups, g)
		}
		e.groups = groups
		return nil

	default:
		return fmt.Errorf("plugin_filters must be a mapping or a sequence of mappings")
	}
}

func groupFromJSON(raw map[string]json.RawMessage) (Group, error) {
	if len(raw) == 0 {
		return Group{}, errEmptyGroup()
	}

	var g Group
	for key, value := range raw {
		switch key {
		case fieldPluginID:
			ids, err := pluginIDsFromJSON(value)
			if err != nil {
				return Group{}, err
			}
			g.PluginIDs = ids
		case fieldSeverity:
			var s string
			if err := json.Unmarshal(value, &s); err != nil {
				return Group{}, fmt.Errorf("severity must be a string")
			}
			if err := g.setSeverity(s); err != nil {
				return Group{}, err
			}
		case fieldPluginFamily:
			var s string
			if err := json.Unmarshal(value, &s); err != nil {
				return Group{}, fmt.Errorf("plugin_family must be a string")
			}
			if err := g.setPluginFamily(s); err != nil {
				return Group{}, err
			}
		case fieldState:
			var s string
			if err := json.Unmarshal(value, &s); err != nil {
				return Group{}, fmt.Errorf("state must be a string")
			}
			if err := g.setState(s); err != nil {
				return Group{}, err
			}
		case fieldOutputContains:
			var s string
			if err := json.Unmarshal(value, &s); err != nil {
				return Group{}, fmt.Errorf("output_contains must be a string")
			}
			if err := g.setOutputContains(s); err != nil {
				return Group{}, err
			}
		default:
			return Group{}, errUnknownField(key)
		}
	}

	g.applyStateDefault()
	return g, nil
}

func groupFromYAML(node *yaml.Node) (Group, error) {
	if len(node.Content) == 0 {
		return Group{}, errEmptyGroup()
	}

	var g Group
	seen := make(map[string]bool, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode, valueNode := node.Content[i], node.Content[i+1]
		key := keyNode.Value
		if seen[key] {
			return Group{}, fmt.Errorf("duplicate filter field %q", key)
		}
		seen[key] = true

		switch key {
		case fieldPluginID:
			ids, err := pluginIDsFromYAML(valueNode)
			if err != nil {
				return Group{}, err
			}
			g.PluginIDs = ids
		case fieldSeverity:
			var s string
			if err := valueNode.Decode(&s); err != nil {
				return Group{}, fmt.Errorf("severity must be a string")
			}
			if err := g.setSeverity(s); err != nil {
				return Group{}, err
			}
		case fieldPluginFamily:
			var s string
			if err := valueNode.Decode(&s); err != nil {
				return Group{}, fmt.Errorf("plugin_family must be a string")
			}
			if err := g.setPluginFamily(s); err != nil {
				return Group{}, err
			}
		case fieldState:
			var s string
			if err := valueNode.Decode(&s); err != nil {
				return Group{}, fmt.Errorf("state must be a string")
			}
			if err := g.setState(s); err != nil {
				return Group{}, err
			}
		case fieldOutputContains:
			var s string
			if err := valueNode.Decode(&s); err != nil {
				return Group{}, fmt.Errorf("output_contains must be a string")
			}
			if err := g.setOutputContains(s); err != nil {
				return Group{}, err
			}
		default:
			return Group{}, errUnknownField(key)
		}
	}

	g.applyStateDefault()
	return g, nil
}

func pluginIDsFromJSON(value json.RawMessage) ([]int, error) {
	var single int
	if err := json.Unmarshal(value, &single); err == nil {
		return []int{single}, nil
	}
	var many []int
	if err := json.Unmarshal(value, &many); err != nil {
		return nil, fmt.Errorf("plugin_id must be an integer or a list of integers")
	}
	if len(many) == 0 {
		return nil, fmt.Errorf("plugin_id list is empty")
	}
	return many, nil
}

func pluginIDsFromYAML(node *yaml.Node) ([]int, error) {
	var single int
	if err := node.Decode(&single); err == nil {
		return []int{single}, nil
	}
	var many []int
	if err := node.Decode(&many); err != nil {
		return nil, fmt.Errorf("plugin_id must be an integer or a list of integers")
	}
	if len(many) == 0 {
		return nil, fmt.Errorf("plugin_id list is empty")
	}
	return many, nil
}

func (g *Group) setSeverity(s string) error {
	normalized := models.NormalizeSeverity(s)
	if !models.IsValidSeverity(normalized) {
		return fmt.Errorf("invalid severity %q (valid: %s)",
			s, strings.Join(models.ValidSeverities(), ", "))
	}
	g.Severity = normalized
	return nil
}

func (g *Group) setState(s string) error {
	normalized := models.NormalizeState(s)
	if !models.IsValidState(normalized) {
		return fmt.Errorf("invalid state %q (valid: %s)",
			s, strings.Join(models.ValidStates(), ", "))
	}
	g.State = normalized
	return nil
}

func (g *Group) setPluginFamily(s string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("plugin_family must not be empty")
	}
	g.PluginFamily = s
	return nil
}

func (g *Group) setOutputContains(s string) error {
	if s == "" {
		return fmt.Errorf("output_contains must not be empty")
	}
	g.OutputContains = s
	return nil
}

// applyStateDefault constrains unstated groups to open vulnerabilities,
// matching the platform's default view. The default lives here, at decode
// time, so the evaluator sees only explicit constraints.
func (g *Group) applyStateDefault() {
	if g.State == "" {
		g.State = models.StateOpen
	}
}

func (g Group) asMap() map[string]any {
	m := make(map[string]any)
	if len(g.PluginIDs) == 1 {
		m[fieldPluginID] = g.PluginIDs[0]
	} else if len(g.PluginIDs) > 1 {
		m[fieldPluginID] = g.PluginIDs
	}
	if g.Severity != "" {
		m[fieldSeverity] = g.Severity
	}
	if g.PluginFamily != "" {
		m[fieldPluginFamily] = g.PluginFamily
	}
	if g.State != "" {
		m[fieldState] = g.State
	}
	if g.OutputContains != "" {
		m[fieldOutputContains] = g.OutputContains
	}
	return m
}

func errEmptyGroup() error {
	return fmt.Errorf("filter group has no fields: an empty group would match every asset")
}

func errUnknownField(key string) error {
	return fmt.Errorf("unknown filter field %q (valid: %s)", key, strings.Join([]string{
		fieldPluginID, fieldSeverity, fieldPluginFamily, fieldState, fieldOutputContains,
	}, ", "))
}
