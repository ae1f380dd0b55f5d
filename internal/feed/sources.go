package feed

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Sources maps a group name to its feed URL.
type Sources map[string]string

// LoadSources reads a source list from a YAML or JSON file. Both {"urls": {name: url}} and a
// bare {name: url} mapping are accepted.
func LoadSources(path string) (Sources, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources: %w", err)
	}
	return ParseSources(data)
}

// ParseSources decodes a source list document.
func ParseSources(data []byte) (Sources, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse sources: %w", err)
	}
	if nested, ok := doc["urls"]; ok {
		m, ok := nested.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("parse sources: \"urls\" must be a mapping")
		}
		doc = m
	}
	src := make(Sources, len(doc))
	for name, v := range doc {
		u, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("parse sources: url for %q must be a string", name)
		}
		name, u = strings.TrimSpace(name), strings.TrimSpace(u)
		if name == "" || u == "" {
			continue
		}
		src[name] = u
	}
	return src, nil
}

// Merge returns a copy of s with other's entries added, other winning on conflicts.
func (s Sources) Merge(other map[string]string) Sources {
	out := make(Sources, len(s)+len(other))
	for k, v := range s {
		out[k] = v
	}
	for k, v := range other {
		if k != "" && v != "" {
			out[k] = v
		}
	}
	return out
}

// Names returns the group names in sorted order.
func (s Sources) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
