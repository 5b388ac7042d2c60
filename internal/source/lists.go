package source

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadCatalog reads product names. See LoadList for the accepted formats.
func LoadCatalog(path string) ([]string, error) {
	names, err := LoadList(path, "products")
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("catalog %s is empty", path)
	}
	return names, nil
}

// LoadStopPhrases reads phrases that suppress a cell. An empty path yields no
// phrases.
func LoadStopPhrases(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	return LoadList(path, "stop_phrases")
}

// LoadList reads a list of strings. YAML files (.yaml, .yml) may hold a bare
// sequence or a mapping whose key holds the sequence; sequence items may be
// strings or {name: ...} mappings. Any other file is read one entry per line,
// skipping blank lines and lines starting with '#'.
func LoadList(path, key string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		out, err := parseYAMLList(raw, key)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		return out, nil
	default:
		return parseLines(raw), nil
	}
}

type namedItem struct {
	Name string `yaml:"name"`
}

func parseYAMLList(raw []byte, key string) ([]string, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(raw, &root); err != nil {
		return nil, err
	}
	if len(root.Content) == 0 {
		return nil, nil
	}
	node := root.Content[0]
	if node.Kind == yaml.MappingNode {
		var found *yaml.Node
		for i := 0; i+1 < len(node.Content); i += 2 {
			if node.Content[i].Value == key {
				found = node.Content[i+1]
				break
			}
		}
		if found == nil {
			return nil, fmt.Errorf("missing %q key", key)
		}
		node = found
	}
	if node.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("expected a list, got %s", kindName(node.Kind))
	}

	out := make([]string, 0, len(node.Content))
	for _, item := range node.Content {
		var s string
		switch item.Kind {
		case yaml.ScalarNode:
			s = item.Value
		case yaml.MappingNode:
			var n namedItem
			if err := item.Decode(&n); err != nil {
				return nil, fmt.Errorf("line %d: %w", item.Line, err)
			}
			s = n.Name
		default:
			return nil, fmt.Errorf("line %d: unsupported list item", item.Line)
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.MappingNode:
		return "mapping"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	default:
		return "document"
	}
}

func parseLines(raw []byte) []string {
	raw = bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))
	var out []string
	sc := bufio.NewScanner(bytes.NewReader(raw))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out
}
