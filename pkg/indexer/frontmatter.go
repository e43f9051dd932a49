package indexer

import (
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseFrontMatter splits a Markdown file into its YAML front matter
// and body. Front matter is optional: a file with no leading "---\n"
// delimiter is treated as body-only with an empty front matter map.
func ParseFrontMatter(content string) (map[string]any, string, error) {
	if !strings.HasPrefix(content, "---\n") {
		return map[string]any{}, content, nil
	}

	rest := content[len("---\n"):]
	idx := strings.Index(rest, "\n---\n")
	if idx < 0 {
		// No closing delimiter: treat the whole file as body rather
		// than failing the index pass over a formatting slip.
		return map[string]any{}, content, nil
	}

	raw := rest[:idx]
	body := rest[idx+len("\n---\n"):]

	var fm map[string]any
	if err := yaml.Unmarshal([]byte(raw), &fm); err != nil {
		return nil, "", err
	}
	if fm == nil {
		fm = map[string]any{}
	}
	return fm, body, nil
}
