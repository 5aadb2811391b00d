// Package frontmatter reads and writes the "---\nYAML\n---\nbody" files used
// by the IPC store and the memory store.
package frontmatter

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const delimiter = "---"

// Encode renders meta as a YAML front matter block followed by body.
func Encode(meta any, body string) ([]byte, error) {
	yamlBytes, err := yaml.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal front matter: %w", err)
	}
	var b strings.Builder
	b.WriteString(delimiter)
	b.WriteByte('\n')
	b.Write(yamlBytes)
	b.WriteString(delimiter)
	b.WriteByte('\n')
	b.WriteString(body)
	return []byte(b.String()), nil
}

// Decode splits data into its YAML front matter (unmarshaled into meta) and
// the remaining Markdown body.
func Decode(data []byte, meta any) (body string, err error) {
	text := string(data)
	if !strings.HasPrefix(text, delimiter) {
		return "", fmt.Errorf("missing front matter delimiter")
	}
	rest := text[len(delimiter):]
	rest = strings.TrimPrefix(rest, "\n")

	end := strings.Index(rest, "\n"+delimiter)
	if end == -1 {
		return "", fmt.Errorf("unterminated front matter block")
	}

	yamlBlock := rest[:end]
	body = strings.TrimPrefix(rest[end+1+len(delimiter):], "\n")

	if err := yaml.Unmarshal([]byte(yamlBlock), meta); err != nil {
		return "", fmt.Errorf("unmarshal front matter: %w", err)
	}
	return body, nil
}
