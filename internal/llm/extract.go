package llm

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

const extractSystem = `You are a data extraction engine. Extract the requested fields
from the supplied content and respond with a single JSON object wrapped
in <output>...</output> delimiters. Use null for fields you cannot
determine. Emit nothing outside the delimiters.`

// Extract prompts the model to map raw content onto the given JSON
// schema and decodes the answer into out.
func (c *Client) Extract(ctx context.Context, content, schema string, out any) error {
	var b strings.Builder
	b.WriteString("Schema:\n")
	b.WriteString(schema)
	b.WriteString("\n\nContent:\n")
	b.WriteString(content)

	resp, err := c.Generate(ctx, extractSystem, b.String())
	if err != nil {
		return err
	}

	payload, err := ParseOutput(resp)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(payload), out); err != nil {
		return eris.Wrap(err, "llm: decode extraction")
	}
	return nil
}

// ParseOutput pulls the model's answer out of the response text: the
// first <output>...</output> block, falling back to the first JSON
// object substring.
func ParseOutput(resp string) (string, error) {
	if start := strings.Index(resp, "<output>"); start >= 0 {
		rest := resp[start+len("<output>"):]
		if end := strings.Index(rest, "</output>"); end >= 0 {
			return strings.TrimSpace(rest[:end]), nil
		}
	}

	if obj := firstJSONObject(resp); obj != "" {
		return obj, nil
	}
	return "", eris.New("llm: no parseable output in response")
}

// firstJSONObject scans for the first balanced top-level JSON object,
// respecting string literals.
func firstJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
