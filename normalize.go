package engram

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"
)

// sqlTime formats a timestamp the way datetime('now') writes them, so Go
// and SQL sides compare lexically.
func sqlTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05")
}

func sqlTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return sqlTime(*t)
}

// normalizeContent canonicalizes content for hashing only: lowercased,
// whitespace collapsed. The stored content keeps the caller's formatting.
func normalizeContent(content string) string {
	return strings.Join(strings.Fields(strings.ToLower(content)), " ")
}

// hashContent is the fast-path dedup key.
func hashContent(content string) string {
	sum := sha256.Sum256([]byte(normalizeContent(content)))
	return hex.EncodeToString(sum[:])
}

// normalizeCategories lowercases and trims each category, drops empties and
// duplicates, and preserves first-seen order.
func normalizeCategories(categories []string) []string {
	seen := make(map[string]bool, len(categories))
	out := make([]string, 0, len(categories))
	for _, c := range categories {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

func marshalMetadata(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalMetadata(s string) (map[string]any, error) {
	if s == "" || s == "{}" {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func marshalCategories(cs []string) (string, error) {
	if len(cs) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(cs)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalCategories(s string) ([]string, error) {
	if s == "" || s == "[]" {
		return nil, nil
	}
	var cs []string
	if err := json.Unmarshal([]byte(s), &cs); err != nil {
		return nil, err
	}
	return cs, nil
}
