// Package masking turns gateway credentials into audit-safe fingerprints.
package masking

import (
	"sort"
	"strings"
)

const (
	maskToken = "****"
	// Shorter secrets are hidden entirely; revealing four characters of an
	// eight character key gives too much away.
	minRevealLength = 12
)

// Secret hides value but keeps a gateway prefix such as "sk_live_" and,
// for long values, the last four characters so rotations can be told apart.
func Secret(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}

	prefix := ""
	if i := strings.LastIndex(value, "_"); i > 0 && i < len(value)-1 {
		prefix, value = value[:i+1], value[i+1:]
	}
	if len(value) < minRevealLength {
		return prefix + maskToken
	}
	return prefix + maskToken + value[len(value)-4:]
}

// Fields flattens a provider config into dotted keys with every string leaf
// masked. Non-string leaves are kept since they carry no credentials.
func Fields(config map[string]any) map[string]any {
	out := map[string]any{}
	flatten(out, "", config)
	if len(out) == 0 {
		return nil
	}
	return out
}

// Keys lists the dotted config keys in stable order.
func Keys(config map[string]any) []string {
	fields := Fields(config)
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func flatten(out map[string]any, prefix string, in map[string]any) {
	for key, value := range in {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if prefix != "" {
			key = prefix + "." + key
		}
		switch v := value.(type) {
		case string:
			out[key] = Secret(v)
		case map[string]any:
			flatten(out, key, v)
		case []any:
			out[key] = len(v)
		default:
			out[key] = v
		}
	}
}
