package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSecret(t *testing.T) {
	cases := map[string]string{
		"":                          "",
		"sk_live_51HfA2bCdEfGh9XyZ": "sk_live_****9XyZ",
		"whsec_short":               "whsec_****",
		"44782DEF547AAA06C910":      "****C910",
		"abc":                       "****",
		"trailing_":                 "****",
	}
	for in, want := range cases {
		if got := Secret(in); got != want {
			t.Fatalf("Secret(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFieldsFlattensAndMasks(t *testing.T) {
	fields := Fields(map[string]any{
		"secret_key": "sk_test_1234567890abcdef",
		"live":       false,
		"settlement": map[string]any{"hmac_key": "00112233445566778899"},
		"methods":    []any{"card", "pix"},
		"   ":        "dropped",
	})

	assert.Equal(t, map[string]any{
		"secret_key":          "sk_test_****cdef",
		"live":                false,
		"settlement.hmac_key": "****8899",
		"methods":             2,
	}, fields)
	assert.Nil(t, Fields(nil))
}

func TestKeysSorted(t *testing.T) {
	keys := Keys(map[string]any{"webhook_secret": "x", "secret_key": "y", "nested": map[string]any{"a": "b"}})
	assert.Equal(t, []string{"nested.a", "secret_key", "webhook_secret"}, keys)
}
