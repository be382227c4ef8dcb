package stringutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "echo he...", Truncate("echo hello world", 10))
	assert.Equal(t, "äöü...", Truncate("äöüäöüäöü", 6))
	assert.Equal(t, "ab", Truncate("abcdef", 2))
}

func TestRemoveQuotes(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		`"quoted"`:     "quoted",
		`"tab\there"`:  "tab\there",
		`plain`:        "plain",
		`"unbalanced`:  `"unbalanced`,
		`"bad \q esc"`: `"bad \q esc"`,
		`""`:           "",
	}
	for in, want := range tests {
		assert.Equal(t, want, RemoveQuotes(in), in)
	}
}
