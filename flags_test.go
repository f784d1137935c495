package sigplay_test

import (
	"sort"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sharnoff/sigplay"
)

func sortedChars(s string) string {
	b := []byte(s)
	sort.Slice(b, func(i, j int) bool { return b[i] < b[j] })
	var out []byte
	for i, c := range b {
		if i == 0 || c != b[i-1] {
			out = append(out, c)
		}
	}
	return string(out)
}

func TestParseFlagsRoundTrip(t *testing.T) {
	cases := []string{"", "i", "r", "d", "s", "w", "b", "ri", "ir", "rrr", "bwsdri", "dbd"}

	for _, text := range cases {
		f, err := sigplay.ParseFlags(text)
		require.NoError(t, err, "parsing %q", text)
		assert.Equal(t, sortedChars(text), sortedChars(f.Chars()), "round trip of %q", text)

		again, err := sigplay.ParseFlags(f.Chars())
		require.NoError(t, err)
		assert.Equal(t, f, again)
	}
}

func TestParseFlagsValues(t *testing.T) {
	f, err := sigplay.ParseFlags("rib")
	require.NoError(t, err)
	assert.Equal(t, sigplay.FlagRestart|sigplay.FlagSigInfo|sigplay.FlagNoDefer, f)
	assert.True(t, f.Has(sigplay.FlagRestart))
	assert.False(t, f.Has(sigplay.FlagResetHand))
	assert.Equal(t, []string{"SA_SIGINFO", "SA_RESTART", "SA_NODEFER"}, f.Names())
	assert.Equal(t, "0x50000004(irb)", f.String())
}

func TestParseFlagsInvalidChar(t *testing.T) {
	cases := []struct {
		text string
		char rune
		pos  int
	}{
		{"x", 'x', 0},
		{"riQ", 'Q', 2},
		{"r i", ' ', 1},
		{"R", 'R', 0},
		{"ré", 'é', 1},
		{"\xffr", utf8.RuneError, 0},
	}

	for _, c := range cases {
		_, err := sigplay.ParseFlags(c.text)
		require.Error(t, err)

		var flagErr *sigplay.InvalidFlagError
		require.True(t, errors.As(err, &flagErr), "error for %q", c.text)
		assert.Equal(t, c.char, flagErr.Char)
		assert.Equal(t, c.pos, flagErr.Pos)
		assert.Equal(t, c.text, flagErr.Input)
	}
}

func TestDescribeFlags(t *testing.T) {
	f, err := sigplay.ParseFlags("d")
	require.NoError(t, err)

	desc := f.Describe()
	assert.Contains(t, desc, "SA_RESETHAND")
	assert.NotContains(t, desc, "SA_RESTART")

	all := sigplay.DescribeAllFlags()
	for _, name := range []string{"SA_SIGINFO", "SA_RESTART", "SA_RESETHAND", "SA_NOCLDSTOP", "SA_NOCLDWAIT", "SA_NODEFER"} {
		assert.Equal(t, 1, strings.Count(all, name+" ="), name)
	}
}
