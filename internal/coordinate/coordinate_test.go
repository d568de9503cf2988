package coordinate

import (
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_RoundTrip(t *testing.T) {
	for _, text := range []string{
		"org.tinylog:slf4j-tinylog:2.7.0-M1",
		"com.google.guava:guava:33.0.0-jre",
		"org.jetbrains.kotlinx:kotlinx-coroutines-core:1.7.3:sources",
		"a:b:c",
	} {
		c, problems, err := Parse(text)
		require.NoError(t, err, text)
		assert.Empty(t, problems)
		assert.Equal(t, text, c.String())

		again, _, err := Parse(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, again)
	}
}

func TestParse_Fields(t *testing.T) {
	c, _, err := Parse("org.example:lib:1.0:natives")
	require.NoError(t, err)
	assert.Equal(t, Coordinate{Group: "org.example", Artifact: "lib", Version: "1.0", Classifier: "natives"}, c)
	assert.Equal(t, "org.example:lib", c.Key())
	assert.Equal(t, "org/example/lib/1.0/lib-1.0-natives.jar", c.Path("jar"))
}

func TestParse_PartCountReportsLiteralCount(t *testing.T) {
	cases := map[string]int{
		"a:b:c:d:e":     5,
		"a:b:c:d:e:f:g": 7,
		"a:b":           2,
		"single":        1,
	}
	for text, want := range cases {
		_, _, err := Parse(text)
		var se *SyntaxError
		require.ErrorAs(t, err, &se, text)
		assert.ErrorIs(t, err, ErrPartCount)
		assert.Equal(t, want, se.Parts)
		assert.Contains(t, err.Error(), "got "+strconv.Itoa(want))
	}
}

func TestParse_ForbiddenCharactersCarryPositions(t *testing.T) {
	tests := []struct {
		input     string
		kind      error
		positions []int
	}{
		{"org.example:li b:1.0", ErrSpace, []int{14}},
		{"org/example:lib:1.0", ErrPathSeparator, []int{3}},
		{`org.example:lib:1\0`, ErrPathSeparator, []int{17}},
		{"org.example:lib\n:1.0", ErrLineBreak, []int{15}},
		{"org.example.:lib:1.0.", ErrTrailingDot, []int{11, 20}},
		{"org.example::1.0", ErrEmptyPart, []int{12}},
	}
	for _, tt := range tests {
		_, _, err := Parse(tt.input)
		var se *SyntaxError
		require.ErrorAs(t, err, &se, tt.input)
		assert.True(t, errors.Is(err, tt.kind), "%q: got %v", tt.input, err)
		assert.Equal(t, tt.positions, se.Positions, tt.input)
	}
}

func TestParse_ShorthandClassifierIsWarning(t *testing.T) {
	c, problems, err := Parse("org.example:lib:1.0:compile-only")
	require.NoError(t, err)
	assert.Equal(t, "compile-only", c.Classifier)
	require.Len(t, problems, 1)
	assert.Contains(t, problems[0].Message, "compile-only")
	assert.Equal(t, 20, problems[0].Positions[0])
}

func TestSyntaxError_Pointer(t *testing.T) {
	_, _, err := Parse("org.example:li b:1.0")
	var se *SyntaxError
	require.ErrorAs(t, err, &se)

	lines := strings.Split(se.Pointer(), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "org.example:li b:1.0", lines[0])
	assert.Equal(t, strings.Repeat(" ", 14)+"^", lines[1])

	var missing *SyntaxError
	assert.Equal(t, "", missing.Pointer())
	assert.Equal(t, "a:b", (&SyntaxError{Input: "a:b"}).Pointer())
}

func TestValidateForStorage(t *testing.T) {
	require.NoError(t, ValidateForStorage(Coordinate{Group: "g", Artifact: "a", Version: "1"}))
	err := ValidateForStorage(Coordinate{Group: "g", Artifact: "a/b", Version: "1"})
	assert.ErrorIs(t, err, ErrPathSeparator)
}
