package semver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompareStrings_Ordering(t *testing.T) {
	ordered := [][2]string{
		{"1.0", "2.0"},
		{"2.0.9", "2.0.10"},
		{"2.7.0-M1", "2.7.0"},
		{"1.9.22", "1.10.0"},
		{"1.2.3.4", "1.2.3.5"},
		{"1.2.3.4", "1.2.4"},
		{"1.0-alpha-1", "1.0-beta-1"},
		{"1.0-rc1", "1.0"},
		{"1.0.0.0-M1", "1.0.0.0"},
		{"2.7.0-M9", "2.7.0-M10"},
		{"2.7.0-M10", "2.7.0-RC1"},
		{"1.0-rc9", "1.0-rc10"},
		{"1.0.0-rc.2", "1.0.0-rc.11"},
		{"1.0.0-alpha", "1.0.0-SNAPSHOT"},
		{"1.0.0-SNAPSHOT", "1.0.0"},
		{"1.0.0-M10", "1.0.1"},
	}
	for _, pair := range ordered {
		assert.Equal(t, -1, CompareStrings(pair[0], pair[1]), "%s < %s", pair[0], pair[1])
		assert.Equal(t, 1, CompareStrings(pair[1], pair[0]), "%s > %s", pair[1], pair[0])
	}
	assert.Equal(t, 0, CompareStrings("1.2.3.4", "1.2.3.4"))
}

func TestParseVersion(t *testing.T) {
	v, err := ParseVersion("2.7.0-M1")
	require.NoError(t, err)
	assert.True(t, v.IsSemver())
	assert.Equal(t, "2.7.0-M1", v.String())

	v, err = ParseVersion("1.2.3.4")
	require.NoError(t, err)
	assert.False(t, v.IsSemver())

	_, err = ParseVersion(" ")
	require.Error(t, err)
}

func TestMax(t *testing.T) {
	best, ok := Max([]string{"1.0", "2.0", "1.5"})
	require.True(t, ok)
	assert.Equal(t, "2.0", best)

	best, ok = Max([]string{"2.7.0-M9", "2.7.0-M10", "2.7.0-M2"})
	require.True(t, ok)
	assert.Equal(t, "2.7.0-M10", best)

	best, ok = Max([]string{"1.0-rc10", "1.0-rc9"})
	require.True(t, ok)
	assert.Equal(t, "1.0-rc10", best)

	_, ok = Max(nil)
	assert.False(t, ok)
}
