package semver

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	mm "github.com/Masterminds/semver/v3"
)

// Version is a library version string with an ordering.
//
// Plain release versions that parse as semantic versions (including the
// lenient forms accepted by github.com/Masterminds/semver/v3, such as "1.0")
// are ordered by semver rules. Versions with a prerelease or qualifier, and
// anything that is not semver, use a Maven-style token comparison, so
// 2.7.0-M9 < 2.7.0-M10 and 1.0-alpha < 1.0-SNAPSHOT.
type Version struct {
	raw string
	v   *mm.Version
}

func ParseVersion(raw string) (Version, error) {
	if strings.TrimSpace(raw) == "" {
		return Version{}, fmt.Errorf("semver: parse version %q: empty", raw)
	}
	v, err := mm.NewVersion(raw)
	if err != nil {
		return Version{raw: raw}, nil
	}
	return Version{raw: raw, v: v}, nil
}

func (v Version) String() string { return v.raw }

// IsSemver reports whether v parses as a semantic version.
func (v Version) IsSemver() bool { return v.v != nil }

// isRelease reports whether v is a semver release without a prerelease or
// build suffix.
func (v Version) isRelease() bool {
	return v.v != nil && v.v.Prerelease() == "" && v.v.Metadata() == ""
}

// Compare compares a and b, returning:
// -1 if a < b
//
//	0 if a == b
//	1 if a > b
func Compare(a, b Version) int {
	if a.isRelease() && b.isRelease() {
		if c := a.v.Compare(b.v); c != 0 {
			return c
		}
		// 1.0 and 1.0.0 are equal semver; keep the order total.
		return strings.Compare(a.raw, b.raw)
	}
	return compareMaven(a.raw, b.raw)
}

// CompareStrings parses and compares two raw versions.
func CompareStrings(a, b string) int {
	va, _ := ParseVersion(a)
	vb, _ := ParseVersion(b)
	return Compare(va, vb)
}

// Max returns the highest of the given raw versions. Ties keep the first.
func Max(versions []string) (string, bool) {
	if len(versions) == 0 {
		return "", false
	}
	best := versions[0]
	for _, candidate := range versions[1:] {
		if CompareStrings(candidate, best) > 0 {
			best = candidate
		}
	}
	return best, true
}

// qualifier order for non-numeric tokens, following Maven's conventions.
var qualifierRank = map[string]int{
	"alpha":     1,
	"a":         1,
	"beta":      2,
	"b":         2,
	"milestone": 3,
	"m":         3,
	"rc":        4,
	"cr":        4,
	"snapshot":  5,
	"":          6,
	"ga":        6,
	"final":     6,
	"release":   6,
	"sp":        7,
}

type token struct {
	num     int64
	isNum   bool
	literal string
}

func tokenize(raw string) []token {
	var out []token
	var cur strings.Builder
	curDigit := false
	flush := func() {
		if cur.Len() == 0 {
			return
		}
		s := strings.ToLower(cur.String())
		if curDigit {
			n, err := strconv.ParseInt(s, 10, 64)
			if err == nil {
				out = append(out, token{num: n, isNum: true, literal: s})
				cur.Reset()
				return
			}
		}
		out = append(out, token{literal: s})
		cur.Reset()
	}
	for _, r := range raw {
		switch {
		case r == '.' || r == '-' || r == '_' || r == '+':
			flush()
		case unicode.IsDigit(r):
			if cur.Len() > 0 && !curDigit {
				flush()
			}
			curDigit = true
			cur.WriteRune(r)
		default:
			if cur.Len() > 0 && curDigit {
				flush()
			}
			curDigit = false
			cur.WriteRune(r)
		}
	}
	flush()
	// Trailing zeros do not make a version bigger: 1.0.0 == 1.
	for len(out) > 0 && out[len(out)-1].isNum && out[len(out)-1].num == 0 {
		out = out[:len(out)-1]
	}
	return out
}

func compareMaven(a, b string) int {
	ta, tb := tokenize(a), tokenize(b)
	for i := 0; i < len(ta) || i < len(tb); i++ {
		var x, y token
		xOK, yOK := i < len(ta), i < len(tb)
		if xOK {
			x = ta[i]
		}
		if yOK {
			y = tb[i]
		}
		// A missing token pads as 0 against a number and as a release
		// against a qualifier, so 1.0 < 1.0.1 and 1.0-M1 < 1.0.
		if !xOK {
			x = padFor(y)
		}
		if !yOK {
			y = padFor(x)
		}
		switch {
		case x.isNum && y.isNum:
			if x.num != y.num {
				if x.num < y.num {
					return -1
				}
				return 1
			}
		case x.isNum:
			return 1
		case y.isNum:
			return -1
		default:
			if c := compareQualifier(x.literal, y.literal); c != 0 {
				return c
			}
		}
	}
	return strings.Compare(a, b)
}

func padFor(other token) token {
	if other.isNum {
		return token{isNum: true}
	}
	return token{}
}

func compareQualifier(a, b string) int {
	ra, aKnown := qualifierRank[a]
	rb, bKnown := qualifierRank[b]
	switch {
	case aKnown && bKnown:
		return cmpInt(ra, rb)
	case aKnown:
		// Unknown qualifiers sort after known ones.
		return -1
	case bKnown:
		return 1
	default:
		return strings.Compare(a, b)
	}
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
