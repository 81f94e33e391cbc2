package flake

import (
	"regexp"
	"strconv"
	"strings"
)

// versionRegex accepts dotted release numbers with an optional pre/post
// release tag, e.g. 1.2, v0.3.1, 2.0.0-rc.1, 1.0a2, 23.05.post1
var versionRegex = regexp.MustCompile(`^[vV]?(\d+(?:\.\d+)*)(?:[-_.]?([a-zA-Z]+)[-_.]?(\d*))?(?:\+[a-zA-Z0-9.]+)?$`)

// tag ranks relative to a plain release, which ranks 0
var tagRanks = map[string]int{
	"dev":     -4,
	"a":       -3,
	"alpha":   -3,
	"b":       -2,
	"beta":    -2,
	"c":       -1,
	"rc":      -1,
	"pre":     -1,
	"preview": -1,
	"post":    1,
	"rev":     1,
	"r":       1,
}

type version struct {
	release []int
	tag     int
	tagNum  int
}

func parseVersion(s string) (version, bool) {
	m := versionRegex.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return version{}, false
	}

	var v version
	for _, part := range strings.Split(m[1], ".") {
		n, err := strconv.Atoi(part)
		if err != nil {
			return version{}, false
		}
		v.release = append(v.release, n)
	}

	if m[2] != "" {
		rank, ok := tagRanks[strings.ToLower(m[2])]
		if !ok {
			return version{}, false
		}
		v.tag = rank
		if m[3] != "" {
			v.tagNum, _ = strconv.Atoi(m[3])
		}
	}
	return v, true
}

func (v version) compare(o version) int {
	for i := 0; i < max(len(v.release), len(o.release)); i++ {
		a, b := segment(v.release, i), segment(o.release, i)
		if a != b {
			return cmpInt(a, b)
		}
	}
	if v.tag != o.tag {
		return cmpInt(v.tag, o.tag)
	}
	return cmpInt(v.tagNum, o.tagNum)
}

func segment(release []int, i int) int {
	if i < len(release) {
		return release[i]
	}
	return 0
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// CompareVersions orders two release versions. Trailing zero segments are
// ignored and pre-releases sort below their release. Versions that do not
// parse sort below every version that does and compare equal to each other.
func CompareVersions(a, b string) int {
	va, okA := parseVersion(a)
	vb, okB := parseVersion(b)
	switch {
	case okA && okB:
		return va.compare(vb)
	case okA:
		return 1
	case okB:
		return -1
	}
	return 0
}

// HighestVersion returns the release with the highest version. Ties, including
// unparseable versions, go to the earliest entry, so a newest-first slice
// yields the newest of them.
func HighestVersion(releases []ReleaseSummary) (ReleaseSummary, bool) {
	if len(releases) == 0 {
		return ReleaseSummary{}, false
	}
	best := releases[0]
	for _, r := range releases[1:] {
		if CompareVersions(r.Version, best.Version) > 0 {
			best = r
		}
	}
	return best, true
}
