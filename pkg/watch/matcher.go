package watch

import "github.com/effigy/effigy/pkg/utils"

// skipDirNames short-circuits the recursive fsnotify.Add walk: directories
// named here are never descended into, regardless of --include/--exclude,
// since they are either VCS metadata or routinely enormous.
var skipDirNames = map[string]bool{
	".git":         true,
	"node_modules": true,
	"target":       true,
}

// Matcher decides whether a changed path is relevant to a watch: excluded
// paths never match, even if also named by include; an empty include list
// matches everything not excluded.
type Matcher struct {
	include *utils.PatternMatcher
	exclude *utils.ExclusionMatcher
}

// NewMatcher builds a Matcher from --include/--exclude glob lists, always
// layering utils.GetDefaultExclusions underneath the caller's excludes so a
// watch never churns on VCS metadata or build output the caller forgot to
// exclude explicitly.
func NewMatcher(include, exclude []string) (*Matcher, error) {
	var inc *utils.PatternMatcher
	if len(include) > 0 {
		normalized := make([]string, len(include))
		for i, pattern := range include {
			normalized[i] = utils.NormalizePattern(pattern)
		}
		m, err := utils.NewPatternMatcher(normalized)
		if err != nil {
			return nil, err
		}
		inc = m
	}

	normalizedExclude := make([]string, len(exclude))
	for i, pattern := range exclude {
		normalizedExclude[i] = utils.NormalizePattern(pattern)
	}

	excl, err := utils.NewExclusionMatcher(append(utils.GetDefaultExclusions(), normalizedExclude...))
	if err != nil {
		return nil, err
	}

	return &Matcher{include: inc, exclude: excl}, nil
}

// Matches reports whether path should be treated as a watch-relevant
// change.
func (m *Matcher) Matches(path string) bool {
	if m.exclude.IsExcluded(path) {
		return false
	}
	if m.include == nil {
		return true
	}
	return m.include.Match(path)
}
