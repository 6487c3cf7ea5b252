package store

import (
	"fmt"
	"regexp"
	"strings"
)

// Wildcard matches zero or more characters of a mailbox name in a
// FindWithPathLike pattern.
const Wildcard = '%'

// PathPattern matches mailbox paths against a pattern whose name may
// contain Wildcard. Matching never crosses namespace or user.
type PathPattern struct {
	owner Path
	re    *regexp.Regexp
}

// NewPathPattern compiles the pattern path. It fails with ErrInvalidPattern
// when the name is not valid UTF-8.
func NewPathPattern(pattern Path) (*PathPattern, error) {
	re, err := regexp.Compile(namePattern(pattern.Name))
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidPattern, pattern.Name, err)
	}
	return &PathPattern{owner: pattern, re: re}, nil
}

// namePattern builds an anchored expression: literal runs are quoted and
// every wildcard becomes ".*". Names may contain newlines, so "." must
// match them too.
func namePattern(name string) string {
	var b strings.Builder
	b.WriteString("(?s)^")
	for _, token := range tokenize(name) {
		if token == string(Wildcard) {
			b.WriteString(".*")
			continue
		}
		b.WriteString(regexp.QuoteMeta(token))
	}
	b.WriteString("$")
	return b.String()
}

// tokenize splits name on Wildcard, keeping each wildcard as its own token.
func tokenize(name string) []string {
	var tokens []string
	start := 0
	for i, r := range name {
		if r != Wildcard {
			continue
		}
		if i > start {
			tokens = append(tokens, name[start:i])
		}
		tokens = append(tokens, string(Wildcard))
		start = i + 1
	}
	if start < len(name) {
		tokens = append(tokens, name[start:])
	}
	return tokens
}

// Filter returns the owner filter the pattern is confined to.
func (p *PathPattern) Filter() *PathFilter {
	return p.owner.Owner()
}

// Match reports whether path has the pattern's owner and its name fully
// matches the pattern.
func (p *PathPattern) Match(path Path) bool {
	return path.SameOwner(p.owner) && p.re.MatchString(path.Name)
}

func (p *PathPattern) String() string {
	return p.re.String()
}
