// Package pattern implements the include/exclude globs used when resolving a
// source tree.
//
// A pattern is matched against the forward-slash path of a candidate relative
// to the tree root, never against the absolute path, so the same filter works
// for a local root and a remote root. Patterns without a slash are also
// matched against the base name.
//
//	*       any sequence of characters, including /
//	?       any single character
//	[seq]   any character in seq, [!seq] negates
//	**      when present, the whole pattern uses doublestar segment semantics
package pattern

import (
	"path"
	"regexp"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"gitlab.com/tozd/go/errors"
)

// MatchAll is the default include pattern.
const MatchAll = "*"

var compiled sync.Map // pattern -> *regexp.Regexp

// Match reports whether rel, a root-relative path, matches pattern.
func Match(pattern, rel string) (bool, error) {
	rel = strings.TrimPrefix(rel, "/")
	candidates := []string{rel}
	if !strings.Contains(pattern, "/") && strings.Contains(rel, "/") {
		candidates = append(candidates, path.Base(rel))
	}

	if strings.Contains(pattern, "**") {
		if !doublestar.ValidatePattern(pattern) {
			return false, errors.Errorf("invalid pattern %q", pattern)
		}
		for _, c := range candidates {
			if ok, _ := doublestar.Match(pattern, c); ok {
				return true, nil
			}
		}
		return false, nil
	}

	re, err := compile(pattern)
	if err != nil {
		return false, err
	}
	for _, c := range candidates {
		if re.MatchString(c) {
			return true, nil
		}
	}
	return false, nil
}

func compile(pattern string) (*regexp.Regexp, error) {
	if re, ok := compiled.Load(pattern); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(Translate(pattern))
	if err != nil {
		return nil, errors.Errorf("compiling pattern %q: %w", pattern, err)
	}
	compiled.Store(pattern, re)
	return re, nil
}

// Translate converts a glob into an anchored regular expression.
func Translate(pattern string) string {
	var b strings.Builder
	b.WriteString("(?s)^")

	for i := 0; i < len(pattern); i++ {
		switch c := pattern[i]; c {
		case '*':
			for i+1 < len(pattern) && pattern[i+1] == '*' {
				i++
			}
			b.WriteString(".*")
		case '?':
			b.WriteByte('.')
		case '[':
			end := classEnd(pattern, i+1)
			if end < 0 {
				b.WriteString(`\[`)
				continue
			}
			b.WriteString(charClass(pattern[i+1 : end]))
			i = end
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}

	b.WriteByte('$')
	return b.String()
}

// classEnd returns the index of the ] closing a class opened just before
// start, or -1 when the class is unterminated.
func classEnd(pattern string, start int) int {
	j := start
	if j < len(pattern) && pattern[j] == '!' {
		j++
	}
	if j < len(pattern) && pattern[j] == ']' {
		j++
	}
	for j < len(pattern) && pattern[j] != ']' {
		j++
	}
	if j >= len(pattern) {
		return -1
	}
	return j
}

func charClass(body string) string {
	var b strings.Builder
	b.WriteByte('[')
	if body[0] == '!' {
		b.WriteByte('^')
		body = body[1:]
	}
	for i := 0; i < len(body); i++ {
		if body[i] == '\\' || body[i] == ']' || body[i] == '[' {
			b.WriteByte('\\')
		}
		b.WriteByte(body[i])
	}
	b.WriteByte(']')
	return b.String()
}

// Filter decides which resolved paths take part in a transfer. Exclude always
// wins over include.
type Filter struct {
	include  string
	excludes []string
}

// NewFilter validates every pattern up front so a bad glob fails before any
// I/O. An empty include means MatchAll.
func NewFilter(include string, excludes []string) (*Filter, error) {
	if include == "" {
		include = MatchAll
	}
	for _, p := range append([]string{include}, excludes...) {
		if _, err := Match(p, ""); err != nil {
			return nil, err
		}
	}
	return &Filter{include: include, excludes: excludes}, nil
}

// File reports whether a file at rel is transferred.
func (f *Filter) File(rel string) bool {
	if f.excluded(rel) {
		return false
	}
	ok, _ := Match(f.include, rel)
	return ok
}

// Dir reports whether a directory at rel is kept. Include patterns only
// select files; an excluded directory prunes everything beneath it.
func (f *Filter) Dir(rel string) bool {
	return !f.excluded(rel)
}

// excluded checks rel and each of its ancestors, so a flat remote listing
// prunes the same subtrees as a local walk.
func (f *Filter) excluded(rel string) bool {
	rel = strings.Trim(rel, "/")
	for {
		for _, p := range f.excludes {
			if ok, _ := Match(p, rel); ok {
				return true
			}
		}
		i := strings.LastIndexByte(rel, '/')
		if i < 0 {
			return false
		}
		rel = rel[:i]
	}
}
