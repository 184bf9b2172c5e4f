package planner

import (
	"path"
	"sort"
	"strings"
)

const separators = `/\`

// MapDestination computes where sourcePath, found under sourceRoot, lands
// under destRoot. When sourcePath is sourceRoot itself (a single file root)
// the file keeps its own name under destRoot. Source separators may be of
// either style; the result always uses forward slashes.
func MapDestination(sourceRoot, sourcePath, destRoot string) string {
	destRoot = strings.TrimRight(destRoot, "/")

	rel := relative(sourceRoot, sourcePath)
	if rel == "" {
		rel = baseName(sourcePath)
	}
	return destRoot + "/" + strings.ReplaceAll(rel, `\`, "/")
}

// relative returns sourcePath without the sourceRoot prefix and leading
// separators, or "" when sourcePath is not strictly beneath sourceRoot.
func relative(sourceRoot, sourcePath string) string {
	if strings.TrimRight(sourceRoot, separators) == "." {
		// Paths under "." come back from a walk without the "./" prefix.
		rest := strings.TrimPrefix(strings.TrimPrefix(sourcePath, "./"), `.\`)
		if rest == "." {
			return ""
		}
		return strings.TrimLeft(rest, separators)
	}
	if !strings.HasPrefix(sourcePath, sourceRoot) || len(sourcePath) == len(sourceRoot) {
		return ""
	}
	rest := sourcePath[len(sourceRoot):]
	if !strings.ContainsRune(separators, rune(rest[0])) && !strings.HasSuffix(sourceRoot, "/") && !strings.HasSuffix(sourceRoot, `\`) {
		// "/x" is a prefix of "/xy/a" but not its parent.
		return ""
	}
	return strings.TrimLeft(rest, separators)
}

func baseName(p string) string {
	p = strings.TrimRight(p, separators)
	if i := strings.LastIndexAny(p, separators); i >= 0 {
		return p[i+1:]
	}
	return p
}

// Build maps resolved directories and files into a Plan. Directories that
// already have a transferred file beneath them are implied by Plan.Directories
// and do not become units.
func Build(sourceRoot, destRoot string, dirs, files []string) Plan {
	var plan Plan

	covered := make(map[string]struct{})
	parents := make(map[string]struct{})
	seen := make(map[string]struct{})
	for _, f := range files {
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}

		dest := MapDestination(sourceRoot, f, destRoot)
		plan.Units = append(plan.Units, Unit{Source: f, Dest: dest})

		parent := path.Dir(dest)
		parents[parent] = struct{}{}
		markCovered(covered, parent)
	}

	// Deepest first, so an empty leaf makes its empty parents redundant.
	dirs = append([]string(nil), dirs...)
	sort.Slice(dirs, func(i, j int) bool { return len(dirs[i]) > len(dirs[j]) })
	for _, d := range dirs {
		if relative(sourceRoot, d) == "" {
			continue
		}
		dest := MapDestination(sourceRoot, d, destRoot)
		if _, ok := covered[dest]; ok {
			continue
		}
		plan.Units = append(plan.Units, Unit{Source: d, Dest: dest, IsDir: true})
		markCovered(covered, dest)
	}

	sort.Slice(plan.Units, func(i, j int) bool {
		if plan.Units[i].IsDir != plan.Units[j].IsDir {
			return !plan.Units[i].IsDir
		}
		return plan.Units[i].Source < plan.Units[j].Source
	})

	for dir := range parents {
		plan.Directories = append(plan.Directories, dir)
	}
	sort.Strings(plan.Directories)

	return plan
}

// markCovered records dir and all of its ancestors.
func markCovered(covered map[string]struct{}, dir string) {
	for {
		if _, ok := covered[dir]; ok {
			return
		}
		covered[dir] = struct{}{}
		if dir == "/" || dir == "." {
			return
		}
		dir = path.Dir(dir)
	}
}
