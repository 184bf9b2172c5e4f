package checksum

import (
	"context"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"gitlab.com/tozd/go/errors"

	"github.com/yuya-takeyama/parallel-sync/pkg/executor"
)

// TreeCommand prints the tree digest of root computed with coreutils.
func TreeCommand(root string) string {
	return "find " + executor.Quote(root) + ` -type f -exec md5sum {} + | awk '{print $1}' | sort | md5sum | awk '{print $1}'`
}

// TreeDigest is the md5 of the sorted per-file md5 digests under root, one
// per line. Two trees with the same file contents have the same digest
// regardless of where they live. When exec is nil the tree is read locally.
func TreeDigest(ctx context.Context, root string, exec *executor.Executor) (string, error) {
	if exec != nil {
		out, err := exec.Run(ctx, TreeCommand(root))
		if err != nil {
			return "", errors.Errorf("tree digest of %s: %w", root, err)
		}
		return parseSum(out.Stdout)
	}

	var sums []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		sum, err := File(p)
		if err != nil {
			return err
		}
		sums = append(sums, sum)
		return nil
	})
	if err != nil {
		return "", errors.Errorf("tree digest of %s: %w", root, err)
	}

	sort.Strings(sums)
	var b strings.Builder
	for _, s := range sums {
		b.WriteString(s)
		b.WriteByte('\n')
	}
	return Reader(strings.NewReader(b.String()))
}
