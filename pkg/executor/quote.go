package executor

import "strings"

var quoter = strings.NewReplacer(`\`, `\\`, `"`, `\"`, `$`, `\$`, "`", "\\`")

// Quote wraps s in double quotes for a POSIX shell, escaping the characters
// that keep a special meaning inside them.
func Quote(s string) string {
	return `"` + quoter.Replace(s) + `"`
}

// SingleQuote wraps s in single quotes for a POSIX shell. Nothing inside is
// expanded, so it is the form to use for a command handed to another shell.
func SingleQuote(s string) string {
	return `'` + strings.ReplaceAll(s, `'`, `'\''`) + `'`
}
