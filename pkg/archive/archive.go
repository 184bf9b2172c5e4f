// Package archive recognizes compressed files by name.
package archive

import "strings"

var handlers = []struct {
	suffix  string
	command string
}{
	// Longest suffixes first: ".tar.gz" also ends in ".gz".
	{".tar.gz", "tar -zxf"},
	{".tgz", "tar -zxf"},
	{".gz", "gunzip -f"},
	{".zip", "unzip -o"},
}

// Classify returns the command that decompresses name in its own directory,
// or false if name is not a recognized archive. The command takes the file
// name as its last argument.
func Classify(name string) (string, bool) {
	lower := strings.ToLower(name)
	for _, h := range handlers {
		if strings.HasSuffix(lower, h.suffix) && len(lower) > len(h.suffix) {
			return h.command, true
		}
	}
	return "", false
}
