package archive

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		want   string
		wantOK bool
	}{
		{"data.tar.gz", "tar -zxf", true},
		{"/dst/sub/data.tar.gz", "tar -zxf", true},
		{"data.tgz", "tar -zxf", true},
		{"log.gz", "gunzip -f", true},
		{"LOG.GZ", "gunzip -f", true},
		{"bundle.zip", "unzip -o", true},
		{"notes.txt", "", false},
		{"archive.tar", "", false},
		{"gz", "", false},
		{".gz", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Classify(tt.name)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
