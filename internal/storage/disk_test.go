package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiskUsageBytes(t *testing.T) {
	dir := t.TempDir()
	f1 := filepath.Join(dir, "f1.txt")
	require.NoError(t, os.WriteFile(f1, []byte("hello"), 0644))
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.MkdirAll(filepath.Join(sub, "deeper"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "a"), []byte("ab"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "deeper", "b"), []byte("c"), 0644))

	tests := []struct {
		name  string
		paths []string
		want  int64
	}{
		{"single file", []string{f1}, 5},
		{"nested directory", []string{sub}, 3},
		{"file and directory", []string{f1, sub}, 8},
		{"missing path", []string{filepath.Join(dir, "missing")}, 0},
		{"empty path", []string{""}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DiskUsageBytes(tt.paths...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
