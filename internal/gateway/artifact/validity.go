package artifact

import (
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// IsValidModelDir reports whether dir holds a complete model artifact:
// config.json plus either single-file weights, a shard index, or a set of
// shard files. Anything less is treated as absent.
func IsValidModelDir(fs afero.Fs, dir string) bool {
	if ok, err := afero.DirExists(fs, dir); err != nil || !ok {
		return false
	}
	if ok, err := afero.Exists(fs, filepath.Join(dir, "config.json")); err != nil || !ok {
		return false
	}

	// Single-file weights.
	for _, name := range []string{"pytorch_model.bin", "model.safetensors"} {
		if ok, _ := afero.Exists(fs, filepath.Join(dir, name)); ok {
			return true
		}
	}

	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return false
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasSuffix(name, ".index.json") {
			return true
		}
		if isShardFile(name) {
			return true
		}
	}
	return false
}

func isShardFile(name string) bool {
	switch {
	case strings.HasPrefix(name, "model-") && strings.HasSuffix(name, ".safetensors"):
		return true
	case strings.HasPrefix(name, "pytorch_model-") && strings.HasSuffix(name, ".bin"):
		return true
	}
	return false
}
