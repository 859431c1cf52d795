package cache

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Lexterl33t/KCLVM/internal/lockfile"
)

// Info maps root-relative source paths to their fingerprints.
type Info map[string]string

// ReadInfo returns the info record of the namespace. A missing or corrupt
// record reads as empty; the next write replaces it.
func (s *Store) ReadInfo() Info {
	data, err := os.ReadFile(s.InfoPath())
	if err != nil {
		return Info{}
	}
	return parseInfo(data)
}

func parseInfo(data []byte) Info {
	info := Info{}
	if err := yaml.Unmarshal(data, &info); err != nil || info == nil {
		return Info{}
	}
	return info
}

// recordFingerprint merges one entry into the info record under its lock.
func (s *Store) recordFingerprint(key, digest string) error {
	return lockfile.Update(s.InfoPath(), func(current []byte, exists bool) ([]byte, error) {
		info := Info{}
		if exists {
			info = parseInfo(current)
		}
		info[key] = digest
		return yaml.Marshal(info)
	})
}
