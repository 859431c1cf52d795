package config

import (
	"gopkg.in/yaml.v3"

	"github.com/Lexterl33t/KCLVM/internal/lockfile"
)

// Marshal renders c as the YAML accepted by Load.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// WriteFile atomically writes c to path.
func (c *Config) WriteFile(path string) error {
	data, err := c.Marshal()
	if err != nil {
		return err
	}
	return lockfile.WriteAtomic(path, data)
}
