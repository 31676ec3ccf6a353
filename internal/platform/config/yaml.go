package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// LoadYAMLOverlay decodes a YAML file at path into dst. A missing file is not
// an error: callers treat the overlay as optional, falling back entirely to
// environment variables and explicit struct fields.
func LoadYAMLOverlay(path string, dst any) error {
	if path == "" {
		return nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(raw, dst)
}
