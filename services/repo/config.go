package repo

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// StoreInfo carries the store-front metadata stamped onto the manifest
// seed: everything an installer client shows about the repository itself.
type StoreInfo struct {
	Name        string `yaml:"name"`
	Identifier  string `yaml:"identifier"`
	Subtitle    string `yaml:"subtitle"`
	Description string `yaml:"description"`
	IconURL     string `yaml:"icon_url"`
	HeaderURL   string `yaml:"header_url"`
	Website     string `yaml:"website"`
	TintColor   string `yaml:"tint_color"`
}

// LoadStoreInfo reads store-front metadata from a YAML file.
func LoadStoreInfo(path string) (StoreInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return StoreInfo{}, fmt.Errorf("read store config: %w", err)
	}

	var info StoreInfo
	if err := yaml.Unmarshal(data, &info); err != nil {
		return StoreInfo{}, fmt.Errorf("parse store config: %w", err)
	}

	if strings.TrimSpace(info.Name) == "" {
		return StoreInfo{}, fmt.Errorf("store config %s: name is required", path)
	}
	if strings.TrimSpace(info.Identifier) == "" {
		return StoreInfo{}, fmt.Errorf("store config %s: identifier is required", path)
	}
	return info, nil
}
