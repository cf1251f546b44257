package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// AuthUser is one entry of the --auth-config user table on disk.
type AuthUser struct {
	Username   string `yaml:"username"`
	APIKeyHash string `yaml:"api_key_hash"` // hex-encoded SHA-256 of the api_key
}

// AuthTable is the top-level shape of the --auth-config YAML file.
type AuthTable struct {
	Users []AuthUser `yaml:"users"`
}

// LoadAuthTable parses the user table at path into username -> hash pairs
// ready for auth.Authenticator.LoadUsers.
func LoadAuthTable(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var table AuthTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(table.Users))
	for _, u := range table.Users {
		out[u.Username] = u.APIKeyHash
	}
	return out, nil
}
