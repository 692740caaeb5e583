package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// fileConfig is the shape of the optional YAML config file. Every field
// also has a corresponding CLI flag / environment variable (see flags.go);
// flags win when both are set.
type fileConfig struct {
	ListenAddr string `yaml:"listen_addr"`

	// RequireSignedUpgrade, when true, rejects any /blip upgrade whose
	// request was not signed with SigningKeyHex per RFC 9421 HMAC-SHA256.
	RequireSignedUpgrade bool `yaml:"require_signed_upgrade"`

	// SigningKeyHex is the shared HMAC-SHA256 key, hex-encoded, used to
	// verify signed upgrade requests. Only consulted when
	// RequireSignedUpgrade is true.
	SigningKeyHex string `yaml:"signing_key_hex"`
	SigningKeyID  string `yaml:"signing_key_id"`

	MaxFrameSize   int `yaml:"max_frame_size"`
	CompressLevel  int `yaml:"compress_level"`
	RequestMaxSize int `yaml:"request_max_size"`
}

func loadFileConfig(path string) (fileConfig, error) {
	cfg := fileConfig{}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	return cfg, nil
}
