package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// DefaultDotEnvFile is the dotenv file read next to the config file.
const DefaultDotEnvFile = ".env"

// LoadDotEnv reads the dotenv file at path and returns its key/value pairs.
// A missing file yields an empty map.
func LoadDotEnv(path string) (map[string]string, error) {
	env, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("cannot read dotenv file %s: %w", path, err)
	}
	return env, nil
}

// ApplyDotEnv exports the entries of the dotenv file at path into the process
// environment. Variables that are already set are left untouched, so
// CUDA_VISIBLE_DEVICES from the shell wins over the file.
func ApplyDotEnv(path string) error {
	env, err := LoadDotEnv(path)
	if err != nil {
		return err
	}
	for k, v := range env {
		if _, ok := os.LookupEnv(k); ok {
			continue
		}
		if err := os.Setenv(k, v); err != nil {
			return fmt.Errorf("cannot set %s: %w", k, err)
		}
	}
	return nil
}

// GetConfigValue returns the effective value for key, using process environment
// variables first and falling back to the dotenv file at path.
func GetConfigValue(key, path string) (string, error) {
	if v := os.Getenv(key); v != "" {
		return v, nil
	}
	env, err := LoadDotEnv(path)
	if err != nil {
		return "", err
	}
	return env[key], nil
}
