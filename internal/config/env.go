package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// LoadEnv reads a .env file and sets environment variables.
// Missing files are ignored and variables already present in the
// environment keep their value.
func LoadEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}
