package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// LoadFromEnv loads path into the process environment when the file exists,
// then reads the configuration. Variables already set take precedence.
func LoadFromEnv(path string) (Config, error) {
	if err := loadDotEnv(path); err != nil {
		return Config{}, err
	}
	return Load(FromEnviron())
}

func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}
