package initializers

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// LoadEnv loads variables from the given .env files (".env" when none are
// given). A missing default file is not an error; config falls back to the
// process environment.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		if _, err := os.Stat(".env"); os.IsNotExist(err) {
			return nil
		}
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("env not loading: %w", err)
	}
	return nil
}
