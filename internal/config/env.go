package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// EnvToken overrides telegram.token when set.
const EnvToken = "BIRTHDAYBOT_TOKEN"

// LoadDotEnv reads KEY=VALUE pairs from the given files (".env" when none)
// into the process environment. Existing variables win and missing files
// are ignored.
func LoadDotEnv(files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		_ = godotenv.Load(f)
	}
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvToken)); v != "" {
		cfg.Telegram.Token = v
	}
}
