package config

import (
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

var envOnce sync.Once

// loadEnv reads the .env file at the repository root once. Variables already
// set in the process environment take precedence.
func loadEnv() {
	envOnce.Do(func() {
		envPath := os.Getenv("RECOGNIZER_ENV_FILE")
		if envPath == "" {
			_, filename, _, _ := runtime.Caller(0)
			envPath = filepath.Join(filepath.Dir(filepath.Dir(filename)), ".env")
		}
		if err := godotenv.Load(envPath); err != nil {
			log.Printf("Warning: .env file not found at %s, falling back to environment variables", envPath)
		}
	})
}

func getString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func getInt(key string, def int) int {
	v, err := strconv.Atoi(getString(key, ""))
	if err != nil {
		return def
	}
	return v
}

func getFloat(key string, def float64) float64 {
	v, err := strconv.ParseFloat(getString(key, ""), 64)
	if err != nil {
		return def
	}
	return v
}

func getBool(key string, def bool) bool {
	v, err := strconv.ParseBool(getString(key, ""))
	if err != nil {
		return def
	}
	return v
}

func getDuration(key string, def time.Duration) time.Duration {
	v, err := time.ParseDuration(getString(key, ""))
	if err != nil {
		return def
	}
	return v
}

func getList(key string, def []string) []string {
	raw := getString(key, "")
	if raw == "" {
		return def
	}
	var out []string
	for _, part := range strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == '+' }) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
