package helper

import (
	"os"
	"strconv"
	"strings"
	"time"
)

func GetEnv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func GetEnvAsInt(key string, fallback int) int {
	value := GetEnv(key, "")
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func GetEnvAsBool(key string, fallback bool) bool {
	value := strings.ToLower(GetEnv(key, ""))
	switch value {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	return fallback
}

// GetEnvAsDuration reads a number of seconds.
func GetEnvAsDuration(key string, fallback time.Duration) time.Duration {
	n := GetEnvAsInt(key, 0)
	if n == 0 {
		return fallback
	}
	return time.Duration(n) * time.Second
}

// GetEnvAsList splits a comma separated value, dropping empty items.
func GetEnvAsList(key string) []string {
	var out []string
	for _, item := range strings.Split(GetEnv(key, ""), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
