package cuebridge

import (
	"log/slog"
	"os"
	"strconv"
)

// FillEnvVar returns the value of a runtime Environment Variable
func FillEnvVar(ev string) string {
	// If the EnvVar doesn't exist return a default string
	value := os.Getenv(ev)
	if value == "" {
		value = "ENOENT"
	}
	return value
}

// FillEnvVarInt returns an integer Environment Variable or /d/ when unset or unreadable
func FillEnvVarInt(ev string, d int) int {
	value := os.Getenv(ev)
	if value == "" {
		return d
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		slog.Warn("Environment variable is not an integer, using default",
			slog.String("var", ev),
			slog.String("value", value),
			slog.Int("default", d))
		return d
	}
	return i
}

// UrlCat is variadic, concatenating any set of strings into a URL.
// It can be used to embed a dynamic string alongside static parts of a URI.
// /u/ is a slice of strings used to build completeURL
func UrlCat(u ...string) string {
	var completeURL string
	for _, p := range u {
		completeURL = completeURL + p
	}
	slog.Debug("New endpoint", slog.String("URL", completeURL))
	return completeURL
}
