package config

import (
	"bufio"
	"errors"
	"os"
	"strings"
)

// LoadDotEnv reads .env-style files into the process environment. Variables
// already set in the environment keep precedence; missing files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		trimmed := strings.TrimSpace(path)
		if trimmed == "" {
			continue
		}
		if err := applyDotEnvFile(trimmed); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}

func applyDotEnvFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		key, value, ok := parseDotEnvLine(scanner.Text())
		if !ok {
			continue
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		_ = os.Setenv(key, value)
	}
	return scanner.Err()
}

func parseDotEnvLine(raw string) (key, value string, ok bool) {
	line := strings.TrimSpace(raw)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}
	line = strings.TrimPrefix(line, "export ")

	key, value, found := strings.Cut(line, "=")
	key = strings.TrimSpace(key)
	if !found || key == "" {
		return "", "", false
	}
	return key, unquoteEnvValue(value), true
}

func unquoteEnvValue(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if len(trimmed) >= 2 {
		quote := trimmed[0]
		if (quote == '"' || quote == '\'') && trimmed[len(trimmed)-1] == quote {
			inner := trimmed[1 : len(trimmed)-1]
			if quote == '"' {
				return strings.NewReplacer(
					`\\`, `\`,
					`\n`, "\n",
					`\t`, "\t",
					`\"`, `"`,
				).Replace(inner)
			}
			return inner
		}
	}

	// Unquoted values may carry a trailing inline comment.
	if index := strings.Index(trimmed, " #"); index >= 0 {
		trimmed = strings.TrimSpace(trimmed[:index])
	}
	return trimmed
}
