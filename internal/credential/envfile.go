package credential

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EnvFileName is the overrides file written next to the session directory
// on password change. The surrounding application loads it on startup,
// layered over the base environment.
const EnvFileName = ".env.local"

// WriteEnvFile rewrites KEY=VALUE lines in dir/.env.local, replacing the
// line for key if present and appending it otherwise. The rewrite goes
// through a same-directory temp file; the final rename is the commit point,
// so a concurrent reader sees either the old file or the new one, never a
// partial write.
func WriteEnvFile(dir, key, value string) error {
	path := filepath.Join(dir, EnvFileName)

	var lines []string
	if existing, err := os.ReadFile(path); err == nil {
		lines = strings.Split(strings.TrimRight(string(existing), "\n"), "\n")
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("reading %s: %w", EnvFileName, err)
	}

	prefix := key + "="
	replaced := false
	for i, line := range lines {
		if strings.HasPrefix(line, prefix) {
			lines[i] = prefix + value
			replaced = true
		}
	}
	if !replaced {
		lines = append(lines, prefix+value)
	}

	tmp, err := os.CreateTemp(dir, EnvFileName+".tmp-")
	if err != nil {
		return fmt.Errorf("creating temp env file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(strings.Join(lines, "\n") + "\n"); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing temp env file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp env file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("setting env file mode: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("committing env file: %w", err)
	}
	return nil
}
