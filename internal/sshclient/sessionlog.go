package sshclient

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
)

// SessionLogPath returns the transcript path of a host key inside dir. Keys
// containing characters unsafe in file names get a hash of the original key
// appended, so distinct keys never share a file.
func SessionLogPath(dir, key string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, key)
	if name != key {
		h := fnv.New32a()
		h.Write([]byte(key))
		name = fmt.Sprintf("%s_%08x", name, h.Sum32())
	}
	return filepath.Join(dir, name+".log")
}

// OpenSessionLog creates (truncating) the transcript file of a host.
func OpenSessionLog(dir, key string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create session log directory: %w", err)
	}
	f, err := os.OpenFile(SessionLogPath(dir, key), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open session log: %w", err)
	}
	return f, nil
}
