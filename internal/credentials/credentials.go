// Package credentials loads the device login shared by every host of a run.
package credentials

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/ini.v1"
)

// Section is the INI section holding the login.
const Section = "credentials"

// ErrNotFound is returned when the credential file does not exist.
var ErrNotFound = errors.New("credential file not found")

// Credentials is the username/password pair used for devices and jump hosts.
type Credentials struct {
	Username string `ini:"username" validate:"required,min=1"`
	Password string `ini:"password" validate:"required,min=1"`
}

// String hides the password.
func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{Username: %q, Password: <redacted>}", c.Username)
}

// Load reads the [credentials] section of an INI file. IFSTATS_USERNAME and
// IFSTATS_PASSWORD override the file values.
func Load(path string) (Credentials, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Credentials{}, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return Credentials{}, fmt.Errorf("failed to stat credential file: %w", err)
	}

	file, err := ini.Load(path)
	if err != nil {
		return Credentials{}, fmt.Errorf("failed to parse credential file %s: %w", path, err)
	}

	section, err := file.GetSection(Section)
	if err != nil {
		return Credentials{}, fmt.Errorf("credential file %s has no [%s] section", path, Section)
	}

	var creds Credentials
	for _, key := range []string{"username", "password"} {
		if !section.HasKey(key) {
			return Credentials{}, fmt.Errorf("credential file %s: [%s] is missing %q", path, Section, key)
		}
	}
	if err := section.MapTo(&creds); err != nil {
		return Credentials{}, fmt.Errorf("failed to map [%s]: %w", Section, err)
	}

	if v := os.Getenv("IFSTATS_USERNAME"); v != "" {
		creds.Username = v
	}
	if v := os.Getenv("IFSTATS_PASSWORD"); v != "" {
		creds.Password = v
	}

	if err := creds.Validate(); err != nil {
		return Credentials{}, err
	}
	return creds, nil
}
