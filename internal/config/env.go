package config

import (
	"fmt"
	"os"

	"github.com/subosito/gotenv"
)

// DefaultEnvFile is loaded from the working directory when no env file is
// given explicitly.
const DefaultEnvFile = ".env"

// LoadEnvFile loads variables from path without overriding ones already
// set. An empty path loads DefaultEnvFile if it exists. It returns the file
// that was loaded, or "" when none was.
func LoadEnvFile(path string) (string, error) {
	if path == "" {
		if _, err := os.Stat(DefaultEnvFile); err != nil {
			return "", nil
		}
		path = DefaultEnvFile
	}
	if err := gotenv.Load(path); err != nil {
		return "", fmt.Errorf("loading env file %s: %w", path, err)
	}
	return path, nil
}

// CredentialVars are the environment variables reported before a run.
var CredentialVars = []string{
	"AWS_ACCESS_KEY_ID",
	"AWS_SECRET_ACCESS_KEY",
	"AWS_SESSION_TOKEN",
	"AWS_REGION",
	"AWS_DEFAULT_REGION",
}

// secretVars are masked on display.
var secretVars = map[string]bool{
	"AWS_ACCESS_KEY_ID":     true,
	"AWS_SECRET_ACCESS_KEY": true,
	"AWS_SESSION_TOKEN":     true,
}

// EnvVar is a named environment value ready for display.
type EnvVar struct {
	Name  string
	Value string
}

// CredentialEnv returns CredentialVars with their current values, secrets
// masked. Unset variables have an empty value.
func CredentialEnv(getenv func(string) string) []EnvVar {
	out := make([]EnvVar, 0, len(CredentialVars))
	for _, name := range CredentialVars {
		val := getenv(name)
		if secretVars[name] {
			val = Mask(val)
		}
		out = append(out, EnvVar{Name: name, Value: val})
	}
	return out
}

// Mask keeps the first two and last two characters of val. Values of four
// characters or fewer are returned unchanged.
func Mask(val string) string {
	r := []rune(val)
	if len(r) <= 4 {
		return val
	}
	return string(r[:2]) + "***" + string(r[len(r)-2:])
}
