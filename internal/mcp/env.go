package mcp

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// awsPassthrough is the fixed allow-list of provider credential/region
// variables forwarded from the parent environment when already set there.
var awsPassthrough = []string{
	"AWS_PROFILE",
	"AWS_REGION",
	"AWS_DEFAULT_REGION",
	"AWS_ACCESS_KEY_ID",
	"AWS_SECRET_ACCESS_KEY",
	"AWS_SESSION_TOKEN",
}

// BuildEnv computes the environment for a tool-server subprocess: the
// parent environment plus explicit per-server overrides, credential file
// locations when ~/.aws exists, and a default region when none is set.
// Overrides win over everything; inherited credential variables are never
// replaced otherwise.
func BuildEnv(overrides map[string]string, region, profile string) []string {
	awsDir := ""
	if home, err := os.UserHomeDir(); err == nil {
		dir := filepath.Join(home, ".aws")
		if _, err := os.Stat(dir); err == nil {
			awsDir = dir
		}
	}
	return buildEnv(os.Environ(), overrides, region, profile, awsDir)
}

func buildEnv(base []string, overrides map[string]string, region, profile string, awsDir string) []string {
	env := make(map[string]string, len(base)+len(overrides)+4)
	for _, kv := range base {
		if i := strings.IndexByte(kv, '='); i > 0 {
			env[kv[:i]] = kv[i+1:]
		}
	}

	if awsDir != "" {
		env["AWS_CONFIG_FILE"] = filepath.Join(awsDir, "config")
		env["AWS_SHARED_CREDENTIALS_FILE"] = filepath.Join(awsDir, "credentials")
	}

	if profile != "" && env["AWS_PROFILE"] == "" {
		env["AWS_PROFILE"] = profile
	}

	for k, v := range overrides {
		if v == "" {
			continue
		}
		env[k] = v
	}

	if env["AWS_REGION"] == "" && env["AWS_DEFAULT_REGION"] == "" {
		if region == "" {
			region = "ca-central-1"
		}
		env["AWS_DEFAULT_REGION"] = region
	}

	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
