// Package envutil builds the environment for spawned backend processes.
package envutil

import (
	"context"
	"os"
	"os/exec"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	skipPathPatchEnv = "TOOLGATE_SKIP_PATH_PATCH"
	termEnv          = "TERM"
	shellEnv         = "SHELL"
	pathEnv          = "PATH"
)

// Merge overlays the configured per-backend variables on a base environment.
// A configured variable replaces every existing entry with the same name, so
// the child sees exactly one value. Overrides are applied in sorted order for
// a deterministic result.
func Merge(base []string, overrides map[string]string) []string {
	out := append([]string(nil), base...)
	keys := make([]string, 0, len(overrides))
	for key := range overrides {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		out = Set(out, key, overrides[key])
	}
	return out
}

// Value returns the effective value of key in env (last entry wins, matching
// what the OS gives the child process).
func Value(env []string, key string) string {
	if key == "" {
		return ""
	}
	prefix := key + "="
	var value string
	for _, entry := range env {
		if strings.HasPrefix(entry, prefix) {
			value = strings.TrimPrefix(entry, prefix)
		}
	}
	return value
}

// Set replaces every entry for key with a single key=value entry.
func Set(env []string, key, value string) []string {
	if key == "" {
		return env
	}
	prefix := key + "="
	out := make([]string, 0, len(env)+1)
	for _, entry := range env {
		if strings.HasPrefix(entry, prefix) {
			continue
		}
		out = append(out, entry)
	}
	return append(out, prefix+value)
}

type pathCacheEntry struct {
	path string
	err  error
}

var loginPathCache sync.Map

// PatchPATHIfNeeded widens PATH with the user's login-shell PATH on macOS.
// Backends configured as bare command names (node, uvx, npx) are otherwise
// unresolvable when the gateway itself was launched outside a login shell.
func PatchPATHIfNeeded(env []string) []string {
	if runtime.GOOS != "darwin" {
		return env
	}
	if strings.TrimSpace(Value(env, skipPathPatchEnv)) != "" {
		return env
	}
	// A TERM means we inherited a shell session; PATH is already right.
	if strings.TrimSpace(Value(env, termEnv)) != "" {
		return env
	}
	shellPath := strings.TrimSpace(Value(env, shellEnv))
	if shellPath == "" {
		shellPath = "/bin/zsh"
	}
	loginPath, err := loginShellPATH(shellPath)
	if err != nil || strings.TrimSpace(loginPath) == "" {
		return env
	}
	currentPath := Value(env, pathEnv)
	merged := mergePATH(loginPath, currentPath)
	if merged == "" || merged == currentPath {
		return env
	}
	return Set(env, pathEnv, merged)
}

func loginShellPATH(shellPath string) (string, error) {
	if cached, ok := loginPathCache.Load(shellPath); ok {
		entry := cached.(pathCacheEntry)
		return entry.path, entry.err
	}
	path, err := resolveLoginShellPATH(shellPath)
	loginPathCache.Store(shellPath, pathCacheEntry{path: path, err: err})
	return path, err
}

func resolveLoginShellPATH(shellPath string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, shellPath, "-lc", "echo $PATH")
	cmd.Env = append(os.Environ(), "LANG=C", "LC_ALL=C")
	output, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(output)), nil
}

func mergePATH(primary, fallback string) string {
	separator := string(os.PathListSeparator)
	seen := map[string]struct{}{}
	out := make([]string, 0, 8)

	appendPath := func(path string) {
		for _, entry := range strings.Split(path, separator) {
			entry = strings.TrimSpace(entry)
			if entry == "" {
				continue
			}
			if _, exists := seen[entry]; exists {
				continue
			}
			seen[entry] = struct{}{}
			out = append(out, entry)
		}
	}

	appendPath(primary)
	appendPath(fallback)

	return strings.Join(out, separator)
}
