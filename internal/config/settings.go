package config

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

const (
	KeyOpenRouterAPIKey     = "OPENROUTER_API_KEY"
	KeyGoogleSearchAPIKey   = "GOOGLE_SEARCH_API_KEY"
	KeyGoogleSearchEngineID = "GOOGLE_SEARCH_ENGINE_ID"
)

// SettingKeys lists the secrets managed at runtime through the settings endpoint.
var SettingKeys = []string{KeyOpenRouterAPIKey, KeyGoogleSearchAPIKey, KeyGoogleSearchEngineID}

var ErrInvalidSetting = errors.New("invalid setting")

// Settings is the mutable runtime configuration. Readers call Get on every use
// so that values saved through Set are picked up without a restart.
type Settings interface {
	Get(key string) string
	Set(key, value string) error
	Persist() error
}

// EnvFileSettings keeps settings in memory and writes them back to a dotenv file.
type EnvFileSettings struct {
	path string

	mu     sync.RWMutex
	values map[string]string
	dirty  map[string]struct{}
}

// LoadEnvFileSettings seeds the managed keys from the process environment and
// then overlays path (a missing file is fine), so values saved through Persist
// win over the environment after a restart.
func LoadEnvFileSettings(path string) (*EnvFileSettings, error) {
	s := &EnvFileSettings{
		path:   path,
		values: make(map[string]string),
		dirty:  make(map[string]struct{}),
	}

	for _, key := range SettingKeys {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			s.values[key] = value
		}
	}

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		for key, value := range parseEnvLines(raw) {
			if strings.TrimSpace(value) == "" {
				continue
			}
			s.values[key] = value
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("read env file: %w", err)
	}
	return s, nil
}

func (s *EnvFileSettings) Get(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values[key]
}

func (s *EnvFileSettings) Set(key, value string) error {
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)
	if key == "" || strings.ContainsAny(key, "=\n\r ") {
		return fmt.Errorf("%w: bad key %q", ErrInvalidSetting, key)
	}
	if strings.ContainsAny(value, "\n\r") {
		return fmt.Errorf("%w: value for %s contains a newline", ErrInvalidSetting, key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	s.dirty[key] = struct{}{}
	return nil
}

// Persist rewrites changed keys in place and appends new ones, leaving every
// other line of the file untouched.
func (s *EnvFileSettings) Persist() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.dirty) == 0 {
		return nil
	}

	existing, err := os.ReadFile(s.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("read env file: %w", err)
	}

	lines := splitLines(existing)
	written := make(map[string]struct{}, len(s.dirty))
	for i, line := range lines {
		key, _, ok := parseEnvLine(line)
		if !ok {
			continue
		}
		if _, changed := s.dirty[key]; changed {
			lines[i] = key + "=" + s.values[key]
			written[key] = struct{}{}
		}
	}
	for _, key := range sortedKeys(s.dirty) {
		if _, done := written[key]; done {
			continue
		}
		lines = append(lines, key+"="+s.values[key])
	}

	content := strings.Join(lines, "\n") + "\n"
	if err := writeFileAtomic(s.path, []byte(content), 0o600); err != nil {
		return fmt.Errorf("write env file: %w", err)
	}
	s.dirty = make(map[string]struct{})
	return nil
}

func parseEnvLines(raw []byte) map[string]string {
	out := make(map[string]string)
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	for scanner.Scan() {
		if key, value, ok := parseEnvLine(scanner.Text()); ok {
			out[key] = value
		}
	}
	return out
}

func parseEnvLine(line string) (key, value string, ok bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return "", "", false
	}
	trimmed = strings.TrimPrefix(trimmed, "export ")
	key, value, found := strings.Cut(trimmed, "=")
	if !found {
		return "", "", false
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", "", false
	}
	value = strings.TrimSpace(value)
	if len(value) >= 2 && (value[0] == '"' || value[0] == '\'') && value[len(value)-1] == value[0] {
		value = value[1 : len(value)-1]
	}
	return key, value, true
}

func splitLines(raw []byte) []string {
	text := strings.TrimRight(strings.ReplaceAll(string(raw), "\r\n", "\n"), "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for _, key := range SettingKeys {
		if _, ok := set[key]; ok {
			out = append(out, key)
		}
	}
	extra := make([]string, 0)
	for key := range set {
		if !isManagedKey(key) {
			extra = append(extra, key)
		}
	}
	sort.Strings(extra)
	return append(out, extra...)
}

func isManagedKey(key string) bool {
	for _, managed := range SettingKeys {
		if managed == key {
			return true
		}
	}
	return false
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".env-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
