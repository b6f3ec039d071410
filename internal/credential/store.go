package credential

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/zalando/go-keyring"
)

// ErrNotFound is returned when a credential field is not stored.
var ErrNotFound = errors.New("credential not found")

// IsNotFound reports whether err means the field is absent.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// Store looks up credential field values by credential name.
type Store interface {
	Lookup(name, field string) (string, error)
}

// MemoryStore keys values as "<name>.<field>".
type MemoryStore map[string]string

func (m MemoryStore) Lookup(name, field string) (string, error) {
	v, ok := m[name+"."+field]
	if !ok {
		return "", fmt.Errorf("%s.%s: %w", name, field, ErrNotFound)
	}
	return v, nil
}

// LoadFileStore reads a .env-style secrets file where each key is
// "<credential>.<field>", e.g. "pipelex.apiKey=sk-123".
func LoadFileStore(path string) (MemoryStore, error) {
	secrets, err := LoadSecrets(path)
	if err != nil {
		return nil, err
	}
	return MemoryStore(secrets), nil
}

// Save merges every field of values for the credential called name into m.
func (m MemoryStore) Save(name string, values map[string]string) error {
	for field, v := range values {
		m[name+"."+field] = v
	}
	return nil
}

// WriteFileStore writes m to path in the format LoadFileStore reads,
// keys sorted, readable by the owner only.
func WriteFileStore(path string, m MemoryStore) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		if strings.ContainsAny(m[k], "\r\n") {
			return fmt.Errorf("secrets file: value of %s spans multiple lines", k)
		}
		fmt.Fprintf(&b, "%s=%s\n", k, m[k])
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o600); err != nil {
		return fmt.Errorf("writing secrets file: %w", err)
	}
	return nil
}

// LoadSecrets reads a .env-style secrets file (KEY=VALUE per line).
// Lines starting with # are comments. Empty lines are skipped.
func LoadSecrets(path string) (map[string]string, error) {
	secrets := make(map[string]string)

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening secrets file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("secrets file line %d: invalid format (expected KEY=VALUE)", lineNum)
		}

		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		// Strip surrounding quotes.
		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}

		secrets[key] = value
	}

	return secrets, scanner.Err()
}

// KeyringStore keeps credential fields in the OS keyring under Service.
type KeyringStore struct {
	Service string
}

func (k KeyringStore) Lookup(name, field string) (string, error) {
	v, err := keyring.Get(k.Service, name+"."+field)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", fmt.Errorf("%s.%s: %w", name, field, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("keyring: %w", err)
	}
	return v, nil
}

// Save stores every field of values for the credential called name.
func (k KeyringStore) Save(name string, values map[string]string) error {
	for field, v := range values {
		if err := keyring.Set(k.Service, name+"."+field, v); err != nil {
			return fmt.Errorf("keyring: storing %s.%s: %w", name, field, err)
		}
	}
	return nil
}

// Delete removes the given fields of the credential called name.
func (k KeyringStore) Delete(name string, fields []string) error {
	for _, field := range fields {
		err := keyring.Delete(k.Service, name+"."+field)
		if err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("keyring: deleting %s.%s: %w", name, field, err)
		}
	}
	return nil
}
