// Package vault stores account secrets in a mode-0600 JSON file. Secrets
// are keyed by account email; a legacy single-slot entry from older
// installations is read as a fallback but never written going forward.
package vault

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

type fileData struct {
	Accounts map[string]string `json:"accounts"`
	// Legacy single-slot secret from before multi-account support.
	Legacy string `json:"secret,omitempty"`
}

// Vault is a file-backed credential store.
type Vault struct {
	path string
	mu   sync.Mutex
}

// Open creates a vault over the given file path.
func Open(path string) *Vault {
	return &Vault{path: path}
}

// Has reports whether a secret exists for the account, counting the legacy
// slot.
func (v *Vault) Has(account string) bool {
	_, ok := v.Get(account)
	return ok
}

// Get returns the secret for the account. Falls back to the legacy
// single-slot entry when the account has no dedicated secret.
func (v *Vault) Get(account string) (string, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	data, err := v.load()
	if err != nil {
		return "", false
	}
	if secret, ok := data.Accounts[account]; ok {
		return secret, true
	}
	if data.Legacy != "" {
		return data.Legacy, true
	}
	return "", false
}

// Set stores the secret for the account. The legacy slot is cleared on the
// first write, migrating old installations to keyed storage.
func (v *Vault) Set(account, secret string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	data, err := v.load()
	if err != nil {
		return err
	}
	data.Accounts[account] = secret
	data.Legacy = ""
	return v.save(data)
}

// Delete removes the secret for the account.
func (v *Vault) Delete(account string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	data, err := v.load()
	if err != nil {
		return err
	}
	delete(data.Accounts, account)
	return v.save(data)
}

func (v *Vault) load() (*fileData, error) {
	raw, err := os.ReadFile(v.path)
	if errors.Is(err, os.ErrNotExist) {
		return &fileData{Accounts: make(map[string]string)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read vault: %w", err)
	}

	var data fileData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to parse vault: %w", err)
	}
	if data.Accounts == nil {
		data.Accounts = make(map[string]string)
	}
	return &data, nil
}

func (v *Vault) save(data *fileData) error {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal vault: %w", err)
	}

	dir := filepath.Dir(v.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create vault directory: %w", err)
	}

	tmp := v.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0600); err != nil {
		return fmt.Errorf("failed to write vault: %w", err)
	}
	if err := os.Rename(tmp, v.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace vault: %w", err)
	}
	return nil
}
