package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// keysetFile is the on-disk form: {"active_kid": "...", "keys": {"kid": "secret"}}.
type keysetFile struct {
	ActiveKID string            `json:"active_kid"`
	Keys      map[string]string `json:"keys"`
}

func LoadHMACKeysetFile(path string) (HMACKeyset, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return HMACKeyset{}, fmt.Errorf("read jwt keyset file: %w", err)
	}
	var f keysetFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return HMACKeyset{}, fmt.Errorf("decode jwt keyset file: %w", err)
	}
	keys := make(map[string][]byte, len(f.Keys))
	for kid, secret := range f.Keys {
		kid, secret = strings.TrimSpace(kid), strings.TrimSpace(secret)
		if kid != "" && secret != "" {
			keys[kid] = []byte(secret)
		}
	}
	ks, err := newKeyset(keys, f.ActiveKID)
	if err != nil {
		return HMACKeyset{}, fmt.Errorf("jwt keyset file %s: %w", path, err)
	}
	return ks, nil
}
