// Package savecode encodes a player's portable progress as a "QIQ:" string and restores it.
package savecode

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

const (
	// Prefix starts every save code.
	Prefix = "QIQ:"
	// CurrentVersion is written by Encode. Version 1 codes carry no group snapshot.
	CurrentVersion = 2
)

var (
	// ErrInvalidCode indicates a code without the prefix, with broken encoding or without stats.
	ErrInvalidCode = errors.New("savecode: invalid save code")
	// ErrUnsupportedVersion indicates a code written by a newer client.
	ErrUnsupportedVersion = errors.New("savecode: unsupported save code version")
)

// Verses lists the verse references the player explored.
type Verses struct {
	Refs []string `json:"refs"`
}

// GroupSummary is the cached view of one group inside a save code.
type GroupSummary struct {
	Name        string `json:"name"`
	MemberCount int    `json:"memberCount"`
}

// GroupSnapshot carries the identity and groups the code was exported from. The "firebase" key
// is kept so codes exported by older clients still restore.
type GroupSnapshot struct {
	UID             string                  `json:"uid,omitempty"`
	DisplayName     string                  `json:"displayName,omitempty"`
	Groups          map[string]GroupSummary `json:"groups,omitempty"`
	ActiveGroupCode string                  `json:"activeGroupCode,omitempty"`
}

// Bundle is the decoded content of a save code. Stats and percentile are opaque client state.
type Bundle struct {
	Version    int             `json:"v"`
	Stats      json.RawMessage `json:"stats"`
	Verses     Verses          `json:"verses"`
	PlayerID   string          `json:"playerId,omitempty"`
	Theme      string          `json:"theme,omitempty"`
	Percentile json.RawMessage `json:"percentile,omitempty"`
	Groups     *GroupSnapshot  `json:"firebase,omitempty"`
	Exported   string          `json:"exported,omitempty"`
}

// Encode renders bundle as a save code.
func Encode(bundle Bundle) (string, error) {
	if len(bundle.Stats) == 0 {
		bundle.Stats = json.RawMessage("{}")
	}
	if bundle.Verses.Refs == nil {
		bundle.Verses.Refs = []string{}
	}
	payload, err := json.Marshal(bundle)
	if err != nil {
		return "", fmt.Errorf("encode save code: %w", err)
	}
	return Prefix + base64.StdEncoding.EncodeToString(payload), nil
}

// Decode parses a save code. The version and stats are checked before the full decode.
func Decode(code string) (Bundle, error) {
	trimmed := strings.TrimSpace(code)
	if !strings.HasPrefix(trimmed, Prefix) {
		return Bundle{}, fmt.Errorf("%w: missing %s prefix", ErrInvalidCode, Prefix)
	}
	payload, err := decodeBase64(strings.TrimPrefix(trimmed, Prefix))
	if err != nil {
		return Bundle{}, fmt.Errorf("%w: %v", ErrInvalidCode, err)
	}
	if !gjson.ValidBytes(payload) {
		return Bundle{}, fmt.Errorf("%w: payload is not JSON", ErrInvalidCode)
	}

	version := gjson.GetBytes(payload, "v")
	stats := gjson.GetBytes(payload, "stats")
	if !version.Exists() || version.Int() <= 0 || !stats.Exists() || stats.Type == gjson.Null {
		return Bundle{}, fmt.Errorf("%w: version and stats are required", ErrInvalidCode)
	}
	if version.Int() > CurrentVersion {
		return Bundle{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version.Int())
	}

	var bundle Bundle
	if err := json.Unmarshal(payload, &bundle); err != nil {
		return Bundle{}, fmt.Errorf("%w: %v", ErrInvalidCode, err)
	}
	if bundle.Version < CurrentVersion {
		bundle.Groups = nil
	}
	return bundle, nil
}

func decodeBase64(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	if payload, err := base64.StdEncoding.DecodeString(encoded); err == nil {
		return payload, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(encoded, "="))
}
