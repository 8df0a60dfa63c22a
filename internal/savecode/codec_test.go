package savecode

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeRaw(t *testing.T, payload string) string {
	t.Helper()
	require.True(t, json.Valid([]byte(payload)))
	return Prefix + base64.StdEncoding.EncodeToString([]byte(payload))
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	bundle := Bundle{
		Version:  CurrentVersion,
		Stats:    json.RawMessage(`{"connections":{"played":3}}`),
		Verses:   Verses{Refs: []string{"2:255", "112:1"}},
		PlayerID: "local-1",
		Theme:    "light",
		Groups: &GroupSnapshot{
			UID:             "player-old",
			DisplayName:     "Amina",
			Groups:          map[string]GroupSummary{"ABCDEF": {Name: "Family", MemberCount: 3}},
			ActiveGroupCode: "ABCDEF",
		},
		Exported: "2026-03-03T09:00:00.000Z",
	}

	code, err := Encode(bundle)
	require.NoError(t, err)
	assert.Contains(t, code, Prefix)

	decoded, err := Decode(code)
	require.NoError(t, err)
	assert.Equal(t, CurrentVersion, decoded.Version)
	assert.JSONEq(t, `{"connections":{"played":3}}`, string(decoded.Stats))
	assert.Equal(t, []string{"2:255", "112:1"}, decoded.Verses.Refs)
	assert.Equal(t, "light", decoded.Theme)
	require.NotNil(t, decoded.Groups)
	assert.Equal(t, "player-old", decoded.Groups.UID)
	assert.Equal(t, GroupSummary{Name: "Family", MemberCount: 3}, decoded.Groups.Groups["ABCDEF"])
}

func TestEncodeFillsEmptyStats(t *testing.T) {
	code, err := Encode(Bundle{Version: CurrentVersion})
	require.NoError(t, err)
	decoded, err := Decode(code)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(decoded.Stats))
	assert.Empty(t, decoded.Verses.Refs)
}

func TestDecodeRejectsMalformedCodes(t *testing.T) {
	testCases := []struct {
		name string
		code string
	}{
		{name: "missing prefix", code: base64.StdEncoding.EncodeToString([]byte(`{"v":2,"stats":{}}`))},
		{name: "broken base64", code: Prefix + "***"},
		{name: "not json", code: Prefix + base64.StdEncoding.EncodeToString([]byte("hello"))},
		{name: "missing stats", code: encodeRaw(t, `{"v":2}`)},
		{name: "null stats", code: encodeRaw(t, `{"v":2,"stats":null}`)},
		{name: "missing version", code: encodeRaw(t, `{"stats":{}}`)},
		{name: "zero version", code: encodeRaw(t, `{"v":0,"stats":{}}`)},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := Decode(testCase.code)
			require.ErrorIs(t, err, ErrInvalidCode)
		})
	}
}

func TestDecodeRejectsNewerVersions(t *testing.T) {
	_, err := Decode(encodeRaw(t, `{"v":3,"stats":{}}`))
	require.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestDecodeVersionOneIgnoresGroups(t *testing.T) {
	decoded, err := Decode(encodeRaw(t, `{"v":1,"stats":{"a":1},"verses":{"refs":["1:1"]},"firebase":{"uid":"x","groups":{"ABCDEF":{"name":"n","memberCount":1}}}}`))
	require.NoError(t, err)
	assert.Equal(t, 1, decoded.Version)
	assert.Nil(t, decoded.Groups)
	assert.Equal(t, []string{"1:1"}, decoded.Verses.Refs)
}

func TestDecodeAcceptsUnpaddedAndPaddedWhitespace(t *testing.T) {
	payload := `{"v":2,"stats":{}}`
	unpadded := Prefix + base64.RawStdEncoding.EncodeToString([]byte(payload))
	decoded, err := Decode("  " + unpadded + "\n")
	require.NoError(t, err)
	assert.Equal(t, 2, decoded.Version)
}

func TestSortCodesPutsActiveFirst(t *testing.T) {
	codes := []string{"CCCCCC", "AAAAAA", "BBBBBB"}
	sortCodes(codes, "BBBBBB")
	assert.Equal(t, []string{"BBBBBB", "AAAAAA", "CCCCCC"}, codes)
}
