package browser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitPolicyValidate(t *testing.T) {
	testCases := []struct {
		name    string
		policy  WaitPolicy
		wantErr bool
	}{
		{"none", WaitNone(), false},
		{"load", WaitLoad(), false},
		{"url with pattern", WaitURL(`dashboard$`), false},
		{"url without pattern", WaitPolicy{Kind: WaitKindURL}, true},
		{"url with broken regex", WaitURL(`dashboard(`), true},
		{"selector", WaitSelector("#main"), false},
		{"selector empty", WaitPolicy{Kind: WaitKindSelector}, true},
		{"duration", WaitFixed(250 * time.Millisecond), false},
		{"duration zero", WaitPolicy{Kind: WaitKindDuration}, true},
		{"unknown kind", WaitPolicy{Kind: "teleport"}, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.policy.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestWaitPolicyMatchURL(t *testing.T) {
	p := WaitURL(`/account/\d+$`)
	require.NoError(t, p.Validate())

	assert.True(t, p.MatchURL("https://example.com/account/42"))
	assert.False(t, p.MatchURL("https://example.com/login"))
}

func TestWaitPolicyMatchURLCompilesLazily(t *testing.T) {
	// A policy built directly rather than via Validate still matches.
	p := WaitPolicy{Kind: WaitKindURL, Pattern: `example\.com`}
	assert.True(t, p.MatchURL("https://example.com/"))

	broken := WaitPolicy{Kind: WaitKindURL, Pattern: `(`}
	assert.False(t, broken.MatchURL("https://example.com/"))
}

func TestHumanizeProfileNormalize(t *testing.T) {
	p := HumanizeProfile{}.Normalize()

	assert.Greater(t, p.MinActions, 0)
	assert.GreaterOrEqual(t, p.MaxActions, p.MinActions)
	assert.Greater(t, p.MinPause, time.Duration(0))
	assert.GreaterOrEqual(t, p.MaxPause, p.MinPause)
	assert.Greater(t, p.MaxScroll, 0)
}
