package token

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestCodec(t *testing.T) *Codec {
	t.Helper()
	c, err := New(Config{Secret: testSecret})
	require.NoError(t, err)
	return c
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name        string
		cfg         Config
		expectedErr string
	}{
		{
			name:        "missing secret",
			cfg:         Config{},
			expectedErr: "signing secret is required",
		},
		{
			name:        "short secret",
			cfg:         Config{Secret: "too-short"},
			expectedErr: "at least 32 bytes",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expectedErr)
		})
	}
}

func TestCodec_IssueAndParse(t *testing.T) {
	codec := newTestCodec(t)

	raw, err := codec.Issue("alice", "sess-1", 15*time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, raw)

	claims, err := codec.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Identity)
	assert.Equal(t, "sess-1", claims.SessionID)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), claims.ExpiresAt, 5*time.Second)
	assert.Greater(t, claims.Remaining(time.Now()), 14*time.Minute)
}

func TestCodec_Issue_Validation(t *testing.T) {
	codec := newTestCodec(t)

	_, err := codec.Issue("", "sess-1", time.Minute)
	require.Error(t, err)

	_, err = codec.Issue("alice", "", time.Minute)
	require.Error(t, err)

	_, err = codec.Issue("alice", "sess-1", 0)
	require.Error(t, err)
}

func TestCodec_Parse_Malformed(t *testing.T) {
	codec := newTestCodec(t)

	tests := []struct {
		name string
		raw  string
	}{
		{name: "empty", raw: ""},
		{name: "garbage", raw: "not-a-token"},
		{name: "wrong structure", raw: "a.b"},
		{name: "unsigned", raw: "eyJhbGciOiJub25lIn0.eyJzdWIiOiJhbGljZSJ9."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := codec.Parse(tt.raw)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestCodec_Parse_WrongSecret(t *testing.T) {
	codec := newTestCodec(t)
	other, err := New(Config{Secret: strings.Repeat("x", 32)})
	require.NoError(t, err)

	raw, err := other.Issue("alice", "sess-1", time.Minute)
	require.NoError(t, err)

	_, err = codec.Parse(raw)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestCodec_Parse_WrongIssuer(t *testing.T) {
	codec := newTestCodec(t)
	other, err := New(Config{Secret: testSecret, Issuer: "someone-else"})
	require.NoError(t, err)

	raw, err := other.Issue("alice", "sess-1", time.Minute)
	require.NoError(t, err)

	_, err = codec.Parse(raw)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestCodec_Parse_Expired(t *testing.T) {
	codec := newTestCodec(t)

	// Issue in the past, beyond leeway.
	past := time.Now().Add(-10 * time.Minute)
	codec.now = func() time.Time { return past }
	raw, err := codec.Issue("alice", "sess-1", time.Minute)
	require.NoError(t, err)

	codec.now = time.Now
	_, err = codec.Parse(raw)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestCodec_TokensDifferAcrossSessions(t *testing.T) {
	codec := newTestCodec(t)

	t1, err := codec.Issue("alice", "sess-1", time.Minute)
	require.NoError(t, err)
	t2, err := codec.Issue("alice", "sess-2", time.Minute)
	require.NoError(t, err)

	assert.NotEqual(t, t1, t2)

	c1, err := codec.Parse(t1)
	require.NoError(t, err)
	c2, err := codec.Parse(t2)
	require.NoError(t, err)
	assert.Equal(t, "sess-1", c1.SessionID)
	assert.Equal(t, "sess-2", c2.SessionID)
}
