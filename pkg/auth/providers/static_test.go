package providers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticAuthProvider_VerifyToken(t *testing.T) {
	p := NewStaticAuthProvider()
	p.Add("token-1", TokenClaims{UID: "user-1", Name: "Ada"})

	claims, err := p.VerifyToken(context.Background(), "token-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UID)
	assert.Equal(t, "Ada", claims.Name)

	_, err = p.VerifyToken(context.Background(), "token-2")
	assert.Error(t, err)
}

func TestParseStaticTokens(t *testing.T) {
	tests := []struct {
		name    string
		entries []string
		token   string
		want    TokenClaims
		wantErr bool
	}{
		{name: "uid only", entries: []string{"t1=user-1"}, token: "t1", want: TokenClaims{UID: "user-1"}},
		{name: "uid and name", entries: []string{"t1=user-1", "t2=user-2:Grace"}, token: "t2", want: TokenClaims{UID: "user-2", Name: "Grace"}},
		{name: "missing separator", entries: []string{"t1"}, wantErr: true},
		{name: "empty uid", entries: []string{"t1="}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParseStaticTokens(tt.entries)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			claims, err := p.VerifyToken(context.Background(), tt.token)
			require.NoError(t, err)
			assert.Equal(t, tt.want, *claims)
		})
	}
}
