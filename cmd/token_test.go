package cmd

import (
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	pickindex "github.com/ghyeongl/pickindex/sync"
)

func parseClaims(t *testing.T, secret, token string) *pickindex.Claims {
	t.Helper()
	r := httptest.NewRequest("GET", "/api/stats", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	require.NoError(t, pickindex.NewAuthorizer(secret).Check(r, pickindex.OpBatchRun))

	var claims pickindex.Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	require.NoError(t, err)
	return &claims
}
