package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// jwksFixture spins up a TLS JWKS endpoint backed by a fresh RSA key pair.
func jwksFixture(t *testing.T) (*rsa.PrivateKey, *httptest.Server, string) {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	key, err := jwk.FromRaw(&privateKey.PublicKey)
	require.NoError(t, err)
	_ = key.Set(jwk.KeyIDKey, "test-kid")
	_ = key.Set(jwk.AlgorithmKey, "RS256")
	_ = key.Set(jwk.KeyUsageKey, "sig")

	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/.well-known/jwks.json" {
			buf, _ := json.Marshal(map[string]interface{}{
				"keys": []interface{}{key},
			})
			_, _ = w.Write(buf)
		}
	}))

	u, _ := url.Parse(server.URL)
	return privateKey, server, u.Host
}

func signToken(t *testing.T, key *rsa.PrivateKey, domain string, claims jwt.MapClaims) string {
	t.Helper()
	if _, ok := claims["iss"]; !ok {
		claims["iss"] = "https://" + domain + "/"
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "test-kid"
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func TestValidator_ValidToken(t *testing.T) {
	key, server, domain := jwksFixture(t)
	defer server.Close()

	v, err := NewValidator(context.Background(), domain, "test-audience", jwk.WithHTTPClient(server.Client()))
	require.NoError(t, err)

	signed := signToken(t, key, domain, jwt.MapClaims{
		"aud":      "test-audience",
		"sub":      "user-42",
		"username": "speedtyper",
		"role":     "user",
		"exp":      time.Now().Add(time.Hour).Unix(),
	})

	claims, err := v.ValidateToken(signed)
	require.NoError(t, err)
	assert.Equal(t, "user-42", claims.Subject)
	assert.Equal(t, "speedtyper", claims.Username)
	assert.Equal(t, "user", claims.Role)
	assert.Equal(t, "speedtyper", claims.DisplayName())
}

func TestValidator_ExpiredToken(t *testing.T) {
	key, server, domain := jwksFixture(t)
	defer server.Close()

	v, err := NewValidator(context.Background(), domain, "test-audience", jwk.WithHTTPClient(server.Client()))
	require.NoError(t, err)

	signed := signToken(t, key, domain, jwt.MapClaims{
		"aud": "test-audience",
		"sub": "user-42",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})

	_, err = v.ValidateToken(signed)
	assert.Error(t, err)
}

func TestValidator_WrongAudience(t *testing.T) {
	key, server, domain := jwksFixture(t)
	defer server.Close()

	v, err := NewValidator(context.Background(), domain, "test-audience", jwk.WithHTTPClient(server.Client()))
	require.NoError(t, err)

	signed := signToken(t, key, domain, jwt.MapClaims{
		"aud": "other-audience",
		"sub": "user-42",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	_, err = v.ValidateToken(signed)
	assert.Error(t, err)
}

// An HS256 token signed with a shared secret must be rejected before
// verification, not merely fail it.
func TestValidator_AlgorithmConfusion(t *testing.T) {
	_, server, domain := jwksFixture(t)
	defer server.Close()

	v, err := NewValidator(context.Background(), domain, "test-audience", jwk.WithHTTPClient(server.Client()))
	require.NoError(t, err)

	token := jwt.New(jwt.SigningMethodHS256)
	token.Header["kid"] = "test-kid"
	token.Claims = jwt.MapClaims{
		"aud": "test-audience",
		"iss": "https://" + domain + "/",
		"sub": "attacker",
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	signed, err := token.SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = v.ValidateToken(signed)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected signing method")
}

func TestGetAllowedOriginsFromEnv_WithValue(t *testing.T) {
	_ = os.Setenv("TEST_ORIGINS", "http://localhost:3000,https://example.com")
	defer func() { _ = os.Unsetenv("TEST_ORIGINS") }()

	origins := GetAllowedOriginsFromEnv("TEST_ORIGINS", []string{"http://default"})

	assert.Equal(t, 2, len(origins))
	assert.Equal(t, "http://localhost:3000", origins[0])
	assert.Equal(t, "https://example.com", origins[1])
}

func TestGetAllowedOriginsFromEnv_Empty(t *testing.T) {
	_ = os.Unsetenv("TEST_ORIGINS_EMPTY")

	defaults := []string{"http://localhost:3000", "http://localhost:8080"}
	origins := GetAllowedOriginsFromEnv("TEST_ORIGINS_EMPTY", defaults)

	assert.Equal(t, defaults, origins)
}

func TestMockValidator_ParsesSubject(t *testing.T) {
	m := &MockValidator{}

	// header.payload.signature with payload {"sub":"abc","username":"racer"}
	payload := `{"sub":"abc","username":"racer","role":"moderator"}`
	tok := "e30." + base64RawURL(payload) + ".sig"

	claims, err := m.ValidateToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "abc", claims.Subject)
	assert.Equal(t, "racer", claims.Username)
	assert.Equal(t, "moderator", claims.Role)
}

func TestMockValidator_FallbackDefaults(t *testing.T) {
	m := &MockValidator{}
	claims, err := m.ValidateToken("garbage")
	require.NoError(t, err)
	assert.Equal(t, "dev-user-123", claims.Subject)
	assert.Equal(t, "Dev User", claims.Username)
}

func base64RawURL(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}
