package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/schedmesh-engine/internal/domain"
	"go.uber.org/zap"
)

func testKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func signToken(t *testing.T, key *rsa.PrivateKey, userID string, ttl time.Duration) string {
	t.Helper()
	claims := &domain.CustomClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func TestVerifyToken_StripsBearerPrefix(t *testing.T) {
	key := testKey(t)
	v := NewBaseValidator(&key.PublicKey)
	token := signToken(t, key, "user-1", time.Hour)

	claims, err := v.VerifyToken("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)

	// Голый токен без префикса тоже принимается
	claims, err = v.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
}

func TestVerifyToken_Rejections(t *testing.T) {
	key := testKey(t)
	v := NewBaseValidator(&key.PublicKey)

	t.Run("истекший", func(t *testing.T) {
		_, err := v.VerifyToken(signToken(t, key, "user-1", -time.Minute))
		assert.Error(t, err)
	})

	t.Run("чужой ключ", func(t *testing.T) {
		other := testKey(t)
		_, err := v.VerifyToken(signToken(t, other, "user-1", time.Hour))
		assert.Error(t, err)
	})

	t.Run("симметричный алгоритм", func(t *testing.T) {
		// Подмена RS256 -> HS256 не должна проходить проверку метода
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &domain.CustomClaims{UserID: "user-1"}).
			SignedString([]byte("secret"))
		require.NoError(t, err)

		_, err = v.VerifyToken(token)
		assert.Error(t, err)
	})

	t.Run("мусор вместо токена", func(t *testing.T) {
		_, err := v.VerifyToken("not-a-jwt")
		assert.Error(t, err)
	})
}

func TestMiddleware_InjectsUserID(t *testing.T) {
	key := testKey(t)
	mw := NewMiddleware(NewBaseValidator(&key.PublicKey), zap.NewNop())

	var gotUserID string
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID, _ = r.Context().Value("user_id").(string)
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, key, "user-7", time.Hour))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "user-7", gotUserID)
}

func TestMiddleware_Unauthorized(t *testing.T) {
	key := testKey(t)
	mw := NewMiddleware(NewBaseValidator(&key.PublicKey), zap.NewNop())

	called := false
	h := mw(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) { called = true }))

	// Без заголовка
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/sessions", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	// С невалидным токеном
	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	assert.False(t, called, "защищенный обработчик не вызывается")
}

func TestParseRSAKeys(t *testing.T) {
	key := testKey(t)

	privPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})

	parsedPriv, err := ParseRSAPrivateKey(privPEM)
	require.NoError(t, err)
	assert.True(t, parsedPriv.Equal(key))

	parsedPub, err := ParseRSAPublicKey(pubPEM)
	require.NoError(t, err)
	assert.True(t, parsedPub.Equal(&key.PublicKey))

	_, err = ParseRSAPrivateKey(nil)
	assert.Error(t, err, "пустые данные ключа")
	_, err = ParseRSAPublicKey([]byte("junk"))
	assert.Error(t, err)
}
