package keycloak

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func jwksServer(t *testing.T, pub *rsa.PublicKey, kid string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/realms/test/protocol/openid-connect/certs", func(w http.ResponseWriter, r *http.Request) {
		doc := map[string]any{
			"keys": []map[string]any{
				{
					"kid": kid,
					"kty": "RSA",
					"use": "sig",
					"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
					"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
				},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(doc)
	})
	return httptest.NewServer(mux)
}

func TestJWKSVerifiesSignedToken(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	srv := jwksServer(t, &key.PublicKey, "kid-1")
	defer srv.Close()

	cfg := Config{ServerURL: srv.URL, Realm: "test"}
	jwks := NewJWKS(cfg)

	claims := jwt.MapClaims{
		"sub":   "user-1",
		"email": "ada@example.com",
		"exp":   float64(time.Now().Add(time.Hour).Unix()),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "kid-1"
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	ctx := context.Background()
	parsed, err := jwt.Parse(signed, jwks.Keyfunc(ctx), jwt.WithValidMethods([]string{"RS256"}))
	if err != nil {
		t.Fatalf("expected token to verify, got %v", err)
	}
	got, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || got["sub"] != "user-1" {
		t.Errorf("unexpected claims: %+v", parsed.Claims)
	}
}

func TestJWKSRejectsWrongKey(t *testing.T) {
	servedKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signingKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	srv := jwksServer(t, &servedKey.PublicKey, "kid-1")
	defer srv.Close()

	jwks := NewJWKS(Config{ServerURL: srv.URL, Realm: "test"})

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"exp": float64(time.Now().Add(time.Hour).Unix()),
	})
	token.Header["kid"] = "kid-1"
	signed, err := token.SignedString(signingKey)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	if _, err := jwt.Parse(signed, jwks.Keyfunc(context.Background()), jwt.WithValidMethods([]string{"RS256"})); err == nil {
		t.Fatal("expected verification to fail with the wrong key")
	}
}

func TestJWKSUnknownKid(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	srv := jwksServer(t, &key.PublicKey, "kid-1")
	defer srv.Close()

	jwks := NewJWKS(Config{ServerURL: srv.URL, Realm: "test"})
	if _, err := jwks.Key(context.Background(), "kid-2"); err == nil {
		t.Fatal("expected an error for an unknown kid")
	}
}
