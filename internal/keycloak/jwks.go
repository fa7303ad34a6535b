package keycloak

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWKS caches the realm's RSA signing keys by key id.
type JWKS struct {
	url        string
	ttl        time.Duration
	httpClient *http.Client
	keys       map[string]*rsa.PublicKey
	lastFetch  time.Time
}

// NewJWKS creates a key cache for the realm's JWKS endpoint.
func NewJWKS(cfg Config) *JWKS {
	return &JWKS{
		url:  cfg.CertsURL(),
		ttl:  5 * time.Minute,
		keys: make(map[string]*rsa.PublicKey),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Key retrieves the public key with the given key id, refreshing the cache
// when the key is unknown or the cache is stale.
func (j *JWKS) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	if time.Since(j.lastFetch) > j.ttl || len(j.keys) == 0 {
		if err := j.refresh(ctx); err != nil {
			return nil, err
		}
	}

	key, ok := j.keys[kid]
	if !ok {
		// The key may have just been rotated in.
		if err := j.refresh(ctx); err != nil {
			return nil, err
		}
		key, ok = j.keys[kid]
		if !ok {
			return nil, fmt.Errorf("signing key not found: %s", kid)
		}
	}
	return key, nil
}

// Keyfunc adapts the cache for jwt.Parse.
func (j *JWKS) Keyfunc(ctx context.Context) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("token carries no kid header")
		}
		return j.Key(ctx, kid)
	}
}

func (j *JWKS) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, j.url, nil)
	if err != nil {
		return fmt.Errorf("build JWKS request: %w", err)
	}

	resp, err := j.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch JWKS: unexpected status %d", resp.StatusCode)
	}

	var doc struct {
		Keys []struct {
			Kid string `json:"kid"`
			Kty string `json:"kty"`
			Use string `json:"use"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return fmt.Errorf("decode JWKS: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey)
	for _, k := range doc.Keys {
		if k.Kty != "RSA" {
			continue
		}
		nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
		if err != nil {
			continue
		}
		eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
		if err != nil {
			continue
		}
		var e int
		for _, b := range eBytes {
			e = e<<8 + int(b)
		}
		keys[k.Kid] = &rsa.PublicKey{
			N: new(big.Int).SetBytes(nBytes),
			E: e,
		}
	}

	if len(keys) == 0 {
		return errors.New("no RSA keys found in JWKS")
	}

	j.keys = keys
	j.lastFetch = time.Now()
	return nil
}
