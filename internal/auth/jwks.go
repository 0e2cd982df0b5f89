package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sethvargo/go-retry"
)

const maxKeySetBytes = 1 << 20

// KeySet is the JSON Web Key Set document published by the identity provider.
type KeySet struct {
	Keys []JSONWebKey `json:"keys"`
}

// JSONWebKey is one entry of a KeySet. Only the members needed to verify RSA
// signatures are decoded.
type JSONWebKey struct {
	Kty string   `json:"kty"`
	Use string   `json:"use,omitempty"`
	Kid string   `json:"kid,omitempty"`
	Alg string   `json:"alg,omitempty"`
	X5c []string `json:"x5c,omitempty"`
	N   string   `json:"n,omitempty"`
	E   string   `json:"e,omitempty"`
}

// IsRSASigningKey reports whether k is an RSA signature key carrying a key
// id and either a certificate chain or a modulus and exponent.
func (k JSONWebKey) IsRSASigningKey() bool {
	return k.Use == "sig" &&
		k.Kty == "RSA" &&
		k.Kid != "" &&
		(len(k.X5c) > 0 || (k.N != "" && k.E != ""))
}

// PublicKey extracts the RSA public key, preferring the leaf certificate.
func (k JSONWebKey) PublicKey() (*rsa.PublicKey, error) {
	if len(k.X5c) > 0 {
		pub, err := jwt.ParseRSAPublicKeyFromPEM([]byte(CertToPEM(k.X5c[0])))
		if err != nil {
			return nil, fmt.Errorf("key %q: parse certificate: %w", k.Kid, err)
		}
		return pub, nil
	}
	return rsaKeyFromComponents(k.Kid, k.N, k.E)
}

// SigningKeys returns the usable RSA signing keys indexed by key id. Entries
// that fail to parse are reported in the returned error and skipped.
func (ks KeySet) SigningKeys() (map[string]*rsa.PublicKey, error) {
	keys := make(map[string]*rsa.PublicKey)
	var errs []error
	for _, k := range ks.Keys {
		if !k.IsRSASigningKey() {
			continue
		}
		pub, err := k.PublicKey()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		keys[k.Kid] = pub
	}
	return keys, errors.Join(errs...)
}

// CertToPEM frames a base64 DER certificate from an x5c chain as PEM.
func CertToPEM(cert string) string {
	return "-----BEGIN CERTIFICATE-----\n" + cert + "\n-----END CERTIFICATE-----"
}

func rsaKeyFromComponents(kid, n, e string) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(n, "="))
	if err != nil {
		return nil, fmt.Errorf("key %q: decode modulus: %w", kid, err)
	}
	eb, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(e, "="))
	if err != nil {
		return nil, fmt.Errorf("key %q: decode exponent: %w", kid, err)
	}
	exp := new(big.Int).SetBytes(eb)
	if !exp.IsInt64() || exp.Int64() < 3 || exp.Int64() > 1<<31-1 {
		return nil, fmt.Errorf("key %q: unsupported exponent", kid)
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: int(exp.Int64())}, nil
}

// KeySetSource fetches a KeySet.
type KeySetSource interface {
	Fetch(ctx context.Context) (KeySet, error)
}

// FetchOptions tunes HTTPKeySetFetcher.
type FetchOptions struct {
	// Timeout bounds each HTTP attempt.
	Timeout time.Duration
	// Attempts is the total number of tries for transient failures.
	Attempts uint64
	// Backoff is the initial delay between attempts; it doubles each time.
	Backoff time.Duration
}

// HTTPKeySetFetcher downloads the key set from the provider's JWKS endpoint.
type HTTPKeySetFetcher struct {
	client *http.Client
	url    string
	opts   FetchOptions
}

// NewHTTPKeySetFetcher creates a fetcher for url. A nil client uses
// http.DefaultClient.
func NewHTTPKeySetFetcher(client *http.Client, url string, opts FetchOptions) *HTTPKeySetFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Attempts == 0 {
		opts.Attempts = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 100 * time.Millisecond
	}
	return &HTTPKeySetFetcher{client: client, url: url, opts: opts}
}

// Fetch retrieves and decodes the key set, retrying transport errors, 429
// and 5xx responses with exponential backoff.
func (f *HTTPKeySetFetcher) Fetch(ctx context.Context) (KeySet, error) {
	if f.url == "" {
		return KeySet{}, fmt.Errorf("%w: no JWKS URL configured", ErrKeySetUnavailable)
	}

	var ks KeySet
	backoff := retry.WithMaxRetries(f.opts.Attempts-1, retry.NewExponential(f.opts.Backoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		ks, err = f.fetchOnce(ctx)
		return err
	})
	if err != nil {
		return KeySet{}, fmt.Errorf("%w: %v", ErrKeySetUnavailable, err)
	}
	return ks, nil
}

func (f *HTTPKeySetFetcher) fetchOnce(ctx context.Context) (KeySet, error) {
	ctx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return KeySet{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return KeySet{}, retry.RetryableError(fmt.Errorf("get %s: %w", f.url, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
		return KeySet{}, retry.RetryableError(fmt.Errorf("get %s: status %d", f.url, resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return KeySet{}, fmt.Errorf("get %s: status %d", f.url, resp.StatusCode)
	}

	var ks KeySet
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxKeySetBytes)).Decode(&ks); err != nil {
		return KeySet{}, fmt.Errorf("decode key set: %w", err)
	}
	if ks.Keys == nil {
		return KeySet{}, errors.New("key set document has no keys member")
	}
	return ks, nil
}
