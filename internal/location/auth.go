package location

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/richxcame/driver-location/pkg/cache"
	"github.com/richxcame/driver-location/pkg/common"
	"github.com/richxcame/driver-location/pkg/httpclient"
	"github.com/richxcame/driver-location/pkg/resilience"
)

// authResponse is the auth endpoint's body on a successful token lookup.
type authResponse struct {
	DriverID string `json:"driverId"`
}

// Authenticator resolves a driver-app token to a driver ID, caching hits in
// the store so the auth endpoint is only consulted on a cold token.
type Authenticator struct {
	tokens  *cache.Cache
	client  *httpclient.Client
	apiKey  string
	expiry  time.Duration
	breaker *resilience.CircuitBreaker
}

// NewAuthenticator wires the token cache and the outbound auth endpoint
// client. breaker may be nil when the circuit breaker is disabled.
func NewAuthenticator(tokens *cache.Cache, client *httpclient.Client, apiKey string, expiry time.Duration, breaker *resilience.CircuitBreaker) *Authenticator {
	return &Authenticator{
		tokens:  tokens,
		client:  client,
		apiKey:  apiKey,
		expiry:  expiry,
		breaker: breaker,
	}
}

// Authenticate returns the driver ID for token, calling the auth endpoint on
// a cache miss and caching the result under the token for the configured
// expiry.
func (a *Authenticator) Authenticate(ctx context.Context, token string, merchantID MerchantID) (DriverID, error) {
	if token == "" {
		return "", common.NewDriverAppAuthFailedError(fmt.Errorf("empty token"))
	}

	key := cache.DriverTokenKey(token)
	var cached string
	if err := a.tokens.Get(ctx, key, &cached); err == nil && cached != "" {
		return cached, nil
	}

	call := func(ctx context.Context) (interface{}, error) {
		return a.client.Get(ctx, "", map[string]string{
			"token":       token,
			"api-key":     a.apiKey,
			"merchant-id": merchantID,
		})
	}

	var body interface{}
	var err error
	if a.breaker != nil {
		body, err = a.breaker.Execute(ctx, call)
	} else {
		body, err = call(ctx)
	}
	if err != nil {
		return "", common.NewDriverAppAuthFailedError(err)
	}

	var resp authResponse
	if jsonErr := json.Unmarshal(body.([]byte), &resp); jsonErr != nil {
		return "", common.NewDriverAppAuthFailedError(jsonErr)
	}
	if resp.DriverID == "" {
		return "", common.NewDriverAppAuthFailedError(fmt.Errorf("auth response missing driverId"))
	}

	if cacheErr := a.tokens.Set(ctx, key, resp.DriverID, a.expiry); cacheErr != nil {
		// A failed cache write only costs an extra auth round-trip next time.
		return resp.DriverID, nil
	}
	return resp.DriverID, nil
}
