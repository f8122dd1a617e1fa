package entitlement

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// HTTPOracle asks a subscription service over HTTP.
//
//	GET {base}/v1/entitlements?handle=H      -> {"subscriptions":[{"status":"active"}]}
//	GET {base}/v1/checkout/sessions/{id}     -> {"payment_status":"paid","subscription_status":"trialing","customer_handle":"H"}
type HTTPOracle struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

func NewHTTPOracle(baseURL, apiKey string) *HTTPOracle {
	return &HTTPOracle{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type entitlementsResponse struct {
	Subscriptions []struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"subscriptions"`
}

type checkoutSessionResponse struct {
	PaymentStatus      string `json:"payment_status"`
	SubscriptionStatus string `json:"subscription_status"`
	CustomerHandle     string `json:"customer_handle"`
}

func activeStatus(s string) bool {
	return s == "active" || s == "trialing"
}

func (o *HTTPOracle) IsEntitled(ctx context.Context, handle string) (bool, error) {
	if handle == "" {
		return false, nil
	}
	var body entitlementsResponse
	found, err := o.get(ctx, "/v1/entitlements?handle="+url.QueryEscape(handle), &body)
	if err != nil || !found {
		return false, err
	}
	for _, s := range body.Subscriptions {
		if activeStatus(s.Status) {
			return true, nil
		}
	}
	return false, nil
}

func (o *HTTPOracle) UnlockFromSession(ctx context.Context, sessionID string) (bool, string, error) {
	if sessionID == "" {
		return false, "", nil
	}
	var body checkoutSessionResponse
	found, err := o.get(ctx, "/v1/checkout/sessions/"+url.PathEscape(sessionID), &body)
	if err != nil || !found {
		return false, "", err
	}
	if body.PaymentStatus != "paid" {
		return false, "", nil
	}
	if body.SubscriptionStatus != "" && !activeStatus(body.SubscriptionStatus) {
		return false, "", nil
	}
	if body.CustomerHandle == "" {
		return false, "", nil
	}
	return true, body.CustomerHandle, nil
}

// get decodes a 2xx body into out. A 404 is a negative answer, anything else
// that is not 2xx means the provider is unavailable.
func (o *HTTPOracle) get(ctx context.Context, path string, out any) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.BaseURL+path, nil)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if o.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.APIKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := o.HTTPClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Errorf("%w: %s returned %s", ErrProviderUnavailable, path, resp.Status)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out); err != nil {
		return false, fmt.Errorf("%w: decode %s: %v", ErrProviderUnavailable, path, err)
	}
	return true, nil
}
