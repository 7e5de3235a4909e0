package client

import (
	"net/http"
)

// AuthTransport adds a fixed Authorization header to every request
type AuthTransport struct {
	Base       http.RoundTripper
	Credential *Credential
}

func (t *AuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.Credential != nil && t.Credential.AccessToken != "" {
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", t.Credential.Header())
	}
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

// refreshTransport authorizes requests from the client's stored credential
// and retries once after refreshing on a 401.
type refreshTransport struct {
	client *AuthClient
	base   http.RoundTripper
}

func (t *refreshTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	cred, err := t.client.Credential(req.Context())
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return t.base.RoundTrip(req)
	}

	first := req.Clone(req.Context())
	first.Header.Set("Authorization", cred.Header())
	resp, err := t.base.RoundTrip(first)
	if err != nil || resp.StatusCode != http.StatusUnauthorized || !cred.HasRefreshToken() {
		return resp, err
	}
	// bodies that cannot be replayed are returned as is
	if req.Body != nil && req.GetBody == nil {
		return resp, nil
	}

	fresh, err := t.client.refresh(req.Context(), cred)
	if err != nil {
		return resp, nil
	}
	resp.Body.Close()

	retry := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		retry.Body = body
	}
	retry.Header.Set("Authorization", fresh.Header())
	return t.base.RoundTrip(retry)
}
