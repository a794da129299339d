package guard

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/davon-library/webgate/token"
)

// CookieResolver reads the bearer token from a cookie and extracts the
// principal locally, either by decoding or by verifying it.
type CookieResolver struct {
	Cookie    string
	Extractor token.Extractor
}

func (c CookieResolver) Resolve(r *http.Request) (*token.Principal, error) {
	cookie, err := r.Cookie(c.Cookie)
	if err != nil || cookie.Value == "" {
		return nil, nil
	}
	p, err := c.Extractor.Principal(cookie.Value)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// RemoteResolver re-derives identity on every request by asking the
// upstream "who am I" endpoint with the cookie's token.
type RemoteResolver struct {
	Cookie   string
	Endpoint string
	Client   *http.Client
}

// meResponse is the upstream /auth/me payload.
type meResponse struct {
	Username string         `json:"username"`
	FullName string         `json:"fullName"`
	Roles    token.RoleList `json:"roles"`
	Role     token.RoleList `json:"role"`
	Groups   token.RoleList `json:"groups"`
}

func (rr RemoteResolver) Resolve(r *http.Request) (*token.Principal, error) {
	cookie, err := r.Cookie(rr.Cookie)
	if err != nil || cookie.Value == "" {
		return nil, nil
	}
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, rr.Endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+cookie.Value)
	req.Header.Set("Accept", "application/json")

	client := rr.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("who-am-i request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return nil, nil
	}

	var me meResponse
	if err := json.NewDecoder(resp.Body).Decode(&me); err != nil {
		return nil, fmt.Errorf("decoding who-am-i response: %w", err)
	}
	if me.Username == "" {
		return nil, token.ErrNoSubject
	}
	roles := append(append(append([]string{}, me.Roles...), me.Role...), me.Groups...)
	p := token.Principal{
		Subject:     me.Username,
		DisplayName: me.FullName,
		Roles:       token.NewRoleSet(roles...),
	}
	if p.DisplayName == "" {
		p.DisplayName = p.Subject
	}
	// The expiry is still read from the token when it decodes.
	if claims, err := token.Decode(cookie.Value); err == nil && claims.ExpiresAt != nil {
		p.ExpiresAt = claims.ExpiresAt.Time
		if p.Expired(time.Now()) {
			return nil, token.ErrExpired
		}
	}
	return &p, nil
}
