package guard

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DiscordVerifier checks that an OAuth access token belongs to a Discord
// account id.
type DiscordVerifier interface {
	Verify(ctx context.Context, discordID, accessToken string) error
}

// HTTPVerifier asks the Discord API who owns the token (GET users/@me).
type HTTPVerifier struct {
	BaseURL string
	Client  *http.Client
}

func NewHTTPVerifier(baseURL string) *HTTPVerifier {
	return &HTTPVerifier{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type discordUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

func (v *HTTPVerifier) Verify(ctx context.Context, discordID, accessToken string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.BaseURL+"/users/@me", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := v.Client.Do(req)
	if err != nil {
		return fmt.Errorf("discord users/@me: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnverified
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("discord users/@me: status %d", resp.StatusCode)
	}
	var u discordUser
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&u); err != nil {
		return fmt.Errorf("discord users/@me: %w", err)
	}
	if u.ID == "" || u.ID != discordID {
		return ErrUnverified
	}
	return nil
}

// StaticVerifier accepts a fixed token per account id. It backs local
// deployments and tests.
type StaticVerifier map[string]string

func (s StaticVerifier) Verify(_ context.Context, discordID, accessToken string) error {
	want, ok := s[discordID]
	if !ok || want != accessToken {
		return ErrUnverified
	}
	return nil
}
