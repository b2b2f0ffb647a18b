package plex

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
)

const plexTVUsersURL = "https://plex.tv/api/users"

// plexTVClient resolves per-user server access tokens from the plex.tv
// account API. The endpoint only speaks XML.
type plexTVClient struct {
	http *http.Client
}

type plexTVUsersResponse struct {
	XMLName xml.Name     `xml:"MediaContainer"`
	Users   []plexTVUser `xml:"User"`
}

type plexTVUser struct {
	ID      string         `xml:"id,attr"`
	Title   string         `xml:"title,attr"`
	Servers []plexTVServer `xml:"Server"`
}

type plexTVServer struct {
	MachineIdentifier string `xml:"machineIdentifier,attr"`
	AccessToken       string `xml:"accessToken,attr"`
}

// userToken returns the access token the given user holds for the
// server identified by machineID.
func (p plexTVClient) userToken(ctx context.Context, ownerToken, userID, machineID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, plexTVUsersURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Plex-Token", ownerToken)

	resp, err := p.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("plex.tv returned status %d: %s", resp.StatusCode, string(body))
	}

	var users plexTVUsersResponse
	if err := xml.Unmarshal(body, &users); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	for _, user := range users.Users {
		if user.ID != userID {
			continue
		}
		for _, server := range user.Servers {
			if server.MachineIdentifier == machineID {
				return server.AccessToken, nil
			}
		}
	}
	return "", fmt.Errorf("no access token for user %s on server %s", userID, machineID)
}
