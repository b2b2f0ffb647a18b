package plex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/RemiRigal/Plex-Auto-Languages/internal/autolang"
)

const defaultHTTPTimeout = 30 * time.Second

// Client talks to a single Plex Media Server. It implements
// autolang.Server for the owner token; per-user views are obtained
// through InstanceOfUser.
type Client struct {
	baseURL string
	token   string
	http    *http.Client

	plexTV plexTVClient

	mu        sync.Mutex
	machineID string
	self      *autolang.User
	accounts  []autolang.User
	instances map[string]*Client
}

// NewClient creates a client for the server at baseURL, authenticated
// with the owner token.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		token:     token,
		http:      &http.Client{Timeout: defaultHTTPTimeout},
		plexTV:    plexTVClient{http: &http.Client{Timeout: defaultHTTPTimeout}},
		instances: make(map[string]*Client),
	}
}

// Connect verifies the server is reachable and resolves its machine
// identifier and the owner account.
func (c *Client) Connect(ctx context.Context) error {
	machineID, err := c.MachineIdentifier(ctx)
	if err != nil {
		return fmt.Errorf("failed to reach plex server: %w", err)
	}

	accounts, err := c.systemAccounts(ctx)
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		return fmt.Errorf("plex server returned no accounts")
	}

	// The first non-system account (ID 0) is the server owner.
	c.mu.Lock()
	for i := range accounts {
		if accounts[i].ID != "0" {
			c.self = &accounts[i]
			break
		}
	}
	c.mu.Unlock()

	log.Info().
		Str("url", c.baseURL).
		Str("machineIdentifier", machineID).
		Msg("Connected to Plex server")
	return nil
}

// Self returns the owner account resolved during Connect.
func (c *Client) Self() *autolang.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.self
}

func (c *Client) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Plex-Token", c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", path, autolang.ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("plex returned status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func (c *Client) put(ctx context.Context, path string, params url.Values) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Plex-Token", c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("plex returned status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// MachineIdentifier returns the unique identifier of the server,
// caching it after the first call.
func (c *Client) MachineIdentifier(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.machineID != "" {
		id := c.machineID
		c.mu.Unlock()
		return id, nil
	}
	c.mu.Unlock()

	var resp metadataResponse
	if err := c.getJSON(ctx, "/", nil, &resp); err != nil {
		return "", err
	}
	if resp.MediaContainer.MachineIdentifier == "" {
		return "", fmt.Errorf("plex server returned no machine identifier")
	}

	c.mu.Lock()
	c.machineID = resp.MediaContainer.MachineIdentifier
	c.mu.Unlock()
	return resp.MediaContainer.MachineIdentifier, nil
}

// FetchEpisode fetches a single episode with its stream metadata.
// Items that exist but are not episodes are reported as not found.
func (c *Client) FetchEpisode(ctx context.Context, ratingKey string) (*autolang.Episode, error) {
	ratingKey = strings.TrimPrefix(ratingKey, "/library/metadata/")

	var resp metadataResponse
	if err := c.getJSON(ctx, "/library/metadata/"+ratingKey, nil, &resp); err != nil {
		return nil, err
	}
	if len(resp.MediaContainer.Metadata) == 0 {
		return nil, fmt.Errorf("no metadata for rating key %s: %w", ratingKey, autolang.ErrNotFound)
	}

	meta := resp.MediaContainer.Metadata[0]
	if meta.Type != mediaTypeEpisode {
		return nil, fmt.Errorf("item %s has type %q: %w", ratingKey, meta.Type, autolang.ErrNotFound)
	}
	return convertEpisode(&meta), nil
}

// ShowEpisodes fetches every episode of a show.
func (c *Client) ShowEpisodes(ctx context.Context, showKey string) ([]autolang.Episode, error) {
	showKey = strings.TrimPrefix(showKey, "/library/metadata/")
	showKey = strings.TrimSuffix(showKey, "/children")
	return c.fetchEpisodeList(ctx, "/library/metadata/"+showKey+"/allLeaves", nil)
}

// SeasonEpisodes fetches the episodes of a single season.
func (c *Client) SeasonEpisodes(ctx context.Context, seasonKey string) ([]autolang.Episode, error) {
	seasonKey = strings.TrimPrefix(seasonKey, "/library/metadata/")
	seasonKey = strings.TrimSuffix(seasonKey, "/children")
	return c.fetchEpisodeList(ctx, "/library/metadata/"+seasonKey+"/children", nil)
}

func (c *Client) fetchEpisodeList(ctx context.Context, path string, params url.Values) ([]autolang.Episode, error) {
	var resp metadataResponse
	if err := c.getJSON(ctx, path, params, &resp); err != nil {
		return nil, err
	}

	episodes := make([]autolang.Episode, 0, len(resp.MediaContainer.Metadata))
	for i := range resp.MediaContainer.Metadata {
		meta := &resp.MediaContainer.Metadata[i]
		if meta.Type != mediaTypeEpisode {
			continue
		}
		episodes = append(episodes, *convertEpisode(meta))
	}
	return episodes, nil
}

func (c *Client) showSections(ctx context.Context) ([]section, error) {
	var resp sectionsResponse
	if err := c.getJSON(ctx, "/library/sections", nil, &resp); err != nil {
		return nil, err
	}

	var sections []section
	for _, dir := range resp.MediaContainer.Directory {
		if dir.Type == sectionTypeShow {
			sections = append(sections, dir)
		}
	}
	return sections, nil
}

// AllEpisodes fetches every episode across all show libraries.
func (c *Client) AllEpisodes(ctx context.Context) ([]autolang.Episode, error) {
	sections, err := c.showSections(ctx)
	if err != nil {
		return nil, err
	}

	var episodes []autolang.Episode
	for _, sec := range sections {
		params := url.Values{"type": {"4"}}
		secEpisodes, err := c.fetchEpisodeList(ctx, "/library/sections/"+sec.Key+"/all", params)
		if err != nil {
			return nil, fmt.Errorf("failed to list section %s: %w", sec.Title, err)
		}
		episodes = append(episodes, secEpisodes...)
	}
	return episodes, nil
}

// RecentlyAddedEpisodes fetches episodes added within the given window.
func (c *Client) RecentlyAddedEpisodes(ctx context.Context, within time.Duration) ([]autolang.Episode, error) {
	sections, err := c.showSections(ctx)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-within).Unix()

	var episodes []autolang.Episode
	for _, sec := range sections {
		params := url.Values{
			"type":      {"4"},
			"addedAt>>": {strconv.FormatInt(cutoff, 10)},
			"sort":      {"addedAt:desc"},
		}
		secEpisodes, err := c.fetchEpisodeList(ctx, "/library/sections/"+sec.Key+"/all", params)
		if err != nil {
			return nil, fmt.Errorf("failed to list section %s: %w", sec.Title, err)
		}
		episodes = append(episodes, secEpisodes...)
	}
	return episodes, nil
}

// ShowLabels returns the labels attached to a show.
func (c *Client) ShowLabels(ctx context.Context, showKey string) ([]string, error) {
	showKey = strings.TrimPrefix(showKey, "/library/metadata/")
	showKey = strings.TrimSuffix(showKey, "/children")

	var resp metadataResponse
	if err := c.getJSON(ctx, "/library/metadata/"+showKey, nil, &resp); err != nil {
		return nil, err
	}
	if len(resp.MediaContainer.Metadata) == 0 {
		return nil, fmt.Errorf("no metadata for show %s: %w", showKey, autolang.ErrNotFound)
	}

	labels := make([]string, 0, len(resp.MediaContainer.Metadata[0].Label))
	for _, label := range resp.MediaContainer.Metadata[0].Label {
		labels = append(labels, label.Tag)
	}
	return labels, nil
}

// LastWatchedOrFirstEpisode returns the most recently positioned
// watched episode of a show, or its first episode when nothing has
// been watched yet.
func (c *Client) LastWatchedOrFirstEpisode(ctx context.Context, showKey string) (*autolang.Episode, error) {
	episodes, err := c.ShowEpisodes(ctx, showKey)
	if err != nil {
		return nil, err
	}
	if len(episodes) == 0 {
		return nil, fmt.Errorf("show %s has no episodes: %w", showKey, autolang.ErrNotFound)
	}

	sort.SliceStable(episodes, func(i, j int) bool {
		if episodes[i].SeasonNumber != episodes[j].SeasonNumber {
			return episodes[i].SeasonNumber < episodes[j].SeasonNumber
		}
		return episodes[i].EpisodeNumber < episodes[j].EpisodeNumber
	})

	var lastWatched *autolang.Episode
	for i := range episodes {
		if episodes[i].Watched {
			lastWatched = &episodes[i]
		}
	}
	if lastWatched != nil {
		return lastWatched, nil
	}
	return &episodes[0], nil
}

// SetDefaultAudioStream selects the default audio stream of a part.
func (c *Client) SetDefaultAudioStream(ctx context.Context, partID, streamID int) error {
	params := url.Values{"audioStreamID": {strconv.Itoa(streamID)}}
	return c.put(ctx, fmt.Sprintf("/library/parts/%d", partID), params)
}

// SetDefaultSubtitleStream selects the default subtitle stream of a part.
func (c *Client) SetDefaultSubtitleStream(ctx context.Context, partID, streamID int) error {
	params := url.Values{"subtitleStreamID": {strconv.Itoa(streamID)}}
	return c.put(ctx, fmt.Sprintf("/library/parts/%d", partID), params)
}

// ResetDefaultSubtitleStream disables subtitles on a part.
func (c *Client) ResetDefaultSubtitleStream(ctx context.Context, partID int) error {
	return c.SetDefaultSubtitleStream(ctx, partID, 0)
}

func (c *Client) systemAccounts(ctx context.Context) ([]autolang.User, error) {
	c.mu.Lock()
	if c.accounts != nil {
		accounts := c.accounts
		c.mu.Unlock()
		return accounts, nil
	}
	c.mu.Unlock()

	var resp accountsResponse
	if err := c.getJSON(ctx, "/accounts", nil, &resp); err != nil {
		return nil, err
	}

	accounts := make([]autolang.User, 0, len(resp.MediaContainer.Account))
	for _, acc := range resp.MediaContainer.Account {
		accounts = append(accounts, autolang.User{
			ID:   strconv.FormatInt(acc.ID, 10),
			Name: acc.Name,
		})
	}

	c.mu.Lock()
	c.accounts = accounts
	c.mu.Unlock()
	return accounts, nil
}

// UserByID resolves a system account by its identifier.
func (c *Client) UserByID(ctx context.Context, userID string) (*autolang.User, error) {
	accounts, err := c.systemAccounts(ctx)
	if err != nil {
		return nil, err
	}
	for i := range accounts {
		if accounts[i].ID == userID {
			return &accounts[i], nil
		}
	}
	return nil, fmt.Errorf("account %s: %w", userID, autolang.ErrUserNotFound)
}

// AllUserIDs returns the identifiers of every user account on the
// server, excluding the internal system account.
func (c *Client) AllUserIDs(ctx context.Context) ([]string, error) {
	accounts, err := c.systemAccounts(ctx)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(accounts))
	for _, acc := range accounts {
		if acc.ID == "0" {
			continue
		}
		ids = append(ids, acc.ID)
	}
	return ids, nil
}

// UserFromClient resolves the user currently playing on the given
// player, using the active sessions list.
func (c *Client) UserFromClient(ctx context.Context, clientIdentifier string) (*autolang.User, error) {
	var resp sessionsResponse
	if err := c.getJSON(ctx, "/status/sessions", nil, &resp); err != nil {
		return nil, err
	}

	for _, sess := range resp.MediaContainer.Metadata {
		if sess.Player.MachineIdentifier == clientIdentifier {
			return &autolang.User{ID: sess.User.ID, Name: sess.User.Title}, nil
		}
	}
	return nil, fmt.Errorf("client %s: %w", clientIdentifier, autolang.ErrUserNotFound)
}

// InstanceOfUser returns a view of the server library scoped to the
// given user. The owner gets the client itself; managed and shared
// users get a client authenticated with their own access token.
func (c *Client) InstanceOfUser(ctx context.Context, userID string) (autolang.UserMedia, error) {
	c.mu.Lock()
	self := c.self
	if instance, ok := c.instances[userID]; ok {
		c.mu.Unlock()
		return instance, nil
	}
	c.mu.Unlock()

	if self != nil && self.ID == userID {
		return c, nil
	}

	machineID, err := c.MachineIdentifier(ctx)
	if err != nil {
		return nil, err
	}

	token, err := c.plexTV.userToken(ctx, c.token, userID, machineID)
	if err != nil {
		return nil, err
	}

	instance := &Client{
		baseURL:   c.baseURL,
		token:     token,
		http:      c.http,
		plexTV:    c.plexTV,
		instances: make(map[string]*Client),
	}

	c.mu.Lock()
	c.instances[userID] = instance
	c.mu.Unlock()
	return instance, nil
}

// History returns the episode watch history since the given time,
// across all users.
func (c *Client) History(ctx context.Context, since time.Time) ([]autolang.HistoryEntry, error) {
	params := url.Values{
		"viewedAt>": {strconv.FormatInt(since.Unix(), 10)},
		"sort":      {"viewedAt:asc"},
	}

	var resp metadataResponse
	if err := c.getJSON(ctx, "/status/sessions/history/all", params, &resp); err != nil {
		return nil, err
	}

	entries := make([]autolang.HistoryEntry, 0, len(resp.MediaContainer.Metadata))
	for _, meta := range resp.MediaContainer.Metadata {
		if meta.Type != mediaTypeEpisode {
			continue
		}
		entries = append(entries, autolang.HistoryEntry{
			RatingKey: meta.RatingKey,
			AccountID: strconv.FormatInt(meta.AccountID, 10),
			ViewedAt:  time.Unix(meta.ViewedAt, 0),
		})
	}
	return entries, nil
}
