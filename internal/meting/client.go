package meting

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/studybeats/internal/mtypes"
	"github.com/tidwall/gjson"
)

// Defaults for the public Meting instance.
const (
	DefaultAPI        = "https://api.injahow.cn/meting/"
	DefaultPlaylistID = "17543418420"
	DefaultPlatform   = "netease"
	DefaultTimeout    = 15 * time.Second
)

// Platform is a music service the API can proxy.
type Platform struct {
	Value string
	Label string
}

// Platforms lists the supported services.
var Platforms = []Platform{
	{Value: "netease", Label: "NetEase Cloud Music"},
	{Value: "tencent", Label: "QQ Music"},
	{Value: "kugou", Label: "Kugou"},
	{Value: "kuwo", Label: "Kuwo"},
}

// ValidPlatform reports whether p is a supported platform value.
func ValidPlatform(p string) bool {
	for _, pl := range Platforms {
		if pl.Value == p {
			return true
		}
	}
	return false
}

// Config configures a Client.
type Config struct {
	API        string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *log.Logger
}

// Client talks to a Meting API instance.
type Client struct {
	api    string
	http   *http.Client
	logger *log.Logger
}

// NewClient creates a client. Zero fields fall back to the defaults.
func NewClient(cfg Config) *Client {
	c := &Client{api: cfg.API, http: cfg.HTTPClient, logger: cfg.Logger}
	if c.api == "" {
		c.api = DefaultAPI
	}
	if c.http == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		c.http = &http.Client{Timeout: timeout}
	}
	if c.logger == nil {
		c.logger = log.Default().WithPrefix("meting")
	}
	return c
}

// FetchPlaylist returns the playlist songs, or an empty slice when the
// request fails or the playlist is empty. Errors are logged.
func (c *Client) FetchPlaylist(ctx context.Context, server, id string) []mtypes.Song {
	songs, err := c.Fetch(ctx, server, id)
	if err != nil {
		c.logger.Error("failed to fetch playlist", "server", server, "id", id, "error", err)
		return []mtypes.Song{}
	}
	return songs
}

// Fetch requests a playlist and maps the payload onto songs.
func (c *Client) Fetch(ctx context.Context, server, id string) ([]mtypes.Song, error) {
	if server == "" {
		server = DefaultPlatform
	}
	if id == "" {
		id = DefaultPlaylistID
	}

	endpoint, err := url.Parse(c.api)
	if err != nil {
		return nil, mtypes.E(mtypes.KindInvalidInput, "fetch playlist", c.api, err)
	}
	q := endpoint.Query()
	q.Set("server", server)
	q.Set("type", "playlist")
	q.Set("id", id)
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, mtypes.E(mtypes.KindInvalidInput, "fetch playlist", endpoint.String(), err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, mtypes.E(mtypes.KindTransportFailure, "fetch playlist", endpoint.String(), err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, mtypes.E(mtypes.KindTransportFailure, "fetch playlist", endpoint.String(),
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, mtypes.E(mtypes.KindTransportFailure, "fetch playlist", endpoint.String(), err)
	}

	songs, err := parsePlaylist(body)
	if err != nil {
		return nil, mtypes.E(mtypes.KindTransportFailure, "fetch playlist", endpoint.String(), err)
	}
	c.logger.Debug("fetched playlist", "server", server, "id", id, "songs", len(songs))
	return songs, nil
}

// parsePlaylist maps a Meting payload. Titles fall back to name, authors to
// artist and pictures to cover.
func parsePlaylist(body []byte) ([]mtypes.Song, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("invalid JSON payload")
	}
	result := gjson.ParseBytes(body)
	if !result.IsArray() {
		return nil, fmt.Errorf("payload is not a list")
	}

	songs := []mtypes.Song{}
	result.ForEach(func(_, item gjson.Result) bool {
		songs = append(songs, mtypes.Song{
			Name:   firstString(item, "title", "name"),
			Artist: firstString(item, "author", "artist"),
			URL:    item.Get("url").String(),
			Cover:  firstString(item, "pic", "cover"),
			Lyrics: item.Get("lrc").String(),
		})
		return true
	})
	return songs, nil
}

func firstString(item gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := item.Get(p).String(); v != "" {
			return v
		}
	}
	return ""
}
