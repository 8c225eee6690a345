package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// YouTubeMetadataService resolves YouTube video ids via the Data API v3
// videos.list endpoint, grounded on the teacher's own YouTubeScraper
// (same http.Client/query-param/JSON-decode shape, retargeted from
// search results to a single video lookup since link_extraction already
// has the video id from the URL).
type YouTubeMetadataService struct {
	apiKey string
	client *http.Client
}

// NewYouTubeMetadataService constructs a client. An empty apiKey makes
// every Enrich call fail, which callers treat as graceful degradation
// per the spec's "absence must downgrade gracefully" rule for optional
// collaborators.
func NewYouTubeMetadataService(apiKey string) *YouTubeMetadataService {
	return &YouTubeMetadataService{apiKey: apiKey, client: &http.Client{Timeout: 15 * time.Second}}
}

type videosListResponse struct {
	Items []struct {
		Snippet struct {
			Title        string `json:"title"`
			ChannelTitle string `json:"channelTitle"`
			Thumbnails   struct {
				High struct {
					URL string `json:"url"`
				} `json:"high"`
			} `json:"thumbnails"`
		} `json:"snippet"`
		ContentDetails struct {
			Duration string `json:"duration"`
		} `json:"contentDetails"`
	} `json:"items"`
}

// Enrich looks up metadata for a YouTube video id. Other platforms
// return an error — this service only knows the YouTube API.
func (y *YouTubeMetadataService) Enrich(ctx context.Context, platform, platformVideoID string) (VideoMeta, error) {
	if platform != "youtube" {
		return VideoMeta{}, fmt.Errorf("youtube metadata service: unsupported platform %q", platform)
	}
	if y.apiKey == "" {
		return VideoMeta{}, fmt.Errorf("youtube metadata service: no API key configured")
	}

	params := url.Values{
		"part": {"snippet,contentDetails"},
		"id":   {platformVideoID},
		"key":  {y.apiKey},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		"https://www.googleapis.com/youtube/v3/videos?"+params.Encode(), nil)
	if err != nil {
		return VideoMeta{}, fmt.Errorf("build request: %w", err)
	}

	resp, err := y.client.Do(req)
	if err != nil {
		return VideoMeta{}, fmt.Errorf("youtube videos.list: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return VideoMeta{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return VideoMeta{}, fmt.Errorf("youtube videos.list returned %d: %s", resp.StatusCode, string(body))
	}

	var out videosListResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return VideoMeta{}, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Items) == 0 {
		return VideoMeta{}, fmt.Errorf("youtube video %q not found", platformVideoID)
	}

	item := out.Items[0]
	return VideoMeta{
		Platform:        platform,
		PlatformVideoID: platformVideoID,
		Title:           item.Snippet.Title,
		ChannelTitle:    item.Snippet.ChannelTitle,
		ThumbnailURL:    item.Snippet.Thumbnails.High.URL,
		DurationSeconds: parseISO8601Duration(item.ContentDetails.Duration),
	}, nil
}

// parseISO8601Duration parses the subset of ISO 8601 durations the
// YouTube API returns (PT#H#M#S) into whole seconds.
func parseISO8601Duration(s string) int {
	if len(s) < 2 || s[0] != 'P' {
		return 0
	}
	s = s[1:]
	if len(s) > 0 && s[0] == 'T' {
		s = s[1:]
	}
	var total, num int
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			num = num*10 + int(r-'0')
		case r == 'H':
			total += num * 3600
			num = 0
		case r == 'M':
			total += num * 60
			num = 0
		case r == 'S':
			total += num
			num = 0
		default:
			num = 0
		}
	}
	return total
}
