package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/autopiloot/corepipe/internal/ingesterr"
)

// YouTubeLister implements VideoLister against the YouTube Data API v3.
type YouTubeLister struct {
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewYouTubeLister constructs a lister rate-limited to stay well under the
// Data API's per-100-seconds quota.
func NewYouTubeLister(apiKey string) *YouTubeLister {
	return &YouTubeLister{
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Every(200*time.Millisecond), 5),
	}
}

type ytSearchResponse struct {
	Items []struct {
		ID struct {
			VideoID string `json:"videoId"`
		} `json:"id"`
		Snippet struct {
			Title        string `json:"title"`
			ChannelID    string `json:"channelId"`
			PublishedAt  string `json:"publishedAt"`
		} `json:"snippet"`
	} `json:"items"`
	Error *struct {
		Code int `json:"code"`
	} `json:"error"`
}

func (y *YouTubeLister) get(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	if err := y.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	params.Set("key", y.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := y.httpClient.Do(req)
	if err != nil {
		return nil, ingesterr.Transient("network_error", fmt.Errorf("youtube: request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		return nil, ingesterr.QuotaExceeded("quota_exhausted", fmt.Errorf("youtube: quota exhausted"))
	}
	if resp.StatusCode >= 500 {
		return nil, ingesterr.Transient("upstream_5xx", fmt.Errorf("youtube: status %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return nil, ingesterr.Terminal("upstream_4xx", fmt.Errorf("youtube: status %d", resp.StatusCode))
	}
	return io.ReadAll(resp.Body)
}

// Search implements VideoLister.
func (y *YouTubeLister) Search(ctx context.Context, query string, max int) ([]VideoMeta, error) {
	params := url.Values{
		"part":              {"snippet"},
		"q":                 {query},
		"type":              {"video"},
		"videoDuration":     {"medium"},
		"relevanceLanguage": {"en"},
		"maxResults":        {strconv.Itoa(max)},
	}
	body, err := y.get(ctx, "https://www.googleapis.com/youtube/v3/search", params)
	if err != nil {
		return nil, err
	}

	var sr ytSearchResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, ingesterr.Terminal("decode_error", fmt.Errorf("youtube: decode search response: %w", err))
	}

	videos := make([]VideoMeta, 0, len(sr.Items))
	for _, item := range sr.Items {
		pub, _ := time.Parse(time.RFC3339, item.Snippet.PublishedAt)
		videos = append(videos, VideoMeta{
			VideoID:     item.ID.VideoID,
			ChannelID:   item.Snippet.ChannelID,
			Title:       item.Snippet.Title,
			PublishedAt: pub,
		})
	}
	return videos, nil
}

type ytPlaylistItemsResponse struct {
	Items []struct {
		ContentDetails struct {
			VideoID          string `json:"videoId"`
			VideoPublishedAt string `json:"videoPublishedAt"`
		} `json:"contentDetails"`
		Snippet struct {
			Title string `json:"title"`
		} `json:"snippet"`
	} `json:"items"`
	NextPageToken string `json:"nextPageToken"`
}

type ytChannelsResponse struct {
	Items []struct {
		ContentDetails struct {
			RelatedPlaylists struct {
				Uploads string `json:"uploads"`
			} `json:"relatedPlaylists"`
		} `json:"contentDetails"`
	} `json:"items"`
}

// ListChannel implements VideoLister by resolving the channel's uploads
// playlist and paging its items, filtering to videos published since the
// given timestamp.
func (y *YouTubeLister) ListChannel(ctx context.Context, channelID string, since time.Time) ([]VideoMeta, error) {
	chBody, err := y.get(ctx, "https://www.googleapis.com/youtube/v3/channels", url.Values{
		"part": {"contentDetails"},
		"id":   {channelID},
	})
	if err != nil {
		return nil, err
	}
	var chResp ytChannelsResponse
	if err := json.Unmarshal(chBody, &chResp); err != nil {
		return nil, ingesterr.Terminal("decode_error", fmt.Errorf("youtube: decode channel response: %w", err))
	}
	if len(chResp.Items) == 0 {
		return nil, ingesterr.Terminal("not_found", fmt.Errorf("youtube: channel %s not found", channelID))
	}
	uploadsPlaylist := chResp.Items[0].ContentDetails.RelatedPlaylists.Uploads

	var videos []VideoMeta
	pageToken := ""
	for {
		params := url.Values{
			"part":       {"snippet,contentDetails"},
			"playlistId": {uploadsPlaylist},
			"maxResults": {"50"},
		}
		if pageToken != "" {
			params.Set("pageToken", pageToken)
		}
		body, err := y.get(ctx, "https://www.googleapis.com/youtube/v3/playlistItems", params)
		if err != nil {
			return videos, err
		}
		var pi ytPlaylistItemsResponse
		if err := json.Unmarshal(body, &pi); err != nil {
			return videos, ingesterr.Terminal("decode_error", fmt.Errorf("youtube: decode playlist response: %w", err))
		}

		stop := false
		for _, item := range pi.Items {
			pub, _ := time.Parse(time.RFC3339, item.ContentDetails.VideoPublishedAt)
			if !since.IsZero() && pub.Before(since) {
				stop = true
				continue
			}
			videos = append(videos, VideoMeta{
				VideoID:     item.ContentDetails.VideoID,
				ChannelID:   channelID,
				Title:       item.Snippet.Title,
				PublishedAt: pub,
			})
		}
		if stop || pi.NextPageToken == "" {
			break
		}
		pageToken = pi.NextPageToken
	}
	return videos, nil
}
