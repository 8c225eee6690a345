package stages

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/kunzeritter/manual2vector/internal/domain"
	"github.com/kunzeritter/manual2vector/internal/store"
)

var urlPattern = regexp.MustCompile(`https?://[^\s)\]}>"']+`)

var videoHosts = map[string]bool{
	"youtube.com":     true,
	"www.youtube.com": true,
	"youtu.be":        true,
	"vimeo.com":       true,
	"www.vimeo.com":   true,
}

// LinkExtraction is the link_extraction stage (spec §4.E): scans every
// chunk's text for URLs, categorizes each, and for video links resolves
// platform+video id through findOrCreateVideo.
type LinkExtraction struct {
	deps Deps
}

func NewLinkExtraction(deps Deps) *LinkExtraction { return &LinkExtraction{deps: deps} }

func (l *LinkExtraction) Stage() domain.StageName { return domain.StageLinkExtraction }

func (l *LinkExtraction) Precheck(ctx context.Context, doc domain.Document) (bool, error) {
	return l.deps.alreadyDone(ctx, doc.ID, l.Stage())
}

func (l *LinkExtraction) Process(ctx context.Context, doc domain.Document) (map[string]any, error) {
	chunks, err := l.deps.Gateway.Chunks.List(ctx, store.ListOpts{
		Filter: map[string]any{"document_id": doc.ID},
		Limit:  10000,
	})
	if err != nil {
		return nil, fmt.Errorf("link_extraction: list chunks: %w", err)
	}

	seen := make(map[string]bool)
	for _, chunk := range chunks {
		for _, raw := range urlPattern.FindAllString(chunk.Text, -1) {
			if seen[raw] {
				continue
			}
			seen[raw] = true

			link, err := l.classify(ctx, doc, raw)
			if err != nil {
				return nil, fmt.Errorf("link_extraction: classify %s: %w", raw, err)
			}
			if _, err := l.deps.Gateway.Links.Create(ctx, link); err != nil {
				return nil, fmt.Errorf("link_extraction: persist %s: %w", raw, err)
			}
		}
	}
	return nil, nil
}

func (l *LinkExtraction) classify(ctx context.Context, doc domain.Document, raw string) (domain.Link, error) {
	link := domain.Link{
		ID:         newID(),
		DocumentID: doc.ID,
		URL:        raw,
		CreatedAt:  l.deps.now(),
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		link.Category = domain.LinkExternal
		link.ConfidenceScore = 0.5
		return link, nil
	}
	host := strings.ToLower(parsed.Host)

	switch {
	case videoHosts[host]:
		link.Category = domain.LinkVideo
		link.ConfidenceScore = 0.9
		platform, videoID := platformVideoID(host, parsed)
		if platform == "" || videoID == "" {
			return link, nil
		}
		video := domain.Video{
			ID:              newID(),
			Platform:        platform,
			PlatformVideoID: videoID,
		}
		if l.deps.VideoMeta != nil {
			if meta, err := l.deps.VideoMeta.Enrich(ctx, platform, videoID); err == nil {
				video.Title = meta.Title
				video.DurationSeconds = meta.DurationSeconds
				video.ThumbnailURL = meta.ThumbnailURL
				video.ChannelTitle = meta.ChannelTitle
			}
		}
		stored, err := l.deps.Gateway.FindOrCreateVideo(ctx, video)
		if err != nil {
			return domain.Link{}, err
		}
		link.VideoID = stored.ID
		// Manufacturer/series denormalization happens later, in
		// series_detection: link_extraction runs before classification
		// in the stage graph, so doc.ManufacturerID is never known here.
		if l.deps.Graph != nil {
			if err := l.deps.Graph.LinkVideoToDocument(ctx, stored.ID, doc.ID); err != nil {
				return domain.Link{}, err
			}
		}
	case strings.Contains(strings.ToLower(raw), "support"):
		link.Category = domain.LinkSupport
		link.ConfidenceScore = 0.7
	case strings.Contains(strings.ToLower(raw), "download") || strings.HasSuffix(parsed.Path, ".zip") || strings.HasSuffix(parsed.Path, ".exe"):
		link.Category = domain.LinkDownload
		link.ConfidenceScore = 0.7
	case strings.Contains(strings.ToLower(raw), "tutorial") || strings.Contains(strings.ToLower(raw), "how-to"):
		link.Category = domain.LinkTutorial
		link.ConfidenceScore = 0.6
	default:
		link.Category = domain.LinkExternal
		link.ConfidenceScore = 0.5
	}
	return link, nil
}

// platformVideoID extracts the platform name and platform-native video
// id from a known video host's URL.
func platformVideoID(host string, u *url.URL) (platform, videoID string) {
	switch {
	case host == "youtu.be":
		return "youtube", strings.Trim(u.Path, "/")
	case strings.HasSuffix(host, "youtube.com"):
		if v := u.Query().Get("v"); v != "" {
			return "youtube", v
		}
		return "", ""
	case strings.HasSuffix(host, "vimeo.com"):
		return "vimeo", strings.Trim(u.Path, "/")
	default:
		return "", ""
	}
}
