package store

import (
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kunzeritter/manual2vector/internal/domain"
)

var videoColumns = []string{
	"id", "platform", "platform_video_id", "title", "duration_seconds",
	"thumbnail_url", "channel_title", "created_at",
}

func newVideoRepo(pool *pgxpool.Pool) *Repo[domain.Video, string] {
	return NewRepo[domain.Video, string](pool, "content.videos", videoColumns,
		func(v domain.Video) map[string]any {
			return map[string]any{
				"id": v.ID, "platform": v.Platform, "platform_video_id": v.PlatformVideoID,
				"title": v.Title, "duration_seconds": v.DurationSeconds,
				"thumbnail_url": v.ThumbnailURL, "channel_title": v.ChannelTitle,
				"created_at": v.CreatedAt,
			}
		},
		func(rows pgx.Rows) (domain.Video, error) {
			var v domain.Video
			err := rows.Scan(&v.ID, &v.Platform, &v.PlatformVideoID, &v.Title, &v.DurationSeconds,
				&v.ThumbnailURL, &v.ChannelTitle, &v.CreatedAt)
			return v, err
		},
		WithFilterableColumns[domain.Video, string]("platform"),
	)
}
