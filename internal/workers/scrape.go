// Package workers implements the Stage Worker Pool (C6): scrape,
// transcribe, summarize, and index, each behind the uniform Worker
// contract declared in internal/pipeline.
package workers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/autopiloot/corepipe/internal/domain"
	"github.com/autopiloot/corepipe/internal/ingesterr"
	"github.com/autopiloot/corepipe/internal/pipeline"
	"github.com/autopiloot/corepipe/internal/providers"
	"github.com/autopiloot/corepipe/internal/store"
)

// ScrapeWorker discovers and upserts video metadata from a channel or
// sheet source, generalizing the teacher's YouTubeScraper discovery pass
// into C6.1's discover-and-register step.
type ScrapeWorker struct {
	lister       providers.VideoLister
	sheets       providers.SheetReader
	videos       store.VideoStore
	maxDuration  int
	log          *slog.Logger
}

func NewScrapeWorker(lister providers.VideoLister, sheets providers.SheetReader, videos store.VideoStore, maxDurationSec int, log *slog.Logger) *ScrapeWorker {
	if maxDurationSec <= 0 {
		maxDurationSec = domain.MaxDurationSec
	}
	return &ScrapeWorker{lister: lister, sheets: sheets, videos: videos, maxDuration: maxDurationSec, log: log}
}

// Execute implements pipeline.Worker. job.Inputs carries either
// "channel_id" or "sheet_id" to select the discovery source.
func (w *ScrapeWorker) Execute(ctx context.Context, job pipeline.Job) pipeline.ExecResult {
	channelID, _ := job.Inputs["channel_id"].(string)
	sheetID, _ := job.Inputs["sheet_id"].(string)

	var metas []providers.VideoMeta
	switch {
	case channelID != "":
		since, _ := job.Inputs["since"].(time.Time)
		m, err := w.lister.ListChannel(ctx, channelID, since)
		if err != nil {
			return failed(err)
		}
		metas = m
	case sheetID != "" && w.sheets != nil:
		rows, err := w.sheets.ReadRows(ctx, sheetID)
		if err != nil {
			return failed(err)
		}
		for _, r := range rows {
			metas = append(metas, providers.VideoMeta{VideoID: r.VideoID})
		}
	default:
		return failed(ingesterr.Terminal("missing_source", fmt.Errorf("scrape: job has no channel_id or sheet_id")))
	}

	discovered := 0
	oversized := 0
	for _, m := range metas {
		if m.DurationSec > w.maxDuration {
			oversized++
			w.logOversized(m.VideoID, m.DurationSec)
			continue
		}
		v := domain.Video{
			VideoID:     m.VideoID,
			ChannelID:   m.ChannelID,
			Title:       m.Title,
			PublishedAt: m.PublishedAt,
			DurationSec: m.DurationSec,
			Source:      domain.VideoSourceChannelScrape,
		}
		if sheetID != "" {
			v.Source = domain.VideoSourceSheetBackfill
		}
		if err := domain.ValidateVideo(v, w.maxDuration); err != nil {
			oversized++
			w.logOversized(m.VideoID, m.DurationSec)
			continue
		}
		if _, err := w.videos.UpsertVideo(ctx, v); err != nil {
			return failed(fmt.Errorf("scrape: upsert %s: %w", m.VideoID, err))
		}
		discovered++
	}

	status := pipeline.ExecSuccess
	if oversized > 0 && discovered > 0 {
		status = pipeline.ExecPartial
	} else if oversized > 0 && discovered == 0 {
		status = pipeline.ExecPartial
	}

	return pipeline.ExecResult{
		Status:  status,
		Outputs: map[string]any{"discovered": discovered, "skipped_oversized": oversized},
	}
}

func failed(err error) pipeline.ExecResult {
	return pipeline.ExecResult{Status: pipeline.ExecFailed, Err: err}
}

// logOversized emits a per-video audit event when a discovered video is
// skipped for exceeding the duration cap (spec section 4's S2 scenario).
func (w *ScrapeWorker) logOversized(videoID string, durationSec int) {
	if w.log == nil {
		return
	}
	w.log.Warn("scrape.oversized_skip", "video_id", videoID, "duration_sec", durationSec)
}
