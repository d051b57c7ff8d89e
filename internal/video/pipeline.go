// SPDX-License-Identifier: MIT

package video

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/rabbitize/rabbitize/internal/artifacts"
	"github.com/rabbitize/rabbitize/internal/log"
	"github.com/rabbitize/rabbitize/internal/metrics"
)

// sceneThreshold is the scene-change score cut-off on the tracking-pixel
// region. The overlay paints hard color transitions there, so a modest
// threshold is enough.
const sceneThreshold = 0.15

// clipWorkers bounds concurrent clip encodes.
const clipWorkers = 3

// PipelineOptions selects the optional stages.
type PipelineOptions struct {
	ClipSegments bool

	// VideoStartMS anchors command timestamps to the recording clock.
	VideoStartMS int64
}

// ClipEntry is one row of clip_mapping.json.
type ClipEntry struct {
	Clip         string  `json:"clip"`
	CommandIndex int     `json:"commandIndex"`
	Verb         string  `json:"verb"`
	Start        float64 `json:"start"`
	End          float64 `json:"end"`
}

// TimestampEntry is one row of timestamp_mapping.json.
type TimestampEntry struct {
	CommandIndex int     `json:"commandIndex"`
	Verb         string  `json:"verb"`
	Start        float64 `json:"start"`
	End          float64 `json:"end"`
	MP4          string  `json:"mp4,omitempty"`
	GIF          string  `json:"gif,omitempty"`
}

// Pipeline drives the post-session stages against one session tree.
type Pipeline struct {
	enc    Encoder
	tree   *artifacts.Tree
	logger zerolog.Logger

	// SetPhase publishes pipeline progress to status.json; optional.
	SetPhase func(phase string)
}

// NewPipeline binds an encoder to a session tree.
func NewPipeline(enc Encoder, tree *artifacts.Tree) *Pipeline {
	return &Pipeline{
		enc:    enc,
		tree:   tree,
		logger: log.WithSession("video", tree.ClientID, tree.TestID, tree.SessionID),
	}
}

func (p *Pipeline) phase(name string) {
	if p.SetPhase != nil {
		p.SetPhase(name)
	}
}

func (p *Pipeline) stage(name string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
		p.logger.Warn().Err(err).Str("stage", name).Msg("pipeline stage failed")
	}
	metrics.VideoJobsTotal.WithLabelValues(name, outcome).Inc()
}

// Process runs conversion, covers, optional clip segmentation, per-command
// cuts and the 4x version. It returns an error only when the primary mp4
// conversion fails; every later stage degrades to a warning.
func (p *Pipeline) Process(ctx context.Context, records []artifacts.CommandRecord, opts PipelineOptions) error {
	raw := p.tree.RawVideo()
	if _, err := os.Stat(raw); err != nil {
		return fmt.Errorf("no recording at %s: %w", raw, err)
	}
	for _, d := range []string{
		p.tree.ClipsDir(), p.tree.CommandVideosDir(),
		p.tree.CommandGIFsDir(), p.tree.CommandsTSDir(),
	} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", d, err)
		}
	}

	p.phase("converting_to_mp4")
	mp4 := p.tree.SessionMP4()
	_, err := p.enc.Run(ctx, ConvertArgs(raw, mp4))
	p.stage("convert", err)
	if err != nil {
		return fmt.Errorf("convert recording: %w", err)
	}

	p.covers(ctx, mp4)

	if opts.ClipSegments {
		p.phase("extracting_clips")
		if err := p.sceneClips(ctx, mp4, records, opts.VideoStartMS); err != nil {
			p.logger.Warn().Err(err).Msg("scene clip extraction failed")
		}
	}

	p.phase("cutting_command_videos")
	p.timestampCuts(ctx, mp4, records, opts.VideoStartMS)

	p.phase("creating_4x_video_version")
	_, err = p.enc.Run(ctx, SpeedArgs(mp4, p.tree.Session4xMP4()))
	p.stage("speed4x", err)

	return nil
}

// covers writes cover.gif with a single-frame cover.jpg fallback.
func (p *Pipeline) covers(ctx context.Context, mp4 string) {
	_, err := p.enc.Run(ctx, CoverGIFArgs(mp4, p.tree.CoverGIF()))
	p.stage("cover_gif", err)
	if err == nil {
		return
	}
	_, err = p.enc.Run(ctx, CoverJPGArgs(mp4, p.tree.CoverJPG()))
	p.stage("cover_jpg", err)
}

// sceneClips splits the video on tracking-pixel scene changes and cuts one
// clip per scene, attributed to the command whose window contains it.
func (p *Pipeline) sceneClips(ctx context.Context, mp4 string, records []artifacts.CommandRecord, videoStartMS int64) error {
	stderr, err := p.enc.Run(ctx, SceneDetectArgs(mp4, sceneThreshold))
	p.stage("scene_detect", err)
	if err != nil {
		return err
	}
	times := ParseSceneTimes(stderr)
	if len(times) == 0 {
		p.logger.Info().Msg("no scene changes detected")
		return nil
	}
	sort.Float64s(times)

	// Scene boundaries become [start, end) windows.
	windows := make([][2]float64, 0, len(times))
	prev := 0.0
	for _, t := range times {
		if t > prev {
			windows = append(windows, [2]float64{prev, t})
		}
		prev = t
	}

	var (
		mapping []ClipEntry
		g, gctx = errgroup.WithContext(ctx)
	)
	g.SetLimit(clipWorkers)
	results := make([]ClipEntry, len(windows))

	for n, w := range windows {
		n, w := n, w
		g.Go(func() error {
			idx, verb := commandAt(records, w[0], videoStartMS)
			name := fmt.Sprintf("clip_%d_%d_%s.mp4", n, idx, artifacts.SanitizeVerb(verb))
			out := filepath.Join(p.tree.ClipsDir(), name)
			_, err := p.enc.Run(gctx, CutArgs(mp4, w[0], w[1], out))
			p.stage("clip", err)
			if err != nil {
				return nil // keep other clips going
			}
			results[n] = ClipEntry{Clip: name, CommandIndex: idx, Verb: verb, Start: w[0], End: w[1]}
			return nil
		})
	}
	g.Wait()

	for _, e := range results {
		if e.Clip == "" {
			continue
		}
		mapping = append(mapping, e)
		p.groupClip(ctx, mp4, e)
	}
	if mapping == nil {
		mapping = []ClipEntry{}
	}
	if err := artifacts.WriteJSONAtomic(p.tree.ClipMapping(), mapping); err != nil {
		p.logger.Warn().Err(err).Msg("writing clip mapping failed")
	}
	return nil
}

// groupClip files a scene clip under the per-command folders: the mp4 is
// copied into command_videos/ and a gif rendition of the same window goes
// to command_gifs/. Clip names already carry the command index and verb.
func (p *Pipeline) groupClip(ctx context.Context, mp4 string, e ClipEntry) {
	src := filepath.Join(p.tree.ClipsDir(), e.Clip)
	if _, err := artifacts.CopyFile(src, p.tree.CommandVideosDir()); err != nil {
		p.logger.Debug().Err(err).Msg("grouping clip failed")
	}

	gifOut := filepath.Join(p.tree.CommandGIFsDir(), strings.TrimSuffix(e.Clip, ".mp4")+".gif")
	_, err := p.enc.Run(ctx, GIFArgs(mp4, e.Start, e.End, gifOut))
	p.stage("clip_gif", err)
}

// timestampCuts cuts commands_ts/command_<i>.{mp4,gif} from the recorded
// command windows and writes timestamp_mapping.json.
func (p *Pipeline) timestampCuts(ctx context.Context, mp4 string, records []artifacts.CommandRecord, videoStartMS int64) {
	mapping := make([]TimestampEntry, 0, len(records))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(clipWorkers)
	entries := make([]TimestampEntry, len(records))

	for i, rec := range records {
		i, rec := i, rec
		start := float64(rec.Timestamp-videoStartMS) / 1000
		end := float64(rec.EndTimestamp-videoStartMS) / 1000
		if start < 0 {
			start = 0
		}
		if end <= start {
			continue
		}
		verb := ""
		if len(rec.Command) > 0 {
			verb = rec.Command[0]
		}
		g.Go(func() error {
			mp4Out := filepath.Join(p.tree.CommandsTSDir(), fmt.Sprintf("command_%d.mp4", rec.Index))
			gifOut := filepath.Join(p.tree.CommandsTSDir(), fmt.Sprintf("command_%d.gif", rec.Index))
			entry := TimestampEntry{CommandIndex: rec.Index, Verb: verb, Start: start, End: end}

			if _, err := p.enc.Run(gctx, CutArgs(mp4, start, end, mp4Out)); err == nil {
				entry.MP4 = filepath.Base(mp4Out)
			} else {
				p.stage("ts_cut", err)
			}
			if _, err := p.enc.Run(gctx, GIFArgs(mp4, start, end, gifOut)); err == nil {
				entry.GIF = filepath.Base(gifOut)
			} else {
				p.stage("ts_gif", err)
			}
			entries[i] = entry
			return nil
		})
	}
	g.Wait()

	for _, e := range entries {
		if e.MP4 == "" && e.GIF == "" {
			continue
		}
		mapping = append(mapping, e)
	}
	if err := artifacts.WriteJSONAtomic(p.tree.TimestampMapping(), mapping); err != nil {
		p.logger.Warn().Err(err).Msg("writing timestamp mapping failed")
	}
}

// commandAt finds the command whose window covers t seconds into the
// recording. Falls back to the nearest earlier command.
func commandAt(records []artifacts.CommandRecord, t float64, videoStartMS int64) (int, string) {
	idx, verb := 0, ""
	for _, rec := range records {
		start := float64(rec.Timestamp-videoStartMS) / 1000
		if start > t {
			break
		}
		idx = rec.Index
		if len(rec.Command) > 0 {
			verb = rec.Command[0]
		}
	}
	return idx, verb
}
