// SPDX-License-Identifier: MIT

package video

import (
	"fmt"
	"strconv"
)

// common prefix silencing banner output and overwriting targets.
func base() []string {
	return []string{"-hide_banner", "-loglevel", "error", "-y"}
}

// ConvertArgs builds the webm to mp4 conversion tuned for screen content.
func ConvertArgs(in, out string) []string {
	return append(base(),
		"-i", in,
		"-c:v", "libx264",
		"-preset", "medium",
		"-tune", "film",
		"-crf", "28",
		"-maxrate", "2M",
		"-bufsize", "16M",
		"-g", "30",
		"-bf", "2",
		"-movflags", "+faststart",
		"-an",
		out,
	)
}

// CoverGIFArgs builds the 47s, 200px square, 12fps palette-optimized cover.
func CoverGIFArgs(in, out string) []string {
	filter := "fps=12,scale=200:200:force_original_aspect_ratio=increase:flags=lanczos," +
		"crop=200:200,split[a][b];[a]palettegen[p];[b][p]paletteuse=dither=sierra2_4a"
	return append(base(),
		"-t", "47",
		"-i", in,
		"-vf", filter,
		out,
	)
}

// CoverJPGArgs grabs a single frame as the fallback cover.
func CoverJPGArgs(in, out string) []string {
	return append(base(),
		"-i", in,
		"-vframes", "1",
		"-q:v", "3",
		out,
	)
}

// SpeedArgs builds the 4x-speed version.
func SpeedArgs(in, out string) []string {
	return append(base(),
		"-i", in,
		"-vf", "setpts=0.25*PTS",
		"-c:v", "libx264",
		"-preset", "medium",
		"-crf", "28",
		"-movflags", "+faststart",
		"-an",
		out,
	)
}

// SceneDetectArgs inspects only the tracking-pixel corner (bottom-right
// 4x4) so scene cuts land exactly on command boundaries painted by the
// overlay. Output is discarded; showinfo timestamps land on stderr.
func SceneDetectArgs(in string, threshold float64) []string {
	filter := fmt.Sprintf("crop=4:4:iw-4:ih-4,select='gt(scene,%g)',showinfo", threshold)
	return []string{
		"-hide_banner",
		"-i", in,
		"-vf", filter,
		"-f", "null", "-",
	}
}

// CutArgs extracts [start, end) seconds into an mp4 clip.
func CutArgs(in string, start, end float64, out string) []string {
	return append(base(),
		"-ss", formatSeconds(start),
		"-to", formatSeconds(end),
		"-i", in,
		"-c:v", "libx264",
		"-preset", "medium",
		"-crf", "28",
		"-movflags", "+faststart",
		"-an",
		out,
	)
}

// GIFArgs renders a cut as a small looping gif.
func GIFArgs(in string, start, end float64, out string) []string {
	return append(base(),
		"-ss", formatSeconds(start),
		"-to", formatSeconds(end),
		"-i", in,
		"-vf", "fps=8,scale=320:-1:flags=lanczos",
		out,
	)
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}
