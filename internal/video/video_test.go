// SPDX-License-Identifier: MIT

package video

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rabbitize/rabbitize/internal/artifacts"
)

func TestConvertArgs(t *testing.T) {
	args := ConvertArgs("in.webm", "out.mp4")
	joined := strings.Join(args, " ")
	for _, want := range []string{
		"-i in.webm",
		"-c:v libx264",
		"-preset medium",
		"-tune film",
		"-crf 28",
		"-maxrate 2M",
		"-bufsize 16M",
		"-g 30",
		"-bf 2",
		"-movflags +faststart",
		"out.mp4",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("convert args missing %q in %q", want, joined)
		}
	}
}

func TestCoverGIFArgs(t *testing.T) {
	joined := strings.Join(CoverGIFArgs("s.mp4", "cover.gif"), " ")
	for _, want := range []string{"-t 47", "fps=12", "scale=200:200", "lanczos", "palettegen", "sierra2_4a"} {
		if !strings.Contains(joined, want) {
			t.Errorf("cover gif args missing %q", want)
		}
	}
}

func TestSceneDetectArgsTargetsTrackingPixel(t *testing.T) {
	joined := strings.Join(SceneDetectArgs("s.mp4", 0.15), " ")
	for _, want := range []string{"crop=4:4:iw-4:ih-4", "gt(scene,0.15)", "showinfo", "-f null"} {
		if !strings.Contains(joined, want) {
			t.Errorf("scene args missing %q in %q", want, joined)
		}
	}
}

func TestSpeedArgs(t *testing.T) {
	joined := strings.Join(SpeedArgs("s.mp4", "s_4x.mp4"), " ")
	if !strings.Contains(joined, "setpts=0.25*PTS") {
		t.Errorf("speed args missing setpts filter: %q", joined)
	}
}

func TestCutArgsFormatsSeconds(t *testing.T) {
	joined := strings.Join(CutArgs("s.mp4", 1.5, 3.25, "c.mp4"), " ")
	if !strings.Contains(joined, "-ss 1.500") || !strings.Contains(joined, "-to 3.250") {
		t.Errorf("cut args = %q", joined)
	}
}

func TestParseSceneTimes(t *testing.T) {
	stderr := `
[Parsed_showinfo_2 @ 0x1] n:   0 pts:  12345 pts_time:2.4     duration:1
[Parsed_showinfo_2 @ 0x1] n:   1 pts:  45678 pts_time:7.125   duration:1
random noise line
[Parsed_showinfo_2 @ 0x1] n:   2 pts:  99999 pts_time:12      duration:1
`
	got := ParseSceneTimes(stderr)
	want := []float64{2.4, 7.125, 12}
	if len(got) != len(want) {
		t.Fatalf("parsed %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("time %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestClassifyStderr(t *testing.T) {
	stderr := "frame=  100\nout.mp4: Permission denied\n"
	if got := classifyStderr(stderr); got != "out.mp4: Permission denied" {
		t.Errorf("classify = %q", got)
	}
	if got := classifyStderr(""); got != "no diagnostic output" {
		t.Errorf("empty classify = %q", got)
	}
}

// fakeEncoder records invocations and serves canned scene-detect output.
type fakeEncoder struct {
	mu         sync.Mutex
	runs       [][]string
	sceneTimes string
	failStages []string
}

func (f *fakeEncoder) Run(ctx context.Context, args []string) (string, error) {
	f.mu.Lock()
	f.runs = append(f.runs, args)
	f.mu.Unlock()

	joined := strings.Join(args, " ")
	for _, stage := range f.failStages {
		if strings.Contains(joined, stage) {
			return "", fmt.Errorf("fake failure for %s", stage)
		}
	}
	if strings.Contains(joined, "showinfo") {
		return f.sceneTimes, nil
	}
	// Encodes that produce an output file create it so later stages see it.
	out := args[len(args)-1]
	if out != "-" {
		os.WriteFile(out, []byte("video"), 0o644)
	}
	return "", nil
}

func (f *fakeEncoder) invocations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.runs))
	for i, r := range f.runs {
		out[i] = strings.Join(r, " ")
	}
	return out
}

func pipelineFixture(t *testing.T) (*Pipeline, *fakeEncoder, *artifacts.Tree) {
	t.Helper()
	tree := &artifacts.Tree{
		RunsDir:   t.TempDir(),
		ClientID:  "client",
		TestID:    "test",
		SessionID: "2026-01-02T03-04-05-000Z",
	}
	if err := tree.Init(); err != nil {
		t.Fatalf("init tree: %v", err)
	}
	if err := os.WriteFile(tree.RawVideo(), []byte("webm"), 0o644); err != nil {
		t.Fatalf("seed raw video: %v", err)
	}
	enc := &fakeEncoder{}
	return NewPipeline(enc, tree), enc, tree
}

func testRecords() []artifacts.CommandRecord {
	return []artifacts.CommandRecord{
		{Index: 0, Command: []string{":url", "https://example.com"}, Timestamp: 1000, EndTimestamp: 3000},
		{Index: 1, Command: []string{":click"}, Timestamp: 4000, EndTimestamp: 5500},
	}
}

func TestPipelineProcessFullRun(t *testing.T) {
	p, enc, tree := pipelineFixture(t)
	enc.sceneTimes = "pts_time:4.2\npts_time:6.0\n"

	var phases []string
	p.SetPhase = func(s string) { phases = append(phases, s) }

	err := p.Process(context.Background(), testRecords(), PipelineOptions{
		ClipSegments: true,
		VideoStartMS: 0,
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	if _, err := os.Stat(tree.SessionMP4()); err != nil {
		t.Errorf("session.mp4 missing: %v", err)
	}
	if _, err := os.Stat(tree.Session4xMP4()); err != nil {
		t.Errorf("4x version missing: %v", err)
	}
	if _, err := os.Stat(tree.CoverGIF()); err != nil {
		t.Errorf("cover.gif missing: %v", err)
	}

	var clips []ClipEntry
	readJSON(t, tree.ClipMapping(), &clips)
	if len(clips) != 2 {
		t.Fatalf("clip mapping has %d entries, want 2", len(clips))
	}
	if clips[0].CommandIndex != 0 || clips[1].CommandIndex != 1 {
		t.Errorf("clip attribution wrong: %+v", clips)
	}
	if !strings.HasPrefix(clips[1].Clip, "clip_1_1_click") {
		t.Errorf("clip name = %q", clips[1].Clip)
	}
	for _, c := range clips {
		if _, err := os.Stat(filepath.Join(tree.CommandVideosDir(), c.Clip)); err != nil {
			t.Errorf("clip %s not grouped under command_videos: %v", c.Clip, err)
		}
		gif := strings.TrimSuffix(c.Clip, ".mp4") + ".gif"
		if _, err := os.Stat(filepath.Join(tree.CommandGIFsDir(), gif)); err != nil {
			t.Errorf("gif %s not grouped under command_gifs: %v", gif, err)
		}
	}

	var ts []TimestampEntry
	readJSON(t, tree.TimestampMapping(), &ts)
	if len(ts) != 2 {
		t.Fatalf("timestamp mapping has %d entries, want 2", len(ts))
	}
	if ts[0].Start != 1.0 || ts[0].End != 3.0 {
		t.Errorf("command 0 window = %v..%v", ts[0].Start, ts[0].End)
	}

	// Phase order matters for dashboard readers.
	joined := strings.Join(phases, ",")
	if !strings.Contains(joined, "converting_to_mp4") ||
		!strings.Contains(joined, "creating_4x_video_version") {
		t.Errorf("phases = %v", phases)
	}
}

func TestPipelineCoverFallsBackToJPG(t *testing.T) {
	p, enc, tree := pipelineFixture(t)
	enc.failStages = []string{"palettegen"}

	err := p.Process(context.Background(), nil, PipelineOptions{})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if _, err := os.Stat(tree.CoverJPG()); err != nil {
		t.Errorf("cover.jpg fallback missing: %v", err)
	}
}

func TestPipelineFailsOnlyWhenConversionFails(t *testing.T) {
	p, enc, _ := pipelineFixture(t)
	enc.failStages = []string{"libx264"}

	if err := p.Process(context.Background(), nil, PipelineOptions{}); err == nil {
		t.Fatal("conversion failure must surface")
	}
}

func TestPipelineRequiresRecording(t *testing.T) {
	p, _, tree := pipelineFixture(t)
	os.Remove(tree.RawVideo())
	if err := p.Process(context.Background(), nil, PipelineOptions{}); err == nil {
		t.Fatal("missing recording must surface")
	}
}

func readJSON(t *testing.T, path string, v any) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("unmarshal %s: %v", path, err)
	}
}
