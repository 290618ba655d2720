package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Pipeline wraps the ffmpeg and HTTP-download operations the
// orchestrator needs to move rendered bytes onto disk and chain
// segments together.
type Pipeline struct {
	ffmpegPath string
	httpClient *http.Client
}

// NewPipeline creates a Pipeline. ffmpegPath may be a bare "ffmpeg" to
// resolve from $PATH, or an absolute path.
func NewPipeline(ffmpegPath string, downloadTimeout time.Duration) *Pipeline {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Pipeline{
		ffmpegPath: ffmpegPath,
		httpClient: &http.Client{Timeout: downloadTimeout},
	}
}

// Download fetches videoURL and writes it to outputPath. The body is
// written to a temp file in the same directory and renamed into place
// so a failed or interrupted download never leaves a partial file at
// outputPath.
func (p *Pipeline) Download(ctx context.Context, videoURL, outputPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, videoURL, nil)
	if err != nil {
		return err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("download video: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download video: unexpected status %d", resp.StatusCode)
	}

	tmp := outputPath + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write downloaded video: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close downloaded video: %w", err)
	}
	if err := os.Rename(tmp, outputPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("finalize downloaded video: %w", err)
	}

	log.Info().Str("url", videoURL).Str("path", outputPath).Msg("downloaded segment video")
	return nil
}

// ExtractLastFrame pulls the final frame of videoPath into a high
// quality JPEG at outputImagePath, seeking 0.1s before end-of-file so
// the demuxer has a decodable frame to land on. ffmpeg writes to a
// temp file first so a failed run never leaves a partial file at
// outputImagePath.
func (p *Pipeline) ExtractLastFrame(ctx context.Context, videoPath, outputImagePath string) error {
	// The temp name keeps a .jpg suffix so ffmpeg picks the JPEG
	// image muxer from it.
	tmp := outputImagePath + ".tmp.jpg"
	defer os.Remove(tmp)

	args := []string{
		"-y",
		"-sseof", "-0.1",
		"-i", videoPath,
		"-frames:v", "1",
		"-q:v", "2",
		tmp,
	}
	if err := p.run(ctx, args); err != nil {
		return fmt.Errorf("extract last frame: %w", err)
	}
	if _, err := os.Stat(tmp); err != nil {
		return fmt.Errorf("extract last frame: output missing: %w", err)
	}
	if err := os.Rename(tmp, outputImagePath); err != nil {
		return fmt.Errorf("extract last frame: finalize output: %w", err)
	}
	return nil
}

// Stitch concatenates videoPaths in order into outputPath. A single
// input is copied directly rather than run through ffmpeg's concat
// demuxer, which requires at least two inputs to be meaningful.
func (p *Pipeline) Stitch(ctx context.Context, videoPaths []string, outputPath string) error {
	if len(videoPaths) == 0 {
		return fmt.Errorf("stitch: no videos to concatenate")
	}
	if len(videoPaths) == 1 {
		return copyFile(videoPaths[0], outputPath)
	}

	manifest, err := os.CreateTemp("", "concat-*.txt")
	if err != nil {
		return fmt.Errorf("create concat manifest: %w", err)
	}
	defer os.Remove(manifest.Name())

	var b strings.Builder
	for _, vp := range videoPaths {
		escaped := strings.ReplaceAll(vp, "'", `'\''`)
		fmt.Fprintf(&b, "file '%s'\n", escaped)
	}
	if _, err := manifest.WriteString(b.String()); err != nil {
		manifest.Close()
		return fmt.Errorf("write concat manifest: %w", err)
	}
	if err := manifest.Close(); err != nil {
		return err
	}

	args := []string{
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", manifest.Name(),
		"-c", "copy",
		outputPath,
	}
	if err := p.run(ctx, args); err != nil {
		return fmt.Errorf("stitch videos: %w", err)
	}
	if _, err := os.Stat(outputPath); err != nil {
		return fmt.Errorf("stitch videos: output missing: %w", err)
	}

	log.Info().Int("segments", len(videoPaths)).Str("path", outputPath).Msg("stitched final video")
	return nil
}

func (p *Pipeline) run(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, p.ffmpegPath, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %s", err, stderr.String())
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
