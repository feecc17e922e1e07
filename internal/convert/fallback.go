package convert

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os"
	"os/exec"
	"runtime"
	"time"
)

// toolTimeout bounds a single shell-out conversion attempt.
const toolTimeout = 30 * time.Second

// decodeWithTool converts the file to JPEG with an external OS utility and
// decodes the result. Returns the tool that succeeded. tempDir is where the
// intermediate output is written; empty means the OS default.
func decodeWithTool(path, override, tempDir string) (image.Image, string, error) {
	tmp, err := os.CreateTemp(tempDir, "heic-fallback-*.jpg")
	if err != nil {
		return nil, "", fmt.Errorf("creating temp output: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	var lastErr error
	for _, tool := range candidateTools(override) {
		if _, err := exec.LookPath(tool); err != nil {
			lastErr = err
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), toolTimeout)
		cmd := toolCommand(ctx, tool, path, tmpPath)
		out, err := cmd.CombinedOutput()
		cancel()
		if err != nil {
			lastErr = fmt.Errorf("%s: %v: %s", tool, err, bytes.TrimSpace(out))
			continue
		}

		data, err := os.ReadFile(tmpPath)
		if err != nil {
			lastErr = fmt.Errorf("%s: reading output: %w", tool, err)
			continue
		}

		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			lastErr = fmt.Errorf("%s: decoding output: %w", tool, err)
			continue
		}
		return img, tool, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no conversion utility available")
	}
	return nil, "", lastErr
}

// candidateTools returns the utilities to try, in order, for this platform.
func candidateTools(override string) []string {
	if override != "" {
		return []string{override}
	}
	if runtime.GOOS == "darwin" {
		return []string{"sips"}
	}
	return []string{"heif-convert", "magick", "convert"}
}

// toolCommand builds the invocation for a given utility.
func toolCommand(ctx context.Context, tool, in, out string) *exec.Cmd {
	switch tool {
	case "sips":
		return exec.CommandContext(ctx, "sips", "-s", "format", "jpeg", in, "--out", out)
	case "heif-convert":
		return exec.CommandContext(ctx, "heif-convert", in, out)
	case "magick":
		return exec.CommandContext(ctx, "magick", in, out)
	default:
		return exec.CommandContext(ctx, tool, in, out)
	}
}
