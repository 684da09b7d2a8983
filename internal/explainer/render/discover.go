package render

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// findVideo returns expected when it exists, else the newest <scene>*.mp4
// under root, skipping the engine's partial segment directories.
func findVideo(root, expected, scene string) (string, error) {
	if expected != "" {
		if st, err := os.Stat(expected); err == nil && st.Mode().IsRegular() {
			return expected, nil
		}
	}

	var best string
	var bestMod time.Time
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if d.Name() == "partial_movie_files" {
				return filepath.SkipDir
			}
			return nil
		}
		name := d.Name()
		if !strings.HasSuffix(name, ".mp4") || !strings.Contains(strings.TrimSuffix(name, ".mp4"), scene) {
			return nil
		}
		info, err := d.Info()
		if err != nil || !info.Mode().IsRegular() {
			return nil
		}
		if best == "" || info.ModTime().After(bestMod) {
			best, bestMod = path, info.ModTime()
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if best == "" {
		return "", fs.ErrNotExist
	}
	return best, nil
}

type videoMeta struct {
	DurationSec float64
	Width       int
	Height      int
}

type ffprobeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
		Duration  string `json:"duration"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// probeVideo reads duration and resolution with ffprobe.
func probeVideo(ctx context.Context, ffprobe, path string) (videoMeta, error) {
	if ffprobe == "" {
		return videoMeta{}, fmt.Errorf("ffprobe not available")
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, ffprobe,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return videoMeta{}, fmt.Errorf("ffprobe failed: %w", err)
	}
	return parseFFprobe(out)
}

func parseFFprobe(raw []byte) (videoMeta, error) {
	var p ffprobeOutput
	if err := json.Unmarshal(raw, &p); err != nil {
		return videoMeta{}, fmt.Errorf("decode ffprobe output: %w", err)
	}
	var m videoMeta
	for _, s := range p.Streams {
		if s.CodecType != "video" {
			continue
		}
		m.Width, m.Height = s.Width, s.Height
		if d, err := strconv.ParseFloat(s.Duration, 64); err == nil {
			m.DurationSec = d
		}
		break
	}
	if d, err := strconv.ParseFloat(p.Format.Duration, 64); err == nil && d > 0 {
		m.DurationSec = d
	}
	if m.DurationSec <= 0 || m.Width <= 0 || m.Height <= 0 {
		return m, fmt.Errorf("ffprobe output has no usable video stream")
	}
	return m, nil
}
