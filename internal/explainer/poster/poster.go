// Package poster draws the title card shown before a video loads.
package poster

import (
	"bytes"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strings"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/yungbote/neurobridge-explainer/internal/explainer/content"
	"github.com/yungbote/neurobridge-explainer/internal/platform/logger"
)

const (
	width  = 1280
	height = 720
	margin = 80.0
)

var domainColors = map[content.Domain]color.NRGBA{
	content.DomainPhysics:         {R: 0x1f, G: 0x3a, B: 0x5f, A: 0xff},
	content.DomainChemistry:       {R: 0x3d, G: 0x1f, B: 0x5f, A: 0xff},
	content.DomainBiology:         {R: 0x1f, G: 0x4d, B: 0x2e, A: 0xff},
	content.DomainEarthScience:    {R: 0x5f, G: 0x3b, B: 0x1f, A: 0xff},
	content.DomainMathematics:     {R: 0x2b, G: 0x2b, B: 0x2b, A: 0xff},
	content.DomainComputerScience: {R: 0x12, G: 0x3f, B: 0x45, A: 0xff},
}

type Drawer struct {
	log   *logger.Logger
	title *truetype.Font
	body  *truetype.Font
}

// New loads fontPath for both faces, or the bundled Go fonts when empty.
func New(log *logger.Logger, fontPath string) (*Drawer, error) {
	if log == nil {
		log = logger.Nop()
	}
	d := &Drawer{log: log.With("component", "poster")}

	if p := strings.TrimSpace(fontPath); p != "" {
		raw, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("poster: read font: %w", err)
		}
		f, err := truetype.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("poster: parse font: %w", err)
		}
		d.title, d.body = f, f
		return d, nil
	}

	var err error
	if d.title, err = truetype.Parse(gobold.TTF); err != nil {
		return nil, fmt.Errorf("poster: parse bundled bold font: %w", err)
	}
	if d.body, err = truetype.Parse(goregular.TTF); err != nil {
		return nil, fmt.Errorf("poster: parse bundled regular font: %w", err)
	}
	return d, nil
}

func face(f *truetype.Font, size float64) font.Face {
	return truetype.NewFace(f, &truetype.Options{Size: size, DPI: 72, Hinting: font.HintingNone})
}

// Draw renders the card for doc as PNG.
func (d *Drawer) Draw(doc content.Document) (bytes.Buffer, error) {
	dc := gg.NewContext(width, height)

	bg, ok := domainColors[doc.Domain]
	if !ok {
		bg = domainColors[content.DomainMathematics]
	}
	dc.SetColor(bg)
	dc.DrawRectangle(0, 0, width, height)
	dc.Fill()

	// accent bar
	dc.SetRGBA(1, 1, 1, 0.15)
	dc.DrawRectangle(margin, margin, 8, height-2*margin)
	dc.Fill()

	textW := width - 2*margin - 40
	x := margin + 40

	dc.SetColor(color.White)
	dc.SetFontFace(face(d.body, 28))
	dc.DrawString(strings.ToUpper(strings.ReplaceAll(string(doc.Domain), "-", " ")), x, margin+30)

	dc.SetFontFace(face(d.title, 64))
	titleLines := dc.WordWrap(doc.Title, textW)
	if len(titleLines) > 3 {
		titleLines = append(titleLines[:2], titleLines[2]+"…")
	}
	y := margin + 120
	for _, line := range titleLines {
		dc.DrawString(line, x, y)
		y += 76
	}

	dc.SetRGBA(1, 1, 1, 0.85)
	dc.SetFontFace(face(d.body, 30))
	intro := dc.WordWrap(doc.Introduction, textW)
	if len(intro) > 4 {
		intro = append(intro[:3], intro[3]+"…")
	}
	y += 20
	for _, line := range intro {
		dc.DrawString(line, x, y)
		y += 40
	}

	dc.SetRGBA(1, 1, 1, 0.6)
	dc.SetFontFace(face(d.body, 24))
	footer := fmt.Sprintf("%d steps · %s", len(doc.Steps), formatDuration(doc.TotalDurationSec))
	dc.DrawString(footer, x, height-margin)

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return buf, fmt.Errorf("poster: encode png: %w", err)
	}
	return buf, nil
}

// WriteFile draws the card for doc into path.
func (d *Drawer) WriteFile(doc content.Document, path string) error {
	buf, err := d.Draw(doc)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("poster: create dir: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("poster: write: %w", err)
	}
	d.log.Debug("poster written", "path", path, "bytes", buf.Len())
	return nil
}

func formatDuration(sec int) string {
	if sec < 60 {
		return fmt.Sprintf("%ds", sec)
	}
	return fmt.Sprintf("%dm %02ds", sec/60, sec%60)
}
