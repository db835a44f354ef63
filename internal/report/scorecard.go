package report

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"github.com/lox/topografia/internal/analysis"
	"github.com/lox/topografia/internal/models"
)

// Scorecard dimensions.
const (
	ScorecardWidth  = 1200
	ScorecardHeight = 630
)

var (
	faceScore   font.Face
	faceTitle   font.Face
	faceRegular font.Face
	fontOnce    sync.Once
	fontErr     error
)

func newFace(ttf []byte, size float64) (font.Face, error) {
	f, err := opentype.Parse(ttf)
	if err != nil {
		return nil, fmt.Errorf("parse font: %w", err)
	}
	return opentype.NewFace(f, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
}

func loadFonts() {
	fontOnce.Do(func() {
		if faceScore, fontErr = newFace(gobold.TTF, 160); fontErr != nil {
			return
		}
		if faceTitle, fontErr = newFace(gobold.TTF, 44); fontErr != nil {
			return
		}
		faceRegular, fontErr = newFace(goregular.TTF, 30)
	})
}

var (
	colorBackground = color.RGBA{24, 28, 36, 255}
	colorText       = color.RGBA{235, 235, 235, 255}
	colorMuted      = color.RGBA{160, 166, 176, 255}
	colorGood       = color.RGBA{46, 160, 67, 255}
	colorFair       = color.RGBA{219, 171, 9, 255}
	colorBad        = color.RGBA{207, 34, 46, 255}
)

// scoreColor picks the accent colour for a quality score.
func scoreColor(score float64) color.RGBA {
	switch {
	case score >= 80:
		return colorGood
	case score >= 60:
		return colorFair
	default:
		return colorBad
	}
}

// Scorecard renders a PNG card with the project's quality score, the share
// of readings within tolerance, and the critical reading count.
func Scorecard(s analysis.Summary, p models.Project) ([]byte, error) {
	loadFonts()
	if fontErr != nil {
		return nil, fmt.Errorf("load fonts: %w", fontErr)
	}

	img := image.NewRGBA(image.Rect(0, 0, ScorecardWidth, ScorecardHeight))
	for y := 0; y < ScorecardHeight; y++ {
		for x := 0; x < ScorecardWidth; x++ {
			img.SetRGBA(x, y, colorBackground)
		}
	}

	accent := scoreColor(s.QualityScore)
	for y := 0; y < 16; y++ {
		for x := 0; x < ScorecardWidth; x++ {
			img.SetRGBA(x, y, accent)
		}
	}
	drawProgress(img, 60, 420, ScorecardWidth-120, 24, s.WithinTolerance/100, accent)

	title := p.Name
	if title == "" {
		title = fmt.Sprintf("Proyecto %d", p.ID)
	}
	drawText(img, title, 60, 90, colorText, faceTitle)
	if p.Section != "" {
		drawText(img, p.Section, 60, 135, colorMuted, faceRegular)
	}
	drawText(img, fmt.Sprintf("%.0f", s.QualityScore), 60, 320, accent, faceScore)
	drawText(img, "calidad", 60, 370, colorMuted, faceRegular)

	drawText(img, fmt.Sprintf("%.1f%% dentro de tolerancia", s.WithinTolerance), 480, 230, colorText, faceRegular)
	drawText(img, fmt.Sprintf("%d lecturas críticas", s.Critical), 480, 280, colorText, faceRegular)
	drawText(img, fmt.Sprintf("%.0f%% de avance (%d/%d estaciones)", s.Completion, s.MeasuredStations, s.ExpectedStations),
		480, 330, colorText, faceRegular)
	drawText(img, s.Verdict, 60, 520, accent, faceTitle)
	if s.LastDate != "" {
		drawText(img, "Última medición "+s.LastDate, 60, 580, colorMuted, faceRegular)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode scorecard: %w", err)
	}
	return buf.Bytes(), nil
}

// drawProgress draws a horizontal bar filled to share (0..1).
func drawProgress(img *image.RGBA, x, y, w, h int, share float64, fill color.RGBA) {
	if share < 0 {
		share = 0
	}
	if share > 1 {
		share = 1
	}
	track := color.RGBA{52, 58, 70, 255}
	filled := x + int(float64(w)*share)
	for py := y; py < y+h; py++ {
		for px := x; px < x+w; px++ {
			if px < filled {
				img.SetRGBA(px, py, fill)
			} else {
				img.SetRGBA(px, py, track)
			}
		}
	}
}

func drawText(img *image.RGBA, text string, x, y int, col color.Color, face font.Face) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(col),
		Face: face,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}

type scorecardEntry struct {
	data      []byte
	expiresAt time.Time
}

// ScorecardCache keeps rendered scorecards per project for a short period.
type ScorecardCache struct {
	mu      sync.RWMutex
	entries map[int64]scorecardEntry
	ttl     time.Duration
	now     func() time.Time
}

func NewScorecardCache(ttl time.Duration) *ScorecardCache {
	return &ScorecardCache{
		entries: make(map[int64]scorecardEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the cached scorecard if still valid.
func (c *ScorecardCache) Get(projectID int64) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[projectID]
	if !ok || c.now().After(e.expiresAt) {
		return nil, false
	}
	return e.data, true
}

func (c *ScorecardCache) Set(projectID int64, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[projectID] = scorecardEntry{data: data, expiresAt: c.now().Add(c.ttl)}
}

// Invalidate drops a project's scorecard.
func (c *ScorecardCache) Invalidate(projectID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, projectID)
}
