package services

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"time"

	appContext "github.com/alphabatem/common/context"
	log "github.com/sirupsen/logrus"

	"github.com/AriukCS1A/testreg/shared"
)

// FrameSampler produces a small decoded frame for pixel inspection. The
// image must already be downscaled to maxDim on its longest side or close
// to it; the corrector only reads a sparse grid anyway.
type FrameSampler interface {
	Sample(ctx context.Context, maxDim int) (image.Image, error)
}

const sampleMaxDim = 64

// AlphaService guards against CDNs that silently transcode alpha-bearing
// sources into opaque ones. Misclassifying opaque only costs a visual
// fallback; misclassifying alpha breaks the composite, so every failure
// path assumes opaque.
type AlphaService struct {
	appContext.DefaultService
}

const ALPHA_SVC = "alpha_svc"

func (svc AlphaService) Id() string {
	return ALPHA_SVC
}

func (svc *AlphaService) Configure(ctx *appContext.Context) error {
	return svc.DefaultService.Configure(ctx)
}

func (svc *AlphaService) Start() error {
	return nil
}

// Correct downgrades a claimed kind when sampled pixels say the source is
// actually opaque. Never returns an error: sampling failures fail open to
// "assume opaque".
func (svc *AlphaService) Correct(ctx context.Context, sampler FrameSampler, claimedKind string) string {
	if claimedKind != shared.KindAlpha && claimedKind != shared.KindSBS {
		return claimedKind
	}
	if sampler == nil {
		return shared.KindFlat
	}

	img, err := sampler.Sample(ctx, sampleMaxDim)
	if err != nil || img == nil {
		log.WithError(err).WithField("claimed_kind", claimedKind).Debug("Frame sampling failed, assuming opaque")
		return shared.KindFlat
	}

	switch claimedKind {
	case shared.KindAlpha:
		if frameFullyOpaque(img) {
			log.WithField("claimed_kind", claimedKind).Info("Alpha source sampled fully opaque, downgrading to flat")
			return shared.KindFlat
		}
	case shared.KindSBS:
		if sbsMaskFullyOpaque(img) {
			log.WithField("claimed_kind", claimedKind).Info("SBS mask sampled fully opaque, downgrading to flat")
			return shared.KindFlat
		}
	}

	return claimedKind
}

// frameFullyOpaque reads a sparse grid of pixels and reports whether every
// one of them has a saturated alpha channel.
func frameFullyOpaque(img image.Image) bool {
	bounds := img.Bounds()
	if bounds.Empty() {
		return true
	}

	for _, pt := range sampleGrid(bounds, 4) {
		_, _, _, a := img.At(pt.X, pt.Y).RGBA()
		if a < 0xffff {
			return false
		}
	}
	return true
}

// sbsMaskFullyOpaque inspects the right half-frame, which carries the
// alpha mask as luma: uniform full white means the mask hides nothing.
func sbsMaskFullyOpaque(img image.Image) bool {
	bounds := img.Bounds()
	if bounds.Empty() {
		return true
	}

	right := image.Rect(bounds.Min.X+bounds.Dx()/2, bounds.Min.Y, bounds.Max.X, bounds.Max.Y)
	if right.Empty() {
		return true
	}

	for _, pt := range sampleGrid(right, 4) {
		r, g, b, _ := img.At(pt.X, pt.Y).RGBA()
		luma := (299*r + 587*g + 114*b) / 1000
		if luma < 0xf800 {
			return false
		}
	}
	return true
}

func sampleGrid(r image.Rectangle, per int) []image.Point {
	pts := make([]image.Point, 0, per*per)
	for i := 0; i < per; i++ {
		for j := 0; j < per; j++ {
			x := r.Min.X + (r.Dx()-1)*i/(per-1)
			y := r.Min.Y + (r.Dy()-1)*j/(per-1)
			pts = append(pts, image.Point{X: x, Y: y})
		}
	}
	return pts
}

// PosterSampler samples the poster frame the CDN publishes next to the
// video variants. Cross-origin taint does not exist server-side, but any
// fetch or decode problem still fails open in Correct.
type PosterSampler struct {
	client *http.Client
	url    string
}

func NewPosterSampler(client *http.Client, url string) *PosterSampler {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &PosterSampler{client: client, url: url}
}

func (s *PosterSampler) Sample(ctx context.Context, maxDim int) (image.Image, error) {
	if s.url == "" {
		return nil, fmt.Errorf("no poster url")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("poster fetch: status %d", resp.StatusCode)
	}

	img, _, err := image.Decode(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("poster decode: %w", err)
	}
	return img, nil
}
