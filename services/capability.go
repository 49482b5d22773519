package services

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/alphabatem/common/context"

	"github.com/AriukCS1A/testreg/dto"
	"github.com/AriukCS1A/testreg/model"
	"github.com/AriukCS1A/testreg/shared"
)

const (
	// MimeWebM carries the codec hint because bare "video/webm" makes some
	// decoders claim support they do not have for alpha VP8.
	MimeWebM = `video/webm; codecs="vp8,opus"`
	MimeMP4  = "video/mp4"
)

// CapabilityService turns raw content records into typed sources and ranks
// them against a device's decode surface. All shape-sniffing happens here,
// once, at the store boundary.
type CapabilityService struct {
	context.DefaultService
}

const CAPABILITY_SVC = "capability_svc"

func (svc CapabilityService) Id() string {
	return CAPABILITY_SVC
}

func (svc *CapabilityService) Configure(ctx *context.Context) error {
	return svc.DefaultService.Configure(ctx)
}

func (svc *CapabilityService) Start() error {
	return nil
}

// ParseContent decodes a content record into typed per-kind sources.
// Precedence: explicit per-kind urls > format tag > filename heuristic >
// extension fallback.
func (svc *CapabilityService) ParseContent(record *model.Content) (*dto.ContentSources, error) {
	if record == nil {
		return nil, fmt.Errorf("nil content record")
	}

	sources := &dto.ContentSources{
		ContentID: record.ID,
		PosterURL: record.PosterURL,
	}

	if len(record.URLs) > 0 && string(record.URLs) != "null" {
		var urls model.ContentURLs
		if err := json.Unmarshal(record.URLs, &urls); err != nil {
			return nil, fmt.Errorf("content %s: malformed urls field: %w", record.ID, err)
		}
		sources.Alpha = urls.WebM
		sources.SBS = urls.MP4SBS
		sources.Flat = urls.MP4
		if sources.Alpha != "" || sources.SBS != "" || sources.Flat != "" {
			return sources, nil
		}
	}

	if record.URL == "" {
		return nil, fmt.Errorf("content %s: no playable url", record.ID)
	}

	kind := record.Format
	if kind == "" {
		kind = inferKindFromURL(record.URL)
	}

	switch kind {
	case shared.KindAlpha:
		sources.Alpha = record.URL
	case shared.KindSBS:
		sources.SBS = record.URL
	case shared.KindFlat:
		sources.Flat = record.URL
	default:
		return nil, fmt.Errorf("content %s: cannot classify url %q", record.ID, record.URL)
	}

	return sources, nil
}

// inferKindFromURL classifies a single-url record: an "sbs" path tag wins,
// then the container extension decides.
func inferKindFromURL(rawURL string) string {
	lower := strings.ToLower(rawURL)
	path := lower
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}

	if strings.Contains(path, "sbs") {
		return shared.KindSBS
	}
	if strings.HasSuffix(path, ".webm") {
		return shared.KindAlpha
	}
	if strings.HasSuffix(path, ".mp4") || strings.HasSuffix(path, ".mov") {
		return shared.KindFlat
	}

	// Extension fallback over the full url, for CDNs that bury the file
	// name in query params.
	if strings.Contains(lower, ".webm") {
		return shared.KindAlpha
	}
	if strings.Contains(lower, ".mp4") || strings.Contains(lower, ".mov") {
		return shared.KindFlat
	}
	return ""
}

// Rank produces the ordered candidate list for a device. iOS never
// receives a webm candidate regardless of what its probe claims. An empty
// result is a hard "unsupported device" stop for the caller.
func (svc *CapabilityService) Rank(sources *dto.ContentSources, platform dto.Platform) []dto.MediaCandidate {
	if sources == nil {
		return nil
	}

	canDecode := platform.CanDecode
	if canDecode == nil {
		canDecode = func(string) bool { return true }
	}

	var ranked []dto.MediaCandidate

	if !platform.IsIOS && sources.Alpha != "" && canDecode(MimeWebM) {
		ranked = append(ranked, dto.MediaCandidate{URL: sources.Alpha, MimeType: MimeWebM, Kind: shared.KindAlpha})
	}
	if sources.SBS != "" && canDecode(MimeMP4) {
		ranked = append(ranked, dto.MediaCandidate{URL: sources.SBS, MimeType: MimeMP4, Kind: shared.KindSBS})
	}
	if sources.Flat != "" && canDecode(MimeMP4) {
		ranked = append(ranked, dto.MediaCandidate{URL: sources.Flat, MimeType: MimeMP4, Kind: shared.KindFlat})
	}

	return ranked
}

// PlatformFromReport builds a Platform from the client's capability probe.
// An empty decodable list means the client could not probe; assume broad
// support and let the loader find out.
func PlatformFromReport(report dto.CapabilityReport) dto.Platform {
	isIOS := report.IsIOS || looksLikeIOS(report.UserAgent)

	if len(report.DecodableMimes) == 0 {
		return dto.Platform{IsIOS: isIOS, CanDecode: func(string) bool { return true }}
	}

	decodable := make(map[string]bool, len(report.DecodableMimes))
	for _, m := range report.DecodableMimes {
		decodable[normalizeMime(m)] = true
	}

	return dto.Platform{
		IsIOS: isIOS,
		CanDecode: func(mime string) bool {
			return decodable[normalizeMime(mime)]
		},
	}
}

func normalizeMime(mime string) string {
	base := mime
	if i := strings.IndexByte(base, ';'); i >= 0 {
		base = base[:i]
	}
	return strings.ToLower(strings.TrimSpace(base))
}

// looksLikeIOS covers iPadOS 13+ reporting itself as a Mac with touch.
func looksLikeIOS(userAgent string) bool {
	ua := strings.ToLower(userAgent)
	return strings.Contains(ua, "iphone") || strings.Contains(ua, "ipad") || strings.Contains(ua, "ipod")
}
