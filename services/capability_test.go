package services

import (
	"encoding/json"
	"testing"

	"github.com/AriukCS1A/testreg/dto"
	"github.com/AriukCS1A/testreg/model"
	"github.com/AriukCS1A/testreg/shared"
)

func contentWithURLs(t *testing.T, urls model.ContentURLs) *model.Content {
	t.Helper()
	raw, err := json.Marshal(urls)
	if err != nil {
		t.Fatalf("marshal urls: %v", err)
	}
	return &model.Content{ID: "c1", URLs: raw}
}

func allDecodePlatform(isIOS bool) dto.Platform {
	return dto.Platform{IsIOS: isIOS, CanDecode: func(string) bool { return true }}
}

func TestParseContentTypedURLsWin(t *testing.T) {
	svc := &CapabilityService{}

	content := contentWithURLs(t, model.ContentURLs{
		WebM: "https://cdn/x.webm",
		MP4:  "https://cdn/x.mp4",
	})
	content.URL = "https://cdn/ignored_sbs.mp4"
	content.Format = shared.KindSBS

	sources, err := svc.ParseContent(content)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sources.Alpha != "https://cdn/x.webm" || sources.Flat != "https://cdn/x.mp4" {
		t.Fatalf("expected typed urls to win, got %+v", sources)
	}
	if sources.SBS != "" {
		t.Fatalf("expected no sbs source, got %q", sources.SBS)
	}
}

func TestParseContentFormatTag(t *testing.T) {
	svc := &CapabilityService{}

	sources, err := svc.ParseContent(&model.Content{ID: "c1", URL: "https://cdn/video.mp4", Format: shared.KindSBS})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sources.SBS != "https://cdn/video.mp4" {
		t.Fatalf("expected the format tag to classify as sbs, got %+v", sources)
	}
}

func TestParseContentInfersKindFromURL(t *testing.T) {
	svc := &CapabilityService{}

	tests := []struct {
		url  string
		want string
	}{
		{"https://cdn/fight_sbs.mp4", shared.KindSBS},
		{"https://cdn/intro.webm", shared.KindAlpha},
		{"https://cdn/intro.mp4", shared.KindFlat},
		{"https://cdn/intro.mov", shared.KindFlat},
		{"https://cdn/asset?file=clip.webm&sig=abc", shared.KindAlpha},
	}

	for _, tc := range tests {
		sources, err := svc.ParseContent(&model.Content{ID: "c1", URL: tc.url})
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.url, err)
		}

		var got string
		switch {
		case sources.Alpha != "":
			got = shared.KindAlpha
		case sources.SBS != "":
			got = shared.KindSBS
		case sources.Flat != "":
			got = shared.KindFlat
		}
		if got != tc.want {
			t.Fatalf("%s: expected kind %q, got %q", tc.url, tc.want, got)
		}
	}
}

func TestParseContentUnclassifiable(t *testing.T) {
	svc := &CapabilityService{}

	if _, err := svc.ParseContent(&model.Content{ID: "c1", URL: "https://cdn/file.txt"}); err == nil {
		t.Fatalf("expected error for unclassifiable url")
	}
	if _, err := svc.ParseContent(&model.Content{ID: "c1"}); err == nil {
		t.Fatalf("expected error for record with no url")
	}
}

func TestRankOrderAndMimes(t *testing.T) {
	svc := &CapabilityService{}

	sources := &dto.ContentSources{
		ContentID: "c1",
		Alpha:     "https://cdn/a.webm",
		SBS:       "https://cdn/b_sbs.mp4",
		Flat:      "https://cdn/c.mp4",
	}

	ranked := svc.Rank(sources, allDecodePlatform(false))

	wantKinds := []string{shared.KindAlpha, shared.KindSBS, shared.KindFlat}
	if len(ranked) != len(wantKinds) {
		t.Fatalf("expected %d candidates, got %d", len(wantKinds), len(ranked))
	}
	for i, kind := range wantKinds {
		if ranked[i].Kind != kind {
			t.Fatalf("position %d: expected kind %q, got %q", i, kind, ranked[i].Kind)
		}
	}
	if ranked[0].MimeType != MimeWebM {
		t.Fatalf("expected the alpha candidate to carry the codec hint, got %q", ranked[0].MimeType)
	}
	if ranked[1].MimeType != MimeMP4 {
		t.Fatalf("expected mp4 mime on sbs candidate, got %q", ranked[1].MimeType)
	}
}

func TestRankIOSNeverGetsWebM(t *testing.T) {
	svc := &CapabilityService{}

	sources := &dto.ContentSources{
		ContentID: "c1",
		Alpha:     "https://cdn/a.webm",
		SBS:       "https://cdn/b_sbs.mp4",
		Flat:      "https://cdn/c.mp4",
	}

	// Even a probe that claims webm support does not bring it back.
	ranked := svc.Rank(sources, allDecodePlatform(true))

	for _, cand := range ranked {
		if cand.Kind == shared.KindAlpha {
			t.Fatalf("iOS ranking must not contain a webm candidate: %+v", ranked)
		}
	}
	if len(ranked) != 2 || ranked[0].Kind != shared.KindSBS {
		t.Fatalf("expected [sbs flat] on iOS, got %+v", ranked)
	}
}

func TestRankSingleSBSURLOnIOS(t *testing.T) {
	svc := &CapabilityService{}

	sources, err := svc.ParseContent(&model.Content{ID: "c1", URL: "https://x/y_sbs.mp4"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ranked := svc.Rank(sources, allDecodePlatform(true))
	if len(ranked) != 1 {
		t.Fatalf("expected exactly one candidate, got %+v", ranked)
	}
	if ranked[0].Kind != shared.KindSBS {
		t.Fatalf("expected sbs candidate, got %q", ranked[0].Kind)
	}
}

func TestRankFiltersByDecodeProbe(t *testing.T) {
	svc := &CapabilityService{}

	sources := &dto.ContentSources{
		ContentID: "c1",
		Alpha:     "https://cdn/a.webm",
		Flat:      "https://cdn/c.mp4",
	}

	platform := PlatformFromReport(dto.CapabilityReport{
		DecodableMimes: []string{"video/mp4"},
	})

	ranked := svc.Rank(sources, platform)
	if len(ranked) != 1 || ranked[0].Kind != shared.KindFlat {
		t.Fatalf("expected only the flat candidate to survive, got %+v", ranked)
	}
}

func TestPlatformFromReportEmptyProbeAssumesSupport(t *testing.T) {
	platform := PlatformFromReport(dto.CapabilityReport{})

	if platform.IsIOS {
		t.Fatalf("expected non-iOS with no signals")
	}
	if !platform.CanDecode(MimeWebM) || !platform.CanDecode(MimeMP4) {
		t.Fatalf("expected an unprobed platform to accept everything")
	}
}

func TestPlatformFromReportNormalizesMimeParameters(t *testing.T) {
	platform := PlatformFromReport(dto.CapabilityReport{
		DecodableMimes: []string{"Video/MP4; codecs=avc1"},
	})

	if !platform.CanDecode("video/mp4") {
		t.Fatalf("expected base type match regardless of codec parameters")
	}
	if platform.CanDecode(MimeWebM) {
		t.Fatalf("expected webm to be rejected")
	}
}

func TestPlatformFromReportDetectsIOSFromUserAgent(t *testing.T) {
	platform := PlatformFromReport(dto.CapabilityReport{
		UserAgent: "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X)",
	})
	if !platform.IsIOS {
		t.Fatalf("expected iPhone user agent to flag iOS")
	}
}
