package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AriukCS1A/testreg/dto"
	"github.com/AriukCS1A/testreg/model"
	"github.com/AriukCS1A/testreg/shared"
)

func TestCandidateForKind(t *testing.T) {
	candidates := []dto.MediaCandidate{
		{URL: "https://cdn/a.webm", Kind: shared.KindAlpha},
		{URL: "https://cdn/b_sbs.mp4", Kind: shared.KindSBS},
	}

	if got := candidateForKind(candidates, shared.KindSBS); got == nil || got.URL != "https://cdn/b_sbs.mp4" {
		t.Fatalf("expected the sbs candidate, got %+v", got)
	}
	if got := candidateForKind(candidates, shared.KindFlat); got != nil {
		t.Fatalf("expected nil for an absent kind, got %+v", got)
	}
}

func TestCompositeModeFor(t *testing.T) {
	tests := []struct {
		kind string
		want string
	}{
		{shared.KindAlpha, shared.CompositeAlphaMap},
		{shared.KindSBS, shared.CompositeSBSShader},
		{shared.KindFlat, ""},
		{"", ""},
	}

	for _, tc := range tests {
		if got := compositeModeFor(tc.kind); got != tc.want {
			t.Fatalf("%q: expected %q, got %q", tc.kind, tc.want, got)
		}
	}
}

func TestWithUserAgentFillsOnlyWhenEmpty(t *testing.T) {
	report := withUserAgent(dto.CapabilityReport{}, "header-agent")
	if report.UserAgent != "header-agent" {
		t.Fatalf("expected header agent filled in, got %q", report.UserAgent)
	}

	report = withUserAgent(dto.CapabilityReport{UserAgent: "probe-agent"}, "header-agent")
	if report.UserAgent != "probe-agent" {
		t.Fatalf("expected the probe's agent kept, got %q", report.UserAgent)
	}
}

// newGateHarness wires a GateService onto an in-memory store with the pure
// engines it drives. Identity, geolocation and token services stay nil:
// these paths inject sessions and positions directly.
func newGateHarness(t *testing.T) *GateService {
	t.Helper()

	storage := newTestStorage(t)
	return &GateService{
		storageSvc:    storage,
		mediaSvc:      &MediaService{storageSvc: storage},
		geofenceSvc:   &GeofenceService{},
		capabilitySvc: &CapabilityService{},
		loaderSvc:     &LoaderService{attemptTimeout: 2 * time.Second},
		alphaSvc:      &AlphaService{},
		httpClient:    &http.Client{Timeout: 2 * time.Second},
		sessions:      make(map[string]*gateSession),
	}
}

func addSession(svc *GateService, state, locationID string) *gateSession {
	sess := &gateSession{
		ID:         "sess-" + state,
		State:      state,
		LocationID: locationID,
		UserAgent:  "gate-test-agent",
		CreatedAt:  time.Now(),
	}
	svc.sessions[sess.ID] = sess
	return sess
}

func seedLocation(t *testing.T, svc *GateService, radius float64) *model.Location {
	t.Helper()

	loc := testLocation(radius)
	loc.CreatedAt = time.Now()
	loc.UpdatedAt = time.Now()
	if err := svc.storageSvc.UpsertLocation(loc); err != nil {
		t.Fatalf("seed location: %v", err)
	}
	return loc
}

func seedExerciseContent(t *testing.T, svc *GateService, locationID, url string) {
	t.Helper()

	ids, _ := json.Marshal([]string{locationID})
	c := &model.Content{
		ID:          "exercise-" + locationID,
		Active:      true,
		LocationIDs: ids,
		URL:         url,
		Format:      shared.KindFlat,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	if err := svc.storageSvc.CreateContent(c); err != nil {
		t.Fatalf("seed exercise content: %v", err)
	}
}

func seedIntroContent(t *testing.T, svc *GateService, url string) {
	t.Helper()

	c := &model.Content{
		ID:          "intro-global",
		Active:      true,
		IsGlobal:    true,
		LocationIDs: json.RawMessage("[]"),
		URL:         url,
		Format:      shared.KindFlat,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	if err := svc.storageSvc.CreateContent(c); err != nil {
		t.Fatalf("seed intro content: %v", err)
	}
}

// countingVideoServer serves a valid mp4 head and counts every request.
func countingVideoServer(t *testing.T) (*httptest.Server, *atomic.Int64) {
	t.Helper()

	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", MimeMP4)
		w.Write(mp4Head)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func scanLogCount(t *testing.T, svc *GateService, event string) int64 {
	t.Helper()

	var n int64
	if err := svc.storageSvc.Db().Model(&model.ScanLog{}).Where("event = ?", event).Count(&n).Error; err != nil {
		t.Fatalf("count scan log: %v", err)
	}
	return n
}

func TestStartIntroRequiresCameraReady(t *testing.T) {
	svc := newGateHarness(t)
	sess := addSession(svc, shared.StateReadyForIntro, "")

	resp, err := svc.StartIntro(context.Background(), sess.ID, dto.StartIntroRequest{CameraReady: false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Started || resp.Reason != "camera-not-ready" {
		t.Fatalf("expected a camera refusal, got %+v", resp)
	}
	if sess.State != shared.StateReadyForIntro {
		t.Fatalf("state changed on refusal: %s", sess.State)
	}
}

func TestStartIntroDropsDuplicateTrigger(t *testing.T) {
	svc := newGateHarness(t)
	sess := addSession(svc, shared.StateReadyForIntro, "")
	sess.introBusy = true

	// No intro content is seeded: the busy check must short-circuit
	// before the content lookup can fail.
	resp, err := svc.StartIntro(context.Background(), sess.ID, dto.StartIntroRequest{CameraReady: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Started || resp.Reason != "busy" {
		t.Fatalf("expected the duplicate dropped, got %+v", resp)
	}
}

func TestStartIntroAdvancesToPlaying(t *testing.T) {
	svc := newGateHarness(t)
	sess := addSession(svc, shared.StateReadyForIntro, "")
	srv, _ := countingVideoServer(t)
	seedIntroContent(t, svc, srv.URL+"/intro.mp4")

	resp, err := svc.StartIntro(context.Background(), sess.ID, dto.StartIntroRequest{CameraReady: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.Started || resp.State != shared.StatePlayingIntro {
		t.Fatalf("expected intro playing, got %+v", resp)
	}
	if resp.EffectiveKind != shared.KindFlat {
		t.Fatalf("expected a flat intro, got %q", resp.EffectiveKind)
	}
	if sess.State != shared.StatePlayingIntro {
		t.Fatalf("session state not advanced: %s", sess.State)
	}
	if got := scanLogCount(t, svc, "intro_start"); got != 1 {
		t.Fatalf("expected one intro_start scan log entry, got %d", got)
	}
}

func TestIntroEndedAdvancesToMenu(t *testing.T) {
	svc := newGateHarness(t)
	sess := addSession(svc, shared.StatePlayingIntro, "")

	resp, err := svc.IntroEnded(sess.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.State != shared.StateMenuShown {
		t.Fatalf("expected menu_shown, got %s", resp.State)
	}
}

func TestBackReturnsToMenu(t *testing.T) {
	svc := newGateHarness(t)
	sess := addSession(svc, shared.StatePlayingExercise, "")

	resp, err := svc.Back(sess.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.State != shared.StateMenuShown {
		t.Fatalf("expected menu_shown, got %s", resp.State)
	}
}

func TestStartExerciseRefusedOutsideFence(t *testing.T) {
	svc := newGateHarness(t)
	loc := seedLocation(t, svc, 100)
	sess := addSession(svc, shared.StateMenuShown, loc.ID)

	far := positionMetersNorth(loc, 2000, 10)
	resp, err := svc.StartExercise(context.Background(), sess.ID, dto.StartExerciseRequest{Position: far}, "198.51.100.7")
	if err != nil {
		t.Fatalf("refusal must not be an error: %v", err)
	}
	if resp.Started || resp.Reason != shared.GeofenceTooFar {
		t.Fatalf("expected a quiet too-far refusal, got %+v", resp)
	}
	if resp.State != shared.StateMenuShown || sess.State != shared.StateMenuShown {
		t.Fatalf("refusal must leave the menu showing")
	}
	if got := scanLogCount(t, svc, "exercise_refused"); got != 1 {
		t.Fatalf("expected one exercise_refused scan log entry, got %d", got)
	}
}

func TestStartExerciseDropsDuplicateTrigger(t *testing.T) {
	svc := newGateHarness(t)
	sess := addSession(svc, shared.StateMenuShown, "test-loc")
	sess.exerciseBusy = true

	resp, err := svc.StartExercise(context.Background(), sess.ID, dto.StartExerciseRequest{}, "198.51.100.7")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Started || resp.Reason != "busy" {
		t.Fatalf("expected the duplicate dropped, got %+v", resp)
	}
}

func TestStartExercisePreflightsWhenNothingPrefetched(t *testing.T) {
	svc := newGateHarness(t)
	loc := seedLocation(t, svc, 150)
	sess := addSession(svc, shared.StateMenuShown, loc.ID)
	srv, hits := countingVideoServer(t)
	seedExerciseContent(t, svc, loc.ID, srv.URL+"/exercise.mp4")

	inside := positionMetersNorth(loc, 50, 10)
	resp, err := svc.StartExercise(context.Background(), sess.ID, dto.StartExerciseRequest{Position: inside}, "198.51.100.7")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.Started || resp.State != shared.StatePlayingExercise {
		t.Fatalf("expected exercise playing, got %+v", resp)
	}
	if hits.Load() == 0 {
		t.Fatalf("expected the preflight to fetch the source")
	}
}

func TestStartExerciseReusesPrefetchedOutcome(t *testing.T) {
	svc := newGateHarness(t)
	loc := seedLocation(t, svc, 150)
	sess := addSession(svc, shared.StateMenuShown, loc.ID)
	srv, hits := countingVideoServer(t)

	sess.prefetched = &dto.StartPlaybackResponse{
		Started:       true,
		Candidate:     &dto.MediaCandidate{URL: srv.URL + "/exercise.mp4", MimeType: MimeMP4, Kind: shared.KindFlat},
		EffectiveKind: shared.KindFlat,
	}
	sess.prefetchedAt = time.Now()

	inside := positionMetersNorth(loc, 50, 10)
	resp, err := svc.StartExercise(context.Background(), sess.ID, dto.StartExerciseRequest{Position: inside}, "198.51.100.7")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.Started || resp.State != shared.StatePlayingExercise {
		t.Fatalf("expected exercise playing, got %+v", resp)
	}
	if resp.Candidate == nil || resp.Candidate.Kind != shared.KindFlat {
		t.Fatalf("expected the prewarmed candidate, got %+v", resp.Candidate)
	}
	if hits.Load() != 0 {
		t.Fatalf("prewarmed start must not refetch, saw %d requests", hits.Load())
	}
	if sess.prefetched != nil {
		t.Fatalf("prefetched outcome must be consumed at most once")
	}
}

func TestStartExerciseIgnoresStalePrefetch(t *testing.T) {
	svc := newGateHarness(t)
	loc := seedLocation(t, svc, 150)
	sess := addSession(svc, shared.StateMenuShown, loc.ID)
	srv, hits := countingVideoServer(t)
	seedExerciseContent(t, svc, loc.ID, srv.URL+"/exercise.mp4")

	sess.prefetched = &dto.StartPlaybackResponse{Started: true, EffectiveKind: shared.KindFlat}
	sess.prefetchedAt = time.Now().Add(-2 * prefetchMaxAge)

	inside := positionMetersNorth(loc, 50, 10)
	resp, err := svc.StartExercise(context.Background(), sess.ID, dto.StartExerciseRequest{Position: inside}, "198.51.100.7")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.Started {
		t.Fatalf("expected a fresh preflight start, got %+v", resp)
	}
	if hits.Load() == 0 {
		t.Fatalf("stale prefetch must trigger a fresh preflight")
	}
}

func TestPrefetchExerciseStoresOutcome(t *testing.T) {
	svc := newGateHarness(t)
	loc := seedLocation(t, svc, 150)
	sess := addSession(svc, shared.StatePlayingIntro, loc.ID)
	srv, _ := countingVideoServer(t)
	seedExerciseContent(t, svc, loc.ID, srv.URL+"/exercise.mp4")

	svc.prefetchExercise(sess, *positionMetersNorth(loc, 50, 10))

	if sess.prefetched == nil || !sess.prefetched.Started {
		t.Fatalf("expected a stored prefetch outcome, got %+v", sess.prefetched)
	}
	if sess.prefetched.EffectiveKind != shared.KindFlat {
		t.Fatalf("expected a flat outcome, got %q", sess.prefetched.EffectiveKind)
	}
}

func TestPrefetchExerciseOutsideFenceIsQuiet(t *testing.T) {
	svc := newGateHarness(t)
	loc := seedLocation(t, svc, 100)
	sess := addSession(svc, shared.StatePlayingIntro, loc.ID)

	svc.prefetchExercise(sess, *positionMetersNorth(loc, 2000, 10))

	if sess.prefetched != nil {
		t.Fatalf("a failed prefetch must leave nothing behind")
	}
	if sess.State != shared.StatePlayingIntro {
		t.Fatalf("prefetch must never touch session state, got %s", sess.State)
	}
}

func TestRegisterCollisionIsSuccessPath(t *testing.T) {
	svc := newGateHarness(t)
	sess := addSession(svc, shared.StateAwaitingRegistration, "")

	existing := testRegistration("+97699112233", "first-device", "hash-one")
	if err := svc.storageSvc.CreateRegistration(existing); err != nil {
		t.Fatalf("seed registration: %v", err)
	}

	req := dto.RegisterRequest{
		Phone:    "99112233",
		Position: &dto.Position{Latitude: 47.918, Longitude: 106.917, AccuracyMeters: 10},
	}
	resp, err := svc.Register(context.Background(), sess.ID, req, "198.51.100.7")
	if err != nil {
		t.Fatalf("collision must be a success path: %v", err)
	}
	if !resp.AlreadyRegistered || resp.State != shared.StateReadyForIntro {
		t.Fatalf("expected already_registered ready_for_intro, got %+v", resp)
	}
	if !sess.Registered || sess.State != shared.StateReadyForIntro {
		t.Fatalf("session not advanced: %+v", sess)
	}

	kept, err := svc.storageSvc.GetRegistration("+97699112233")
	if err != nil {
		t.Fatalf("fetch registration: %v", err)
	}
	if kept.UserAgent != "first-device" {
		t.Fatalf("existing registration was overwritten: %q", kept.UserAgent)
	}
}

func TestRefusedResponseShape(t *testing.T) {
	resp := refused(shared.StateMenuShown, "busy")

	if resp.Started {
		t.Fatalf("expected a non-start")
	}
	if resp.State != shared.StateMenuShown || resp.Reason != "busy" {
		t.Fatalf("unexpected refusal %+v", resp)
	}
	if resp.Candidate != nil || resp.EffectiveKind != "" {
		t.Fatalf("refusals must not carry playback data: %+v", resp)
	}
}
