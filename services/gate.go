package services

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	appContext "github.com/alphabatem/common/context"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/AriukCS1A/testreg/dto"
	"github.com/AriukCS1A/testreg/model"
	"github.com/AriukCS1A/testreg/shared"
)

// gateSession is the per-device run of the experience. All mutation goes
// through its mutex; the busy flags make playback triggers idempotent
// while a preflight is in flight (duplicates are dropped, never queued).
type gateSession struct {
	mu sync.Mutex

	ID         string
	State      string
	DeviceHash string
	LocationID string
	Phone      string
	Registered bool
	UserAgent  string
	Platform   dto.Platform

	introBusy    bool
	exerciseBusy bool

	prefetched   *dto.StartPlaybackResponse
	prefetchedAt time.Time

	CreatedAt time.Time
}

// prefetchMaxAge bounds how long a prewarmed preflight outcome stays
// valid. The geofence is always re-checked; only the media outcome ages.
const prefetchMaxAge = 5 * time.Minute

// GateService drives the experience state machine: identity resolution,
// registration, the intro/exercise playback gates, and everything the
// scan log records about them.
type GateService struct {
	appContext.DefaultService

	storageSvc    *StorageService
	mediaSvc      *MediaService
	geofenceSvc   *GeofenceService
	identitySvc   *IdentityService
	capabilitySvc *CapabilityService
	loaderSvc     *LoaderService
	alphaSvc      *AlphaService
	geoIPSvc      *GeolocationService
	jwtSvc        *JWTService

	httpClient *http.Client

	mu       sync.RWMutex
	sessions map[string]*gateSession
}

const GATE_SVC = "gate_svc"

func (svc GateService) Id() string {
	return GATE_SVC
}

func (svc *GateService) Configure(ctx *appContext.Context) error {
	svc.sessions = make(map[string]*gateSession)
	svc.httpClient = &http.Client{Timeout: 20 * time.Second}
	return svc.DefaultService.Configure(ctx)
}

func (svc *GateService) Start() error {
	svc.storageSvc = svc.Service(STORAGE_SVC).(*StorageService)
	svc.mediaSvc = svc.Service(MEDIA_SVC).(*MediaService)
	svc.geofenceSvc = svc.Service(GEOFENCE_SVC).(*GeofenceService)
	svc.identitySvc = svc.Service(IDENTITY_SVC).(*IdentityService)
	svc.capabilitySvc = svc.Service(CAPABILITY_SVC).(*CapabilityService)
	svc.loaderSvc = svc.Service(LOADER_SVC).(*LoaderService)
	svc.alphaSvc = svc.Service(ALPHA_SVC).(*AlphaService)
	svc.geoIPSvc = svc.Service(GEOLOCATION_SVC).(*GeolocationService)
	svc.jwtSvc = svc.Service(JWT_SVC).(*JWTService)
	return nil
}

// ==================== SESSION LIFECYCLE ====================

// StartSession resolves the device's identity and opens a session.
// Identity lookup fails open: a store outage yields an unregistered
// session, never a blocked one.
func (svc *GateService) StartSession(ctx context.Context, req dto.StartSessionRequest, userAgent, clientIP string) (*dto.StartSessionResponse, error) {
	deviceHash := req.DeviceHash
	if deviceHash == "" && svc.identitySvc.HasLocalKeyStore() {
		key, err := svc.identitySvc.EnsureLocalKey()
		if err != nil {
			log.WithError(err).Warn("Local device key unavailable, continuing without identity")
		} else {
			deviceHash = key.PublicHashHex
		}
	}

	sessionID, err := uuid.NewV7()
	if err != nil {
		return nil, shared.NewInternalError(err, "Failed to create session")
	}

	sess := &gateSession{
		ID:         sessionID.String(),
		State:      shared.StateResolvingIdentity,
		DeviceHash: deviceHash,
		LocationID: req.LocationID,
		UserAgent:  userAgent,
		Platform:   PlatformFromReport(withUserAgent(req.Capability, userAgent)),
		CreatedAt:  time.Now(),
	}

	var reg *model.Registration
	if deviceHash != "" {
		reg = svc.identitySvc.ResolveRegistration(deviceHash)
	}

	if reg != nil {
		sess.Registered = true
		sess.Phone = reg.Phone
		sess.State = shared.StateReadyForIntro
	} else {
		sess.State = shared.StateAwaitingRegistration
	}

	svc.mu.Lock()
	svc.sessions[sess.ID] = sess
	svc.mu.Unlock()

	token, err := svc.jwtSvc.ToSessionToken(sess.ID)
	if err != nil {
		return nil, shared.NewInternalError(err, "Failed to issue session token")
	}

	svc.logEvent(sess, "session_start", nil, req.Position)
	observeSessionStart(sess.Registered)

	return &dto.StartSessionResponse{
		SessionID:  sess.ID,
		Token:      token,
		State:      sess.State,
		Registered: sess.Registered,
		Phone:      sess.Phone,
	}, nil
}

func (svc *GateService) GetState(sessionID string) (*dto.SessionStateResponse, error) {
	sess, err := svc.session(sessionID)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	return &dto.SessionStateResponse{
		SessionID:  sess.ID,
		State:      sess.State,
		Registered: sess.Registered,
		LocationID: sess.LocationID,
	}, nil
}

// ==================== REGISTRATION ====================

// Register records the phone for this device. The geofence is evaluated
// and logged here but never blocks registration; only playback is gated
// on location. A create collision means the phone already registered,
// which is a success path, and the existing record is never overwritten.
func (svc *GateService) Register(ctx context.Context, sessionID string, req dto.RegisterRequest, clientIP string) (*dto.RegisterResponse, error) {
	sess, err := svc.session(sessionID)
	if err != nil {
		return nil, err
	}

	phone, err := dto.NormalizePhone(req.Phone)
	if err != nil {
		return nil, shared.NewUnprocessableError(err, "Invalid phone number")
	}

	position := svc.resolvePosition(ctx, req.Position, clientIP)
	decision := svc.evaluateGeofence(ctx, sess, position)
	observeGeofenceDecision("register", decision.Reason)

	alreadyRegistered := false

	reg := &model.Registration{
		Phone:     phone,
		Source:    "web",
		UserAgent: sess.UserAgent,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if position != nil {
		reg.Lat = position.Latitude
		reg.Lng = position.Longitude
		reg.AccuracyMeters = position.AccuracyMeters
	}

	if err := svc.storageSvc.CreateRegistration(reg); err != nil {
		if !errors.Is(err, ErrRegistrationExists) {
			return nil, shared.NewInternalError(err, "Failed to save registration")
		}
		alreadyRegistered = true
	}

	bindDeferred := false
	if sess.DeviceHash != "" {
		if err := svc.identitySvc.BindToPhone(phone, sess.DeviceHash); err != nil {
			// Binding is best effort; registration already stands.
			log.WithError(err).WithField("phone", phone).Warn("Device bind failed, deferring")
			bindDeferred = true
		}
	}

	sess.mu.Lock()
	sess.Phone = phone
	sess.Registered = true
	sess.State = shared.StateReadyForIntro
	sess.mu.Unlock()

	svc.logEventWithGeofence(sess, "register", &decision, position)
	observeRegistration(alreadyRegistered)

	return &dto.RegisterResponse{
		State:              shared.StateReadyForIntro,
		AlreadyRegistered:  alreadyRegistered,
		DeviceBindDeferred: bindDeferred,
		Geofence:           &decision,
	}, nil
}

// ==================== PLAYBACK GATES ====================

// StartIntro preflights the intro video and advances to playing_intro.
// The camera must be live first; the intro itself is not geofenced.
func (svc *GateService) StartIntro(ctx context.Context, sessionID string, req dto.StartIntroRequest) (*dto.StartPlaybackResponse, error) {
	sess, err := svc.session(sessionID)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	if sess.State != shared.StateReadyForIntro {
		state := sess.State
		sess.mu.Unlock()
		return refused(state, "not-ready"), nil
	}
	if !req.CameraReady {
		sess.mu.Unlock()
		return refused(shared.StateReadyForIntro, "camera-not-ready"), nil
	}
	if sess.introBusy {
		sess.mu.Unlock()
		return refused(shared.StateReadyForIntro, "busy"), nil
	}
	sess.introBusy = true
	sess.mu.Unlock()

	defer func() {
		sess.mu.Lock()
		sess.introBusy = false
		sess.mu.Unlock()
	}()

	content, err := svc.mediaSvc.GetIntroContent(ctx)
	if err != nil {
		return nil, shared.NewNotFoundError(err, "No intro content available")
	}

	resp, err := svc.preflight(ctx, sess, content)
	if err != nil {
		return nil, err
	}
	if !resp.Started {
		svc.logEvent(sess, "intro_load_failed", nil, req.Position)
		return resp, nil
	}

	sess.mu.Lock()
	sess.State = shared.StatePlayingIntro
	sess.mu.Unlock()
	resp.State = shared.StatePlayingIntro

	svc.logEvent(sess, "intro_start", nil, req.Position)

	// Warm the exercise path while the intro plays, but only when a
	// fresh fix already clears the fence. Purely best effort.
	if req.Position != nil {
		go svc.prefetchExercise(sess, *req.Position)
	}

	return resp, nil
}

// IntroEnded moves the session to the menu once the client reports the
// intro finished.
func (svc *GateService) IntroEnded(sessionID string) (*dto.SessionStateResponse, error) {
	sess, err := svc.session(sessionID)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	if sess.State == shared.StatePlayingIntro {
		sess.State = shared.StateMenuShown
	}
	sess.mu.Unlock()

	svc.logEvent(sess, "intro_end", nil, nil)
	return svc.stateLocked(sess), nil
}

// StartExercise is the hard gate: a fresh geofence pass is required every
// time, and a refusal is a quiet non-start rather than an error.
func (svc *GateService) StartExercise(ctx context.Context, sessionID string, req dto.StartExerciseRequest, clientIP string) (*dto.StartPlaybackResponse, error) {
	sess, err := svc.session(sessionID)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	if sess.State != shared.StateMenuShown {
		state := sess.State
		sess.mu.Unlock()
		return refused(state, "not-ready"), nil
	}
	if sess.exerciseBusy {
		sess.mu.Unlock()
		return refused(shared.StateMenuShown, "busy"), nil
	}
	sess.exerciseBusy = true
	sess.mu.Unlock()

	defer func() {
		sess.mu.Lock()
		sess.exerciseBusy = false
		sess.mu.Unlock()
	}()

	position := svc.resolvePosition(ctx, req.Position, clientIP)
	decision := svc.evaluateGeofence(ctx, sess, position)
	observeGeofenceDecision("exercise", decision.Reason)

	if !decision.OK {
		svc.logEventWithGeofence(sess, "exercise_refused", &decision, position)
		return &dto.StartPlaybackResponse{
			Started: false,
			State:   shared.StateMenuShown,
			Reason:  decision.Reason,
		}, nil
	}

	resp := svc.takePrefetched(sess)
	if resp != nil {
		log.WithFields(log.Fields{"session_id": sess.ID, "kind": resp.EffectiveKind}).Debug("Reusing prewarmed exercise media")
	} else {
		content, err := svc.exerciseContent(ctx, sess)
		if err != nil {
			return nil, err
		}

		resp, err = svc.preflight(ctx, sess, content)
		if err != nil {
			return nil, err
		}
	}
	if !resp.Started {
		svc.logEventWithGeofence(sess, "exercise_load_failed", &decision, position)
		return resp, nil
	}

	sess.mu.Lock()
	sess.State = shared.StatePlayingExercise
	sess.mu.Unlock()
	resp.State = shared.StatePlayingExercise

	svc.logEventWithGeofence(sess, "exercise_start", &decision, position)
	return resp, nil
}

// Back returns from the exercise to the menu.
func (svc *GateService) Back(sessionID string) (*dto.SessionStateResponse, error) {
	sess, err := svc.session(sessionID)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	if sess.State == shared.StatePlayingExercise {
		sess.State = shared.StateMenuShown
	}
	sess.mu.Unlock()

	svc.logEvent(sess, "exercise_back", nil, nil)
	return svc.stateLocked(sess), nil
}

// ==================== INTERNALS ====================

// preflight negotiates sources for the session's platform, verifies one
// is actually reachable and decodable, then corrects the claimed alpha
// mode against the poster frame.
func (svc *GateService) preflight(ctx context.Context, sess *gateSession, content *model.Content) (*dto.StartPlaybackResponse, error) {
	sources, err := svc.capabilitySvc.ParseContent(content)
	if err != nil {
		return nil, shared.NewInternalError(err, "Malformed content record")
	}
	sources = svc.mediaSvc.ResolveSources(sources)

	candidates := svc.capabilitySvc.Rank(sources, sess.Platform)
	if len(candidates) == 0 {
		sessState := svc.stateLocked(sess)
		return &dto.StartPlaybackResponse{
			Started: false,
			State:   sessState.State,
			Reason:  "no-playable-source",
		}, nil
	}

	kind, err := svc.loaderSvc.Load(ctx, NewHTTPSink(svc.httpClient), candidates)
	if err != nil {
		if errors.Is(err, ErrLoadSuperseded) || errors.Is(err, context.Canceled) {
			return nil, shared.NewConflictError(err, "Load superseded")
		}
		var exhausted *LoadExhaustedError
		if errors.As(err, &exhausted) {
			log.WithError(err).WithField("content_id", content.ID).Warn("All media candidates failed")
			sessState := svc.stateLocked(sess)
			return &dto.StartPlaybackResponse{
				Started: false,
				State:   sessState.State,
				Reason:  "load-failed",
			}, nil
		}
		return nil, shared.NewInternalError(err, "Media preflight failed")
	}

	effective := kind
	if sources.PosterURL != "" {
		effective = svc.alphaSvc.Correct(ctx, NewPosterSampler(svc.httpClient, sources.PosterURL), kind)
	}

	return &dto.StartPlaybackResponse{
		Started:       true,
		Candidate:     candidateForKind(candidates, kind),
		EffectiveKind: effective,
		CompositeMode: compositeModeFor(effective),
	}, nil
}

// prefetchExercise warms the exercise media while the intro plays. Any
// failure here is invisible: the real gate runs again at StartExercise.
func (svc *GateService) prefetchExercise(sess *gateSession, position dto.Position) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("Exercise prefetch panicked")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	decision := svc.evaluateGeofence(ctx, sess, &position)
	if !decision.OK {
		return
	}

	content, err := svc.exerciseContent(ctx, sess)
	if err != nil {
		return
	}

	resp, err := svc.preflight(ctx, sess, content)
	if err != nil || !resp.Started {
		log.WithError(err).Debug("Exercise prefetch did not complete")
		return
	}

	sess.mu.Lock()
	sess.prefetched = resp
	sess.prefetchedAt = time.Now()
	sess.mu.Unlock()
}

// takePrefetched consumes the prewarmed outcome at most once. Stale
// outcomes are dropped so a long-idle menu still gets a fresh preflight.
func (svc *GateService) takePrefetched(sess *gateSession) *dto.StartPlaybackResponse {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	resp := sess.prefetched
	sess.prefetched = nil
	if resp == nil || time.Since(sess.prefetchedAt) > prefetchMaxAge {
		return nil
	}
	return resp
}

func (svc *GateService) exerciseContent(ctx context.Context, sess *gateSession) (*model.Content, error) {
	sess.mu.Lock()
	locationID := sess.LocationID
	sess.mu.Unlock()

	if locationID == "" {
		return nil, shared.NewNotFoundError(nil, "Session has no location")
	}

	content, err := svc.mediaSvc.GetLocationContent(ctx, locationID)
	if err != nil {
		return nil, shared.NewNotFoundError(err, "No exercise content for location")
	}
	return content, nil
}

// resolvePosition prefers the client's GPS fix and falls back to a
// coarse IP estimate. A failed fallback yields nil, which the geofence
// reports as gps-missing.
func (svc *GateService) resolvePosition(ctx context.Context, position *dto.Position, clientIP string) *dto.Position {
	if position != nil && (position.Latitude != 0 || position.Longitude != 0) {
		return position
	}

	fallback, err := svc.geoIPSvc.PositionByIP(ctx, clientIP)
	if err != nil {
		log.WithError(err).Debug("IP position fallback failed")
		return nil
	}
	return fallback
}

func (svc *GateService) evaluateGeofence(ctx context.Context, sess *gateSession, position *dto.Position) dto.GeofenceDecision {
	sess.mu.Lock()
	locationID := sess.LocationID
	sess.mu.Unlock()

	var location *model.Location
	if locationID != "" {
		loc, err := svc.mediaSvc.GetLocation(ctx, locationID)
		if err != nil {
			log.WithError(err).WithField("location_id", locationID).Warn("Location lookup failed")
		} else {
			location = loc
		}
	}

	return svc.geofenceSvc.Evaluate(position, location, DefaultFenceRadiusMeters)
}

func (svc *GateService) session(sessionID string) (*gateSession, error) {
	svc.mu.RLock()
	sess, ok := svc.sessions[sessionID]
	svc.mu.RUnlock()

	if !ok {
		return nil, shared.NewUnauthorizedError(nil, "Unknown session")
	}
	return sess, nil
}

func (svc *GateService) stateLocked(sess *gateSession) *dto.SessionStateResponse {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	return &dto.SessionStateResponse{
		SessionID:  sess.ID,
		State:      sess.State,
		Registered: sess.Registered,
		LocationID: sess.LocationID,
	}
}

func (svc *GateService) logEvent(sess *gateSession, event string, decision *dto.GeofenceDecision, position *dto.Position) {
	svc.logEventWithGeofence(sess, event, decision, position)
}

func (svc *GateService) logEventWithGeofence(sess *gateSession, event string, decision *dto.GeofenceDecision, position *dto.Position) {
	entry := &model.ScanLog{
		SessionID:  sess.ID,
		DeviceHash: sess.DeviceHash,
		LocationID: sess.LocationID,
		Event:      event,
		UserAgent:  sess.UserAgent,
		CreatedAt:  time.Now(),
	}
	if decision != nil {
		entry.GeofenceReason = decision.Reason
		entry.DistanceMeters = decision.DistanceMeters
	}
	if position != nil {
		entry.Lat = position.Latitude
		entry.Lng = position.Longitude
		entry.AccuracyMeters = position.AccuracyMeters
	}

	if err := svc.storageSvc.CreateScanLog(entry); err != nil {
		log.WithError(err).WithField("event", event).Warn("Failed to write scan log")
	}
}

func withUserAgent(report dto.CapabilityReport, userAgent string) dto.CapabilityReport {
	if report.UserAgent == "" {
		report.UserAgent = userAgent
	}
	return report
}

func candidateForKind(candidates []dto.MediaCandidate, kind string) *dto.MediaCandidate {
	for i := range candidates {
		if candidates[i].Kind == kind {
			return &candidates[i]
		}
	}
	return nil
}

func compositeModeFor(kind string) string {
	switch kind {
	case shared.KindAlpha:
		return shared.CompositeAlphaMap
	case shared.KindSBS:
		return shared.CompositeSBSShader
	default:
		return ""
	}
}

func refused(state, reason string) *dto.StartPlaybackResponse {
	return &dto.StartPlaybackResponse{
		Started: false,
		State:   state,
		Reason:  reason,
	}
}
