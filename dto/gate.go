package dto

import "time"

// Position is one GPS fix. Ephemeral: re-fetched at every decision point,
// never persisted as-is.
type Position struct {
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	AccuracyMeters float64   `json:"accuracy_meters"`
	Timestamp      time.Time `json:"timestamp"`
}

// GeofenceDecision is derived, never cached across calls.
type GeofenceDecision struct {
	OK                   bool    `json:"ok"`
	Reason               string  `json:"reason"` // shared.Geofence*
	DistanceMeters       float64 `json:"distance_meters"`
	AllowedRadiusMeters  float64 `json:"allowed_radius_meters"`
	AccuracyBufferMeters float64 `json:"accuracy_buffer_meters"`
}

// MediaCandidate is one ranked, attempt-ready playable source. Ordering is
// part of the data: first match wins.
type MediaCandidate struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type,omitempty"`
	Kind     string `json:"kind"` // shared.KindAlpha | KindSBS | KindFlat
}

// ContentSources is the typed result of decoding a raw content record at
// the store boundary. At most one URL per kind.
type ContentSources struct {
	ContentID string `json:"content_id"`
	Alpha     string `json:"alpha,omitempty"` // webm with native alpha
	SBS       string `json:"sbs,omitempty"`   // side-by-side alpha mp4
	Flat      string `json:"flat,omitempty"`  // opaque mp4/mov
	PosterURL string `json:"poster_url,omitempty"`
}

// Platform describes the requesting device's decode surface.
type Platform struct {
	IsIOS     bool
	CanDecode func(mimeType string) bool
}

// CapabilityReport is what the client probes and sends along.
type CapabilityReport struct {
	UserAgent      string   `json:"user_agent"`
	IsIOS          bool     `json:"is_ios"`
	DecodableMimes []string `json:"decodable_mimes" validate:"omitempty,dive,min=1"`
}

type StartSessionRequest struct {
	DeviceHash string           `json:"device_hash" validate:"omitempty,device_hash"`
	LocationID string           `json:"location_id" validate:"omitempty,max=100"`
	Capability CapabilityReport `json:"capability"`
	Position   *Position        `json:"position"`
}

func (r StartSessionRequest) Validate() error {
	return GetValidator().Struct(r)
}

type StartSessionResponse struct {
	SessionID  string `json:"session_id"`
	Token      string `json:"token"`
	State      string `json:"state"`
	Registered bool   `json:"registered"`
	Phone      string `json:"phone,omitempty"`
}

type RegisterRequest struct {
	Phone    string    `json:"phone" validate:"required,phone_e164"`
	Position *Position `json:"position"`
}

func (r RegisterRequest) Validate() error {
	return GetValidator().Struct(r)
}

type RegisterResponse struct {
	State              string            `json:"state"`
	AlreadyRegistered  bool              `json:"already_registered"`
	Geofence           *GeofenceDecision `json:"geofence,omitempty"`
	DeviceBindDeferred bool              `json:"device_bind_deferred,omitempty"`
}

type StartIntroRequest struct {
	CameraReady bool      `json:"camera_ready"`
	Position    *Position `json:"position"`
}

func (r StartIntroRequest) Validate() error {
	return GetValidator().Struct(r)
}

type StartPlaybackResponse struct {
	Started       bool            `json:"started"`
	State         string          `json:"state"`
	Candidate     *MediaCandidate `json:"candidate,omitempty"`
	EffectiveKind string          `json:"effective_kind,omitempty"`
	CompositeMode string          `json:"composite_mode,omitempty"`
	Reason        string          `json:"reason,omitempty"`
}

type StartExerciseRequest struct {
	Position *Position `json:"position"`
}

func (r StartExerciseRequest) Validate() error {
	return GetValidator().Struct(r)
}

type SessionStateResponse struct {
	SessionID  string `json:"session_id"`
	State      string `json:"state"`
	Registered bool   `json:"registered"`
	LocationID string `json:"location_id,omitempty"`
}
