package shared

const (
	SessionID = "session_id"

	// Geofence decision reasons
	GeofenceOK         = "ok"
	GeofenceTooFar     = "too-far"
	GeofenceLocMissing = "loc-missing"
	GeofenceGPSMissing = "gps-missing"

	// Media candidate kinds
	KindAlpha = "alpha"
	KindSBS   = "sbs"
	KindFlat  = "flat"

	// Composite modes the AR layer can attach
	CompositeAlphaMap  = "alpha-map"
	CompositeSBSShader = "sbs-shader"

	// Gate session states
	StateResolvingIdentity    = "resolving_identity"
	StateAwaitingRegistration = "awaiting_registration"
	StateReadyForIntro        = "ready_for_intro"
	StatePlayingIntro         = "playing_intro"
	StateMenuShown            = "menu_shown"
	StatePlayingExercise      = "playing_exercise"

	// Loader failure classes
	FailureNetwork     = "network"
	FailureDecode      = "decode"
	FailureUnsupported = "unsupported-type"
	FailureTimeout     = "timeout"
)
