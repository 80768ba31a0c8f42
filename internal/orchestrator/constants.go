// Package orchestrator runs voice sessions: microphone in, gated PCM out to the
// speech service, transcriptions and status back to observers.
package orchestrator

// Orchestrator configuration constants
const (
	// Transcript store configuration
	TranscriptMaxEntries  = 30
	TranscriptEventBuffer = 100

	// Transcript source label for speech service results
	TranscriptSource = "stt"
)

// Status messages shown to the user.
const (
	MsgIdle             = "Ready."
	MsgInitializing     = "Initializing microphone..."
	MsgConnecting       = "Connecting to speech service..."
	MsgListening        = "Listening... Speak now."
	MsgStopped          = "Session stopped."
	MsgSilence          = "Session ended (silence)."
	MsgRemoteClosed     = "Session ended by speech service."
	MsgConnectError     = "Error connecting to service."
	MsgShutdown         = "Service shutting down."
	msgDeviceErrorFmt   = "Mic Error: %s."
	msgDeviceErrGeneric = "microphone unavailable"
)
