package handsfree

// Phase is the orchestrator's position in the conversational loop. Exactly
// one phase holds at any instant; transitions are validated under the
// orchestrator's mutex.
type Phase int

const (
	// PhaseDisabled means handsfree is off. Terminal per activation;
	// reachable from every other phase via Deactivate.
	PhaseDisabled Phase = iota

	// PhaseIdle means VAD is armed and listening for speech.
	PhaseIdle

	// PhaseRecording means a recorder is capturing the user's utterance.
	PhaseRecording

	// PhaseTranscribing means the recording upload and transcript stream
	// are in flight.
	PhaseTranscribing

	// PhaseAwaitingPlayback means the transcript was emitted and the
	// orchestrator is waiting for the assistant turn to start playing.
	PhaseAwaitingPlayback

	// PhasePlaying means TTS audio is flowing; VAD is fully disarmed.
	PhasePlaying
)

var phaseNames = map[Phase]string{
	PhaseDisabled:         "disabled",
	PhaseIdle:             "idle",
	PhaseRecording:        "recording",
	PhaseTranscribing:     "transcribing",
	PhaseAwaitingPlayback: "awaiting_playback",
	PhasePlaying:          "playing",
}

func (p Phase) String() string {
	if s, ok := phaseNames[p]; ok {
		return s
	}
	return "unknown"
}
