package session

import "errors"

var (
	ErrAlreadyRecording     = errors.New("a session is already recording")
	ErrSessionProcessing    = errors.New("the current session is still processing")
	ErrNoActiveSession      = errors.New("no active session")
	ErrNothingToAcknowledge = errors.New("session has no result to acknowledge")
	ErrPollTimeout          = errors.New("timed out")
	ErrBackendFailed        = errors.New("transcription backend failed")
	ErrCoordinatorStopped   = errors.New("session coordinator is not running")
)
