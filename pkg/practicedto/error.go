package practicedto

// Error codes returned by the trainer service.
const (
	CodeRepertoireNotFound  = "repertoire_not_found"
	CodeMalformedRepertoire = "malformed_repertoire"
	CodeSessionNotFound     = "session_not_found"
	CodeSessionInProgress   = "session_in_progress"
	CodeSessionComplete     = "session_complete"
	CodeNotYourTurn         = "not_your_turn"
	CodeInvalidConfig       = "invalid_config"
	CodeInvalidRequest      = "invalid_request"
	CodeOpponentFailed      = "opponent_failed"
	CodeStorage             = "storage_unavailable"
)

type DomainError struct {
	Code      string
	Message   string
	Retryable bool
}

func (e DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return "trainer service error"
}
