package practicedto

type RequestMeta struct {
	UserID string
}

type StartSessionRequest struct {
	Meta         RequestMeta
	RepertoireID string
	// Config fields left at their zero value fall back to the service defaults.
	MaxMoves        *int
	Strictness      string
	AllowVariations *bool
	OpeningID       string
	Seed            int64
}

type StartSessionResponse struct {
	State *SessionState
}

type StatusRequest struct {
	Meta RequestMeta
}

type StatusResponse struct {
	State *SessionState
}

type PlayRequest struct {
	Meta RequestMeta
	Move string
}

type PlayResponse struct {
	Result *MoveResult
	State  *SessionState
}

type HintRequest struct {
	Meta RequestMeta
}

type HintResponse struct {
	Moves []HintMove
}

type EndRequest struct {
	Meta RequestMeta
}

type EndResponse struct {
	State *SessionState
}

type HistoryRequest struct {
	Meta  RequestMeta
	Limit int
}

type HistoryResponse struct {
	Sessions []*SessionSummary
}

type SessionRequest struct {
	Meta      RequestMeta
	SessionID string
}

type SessionResponse struct {
	Session *SessionSummary
	Moves   []*MoveRecord
}

type ImportRequest struct {
	Meta       RequestMeta
	Repertoire string
}

type ImportResponse struct {
	Repertoire *RepertoireInfo
}

type InspectRequest struct {
	Meta         RequestMeta
	RepertoireID string
}

type InspectResponse struct {
	Repertoire *RepertoireInfo
}

type ListRepertoiresRequest struct {
	Meta RequestMeta
}

type ListRepertoiresResponse struct {
	Repertoires []RepertoireListing
}
