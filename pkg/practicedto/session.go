package practicedto

import "time"

type Stats struct {
	TotalMoves         int `json:"total_moves"`
	CorrectMoves       int `json:"correct_moves"`
	Mistakes           int `json:"mistakes"`
	BookMoves          int `json:"book_moves,omitempty"`
	BestMoves          int `json:"best_moves,omitempty"`
	GoodMoves          int `json:"good_moves,omitempty"`
	Inaccuracies       int `json:"inaccuracies,omitempty"`
	Blunders           int `json:"blunders,omitempty"`
	AccuracyPercentage int `json:"accuracy_percentage"`
}

type SessionState struct {
	SessionID    string
	RepertoireID string
	Color        string
	State        string
	FEN          string
	Plies        int
	MaxMoves     int
	Strictness   string
	Stats        Stats
	LastOpponent *OpponentMove
	Completed    bool
	Reason       string
	Failed       bool
	Failure      string
}

type OpponentMove struct {
	SAN string `json:"san"`
	UCI string `json:"uci"`
	FEN string `json:"fen"`
}

type MoveRecord struct {
	Seq           int      `json:"seq"`
	Ply           int      `json:"ply"`
	Move          string   `json:"move"`
	UCI           string   `json:"uci"`
	Category      string   `json:"category"`
	Correct       bool     `json:"correct"`
	ExpectedMove  string   `json:"expected_move,omitempty"`
	ExpectedMoves []string `json:"expected_moves,omitempty"`
	Reverted      bool     `json:"reverted,omitempty"`
	CentipawnLoss *int     `json:"centipawn_loss,omitempty"`
	FENBefore     string   `json:"fen_before"`
	FENAfter      string   `json:"fen_after"`
}

type MoveResult struct {
	Input        string
	Rejected     bool
	RejectReason string
	Move         *MoveRecord
	Opponent     *OpponentMove
	Completed    bool
	Reason       string
}

type HintMove struct {
	SAN      string
	UCI      string
	MainLine bool
	Comment  string
	Openings []string
}

type SessionSummary struct {
	SessionID    string
	RepertoireID string
	Color        string
	StartedAt    time.Time
	EndedAt      *time.Time
	Reason       string
	Failed       bool
	Stats        Stats
}

type OpeningInfo struct {
	ID    string
	Name  string
	ECO   string
	Moves int
}

type RepertoireInfo struct {
	ID        string
	Name      string
	Color     string
	Positions int
	Edges     int
	Openings  []OpeningInfo
}

type RepertoireListing struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Color     string    `json:"color"`
	Openings  int       `json:"openings"`
	UpdatedAt time.Time `json:"updated_at"`
}
