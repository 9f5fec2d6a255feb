package practicepresenter

import (
	"context"
	"errors"

	corechess "github.com/park285/cheese-repertoire/internal/chess"
	"github.com/park285/cheese-repertoire/internal/domain"
	"github.com/park285/cheese-repertoire/internal/practice"
	"github.com/park285/cheese-repertoire/internal/repertoire"
	svc "github.com/park285/cheese-repertoire/internal/service/trainer"
	"github.com/park285/cheese-repertoire/internal/storage"
	"github.com/park285/cheese-repertoire/pkg/practicedto"
)

func ToDTOState(s *svc.SessionState) *practicedto.SessionState {
	if s == nil || s.Session == nil {
		return nil
	}
	out := &practicedto.SessionState{
		SessionID:    s.Session.ID,
		RepertoireID: s.Session.RepertoireID,
		Color:        string(s.Session.Color),
		State:        s.State.String(),
		FEN:          s.FEN,
		Plies:        s.Plies,
		MaxMoves:     s.Session.Config.MaxMoves,
		Strictness:   string(s.Session.Config.Strictness),
		Stats:        ToDTOStats(s.Session.Stats),
		LastOpponent: ToDTOOpponent(s.LastOpponent),
		Completed:    s.State == practice.StateSessionComplete,
		Reason:       string(s.Session.CompletionReason),
		Failed:       s.Session.Failed,
		Failure:      s.Session.FailureReason,
	}
	return out
}

func ToDTOMoveResult(m *svc.MoveSummary) *practicedto.MoveResult {
	if m == nil {
		return nil
	}
	out := &practicedto.MoveResult{
		Input:        m.Input,
		Rejected:     m.Outcome.Rejected,
		RejectReason: m.Outcome.RejectReason,
		Opponent:     ToDTOOpponent(m.Outcome.Opponent),
		Completed:    m.Outcome.Completed,
		Reason:       string(m.Outcome.Reason),
	}
	if m.Outcome.Move != nil {
		out.Move = ToDTOMove(*m.Outcome.Move)
	}
	return out
}

func ToDTOMove(m domain.PracticeMove) *practicedto.MoveRecord {
	out := &practicedto.MoveRecord{
		Seq:           m.Seq,
		Ply:           m.Ply,
		Move:          m.UserMove,
		UCI:           m.UserMoveUCI,
		Category:      string(m.Category),
		Correct:       m.Category.IsCorrect(),
		ExpectedMove:  m.ExpectedMove,
		ExpectedMoves: append([]string(nil), m.ExpectedMoves...),
		Reverted:      m.Reverted,
		FENBefore:     m.FENBefore,
		FENAfter:      m.FENAfter,
	}
	if m.Quality != nil {
		loss := m.Quality.CentipawnLoss
		out.CentipawnLoss = &loss
	}
	return out
}

func ToDTOMoves(moves []domain.PracticeMove) []*practicedto.MoveRecord {
	out := make([]*practicedto.MoveRecord, 0, len(moves))
	for _, m := range moves {
		out = append(out, ToDTOMove(m))
	}
	return out
}

func ToDTOOpponent(a *corechess.Applied) *practicedto.OpponentMove {
	if a == nil {
		return nil
	}
	return &practicedto.OpponentMove{SAN: a.SAN, UCI: a.UCI, FEN: a.FEN}
}

func ToDTOStats(s domain.PracticeStats) practicedto.Stats {
	return practicedto.Stats{
		TotalMoves:         s.TotalMoves,
		CorrectMoves:       s.CorrectMoves,
		Mistakes:           s.Mistakes,
		BookMoves:          s.BookMoves,
		BestMoves:          s.BestMoves,
		GoodMoves:          s.GoodMoves,
		Inaccuracies:       s.Inaccuracies,
		Blunders:           s.Blunders,
		AccuracyPercentage: s.AccuracyPercentage,
	}
}

func ToDTOSummary(s *domain.PracticeSession) *practicedto.SessionSummary {
	if s == nil {
		return nil
	}
	out := &practicedto.SessionSummary{
		SessionID:    s.ID,
		RepertoireID: s.RepertoireID,
		Color:        string(s.Color),
		StartedAt:    s.StartedAt,
		Reason:       string(s.CompletionReason),
		Failed:       s.Failed,
		Stats:        ToDTOStats(s.Stats),
	}
	if s.EndedAt != nil {
		ended := *s.EndedAt
		out.EndedAt = &ended
	}
	return out
}

func ToDTOSummaries(list []*domain.PracticeSession) []*practicedto.SessionSummary {
	out := make([]*practicedto.SessionSummary, 0, len(list))
	for _, s := range list {
		if dto := ToDTOSummary(s); dto != nil {
			out = append(out, dto)
		}
	}
	return out
}

func ToDTOHints(list []repertoire.Continuation) []practicedto.HintMove {
	out := make([]practicedto.HintMove, 0, len(list))
	for _, c := range list {
		out = append(out, practicedto.HintMove{
			SAN:      c.SAN,
			UCI:      c.UCI,
			MainLine: c.IsMainLine,
			Comment:  c.Comment,
			Openings: append([]string(nil), c.Openings...),
		})
	}
	return out
}

func ToDTORepertoire(r *svc.RepertoireReport) *practicedto.RepertoireInfo {
	if r == nil || r.Repertoire == nil {
		return nil
	}
	rep := r.Repertoire
	out := &practicedto.RepertoireInfo{
		ID:        rep.ID,
		Name:      rep.Name,
		Color:     string(rep.Color),
		Positions: r.Positions,
		Edges:     r.Edges,
		Openings:  make([]practicedto.OpeningInfo, 0, len(rep.Openings)),
	}
	for _, line := range rep.Openings {
		single := domain.Repertoire{Openings: []domain.OpeningLine{line}}
		out.Openings = append(out.Openings, practicedto.OpeningInfo{
			ID:    line.ID,
			Name:  line.Name,
			ECO:   line.ECO,
			Moves: single.EdgeCount(),
		})
	}
	return out
}

func ToDTOListings(list []storage.RepertoireSummary) []practicedto.RepertoireListing {
	out := make([]practicedto.RepertoireListing, 0, len(list))
	for _, r := range list {
		out = append(out, practicedto.RepertoireListing{
			ID:        r.ID,
			Name:      r.Name,
			Color:     string(r.Color),
			Openings:  r.Openings,
			UpdatedAt: r.UpdatedAt,
		})
	}
	return out
}

// ToDTOEvent flattens an engine event into its feed frame.
func ToDTOEvent(ev practice.Event) practicedto.Event {
	out := practicedto.Event{
		Kind:      string(ev.Kind),
		SessionID: ev.SessionID,
		State:     ev.State.String(),
		At:        ev.At,
		Input:     ev.Input,
		Opponent:  ToDTOOpponent(ev.Opponent),
		Reason:    string(ev.Reason),
	}
	if ev.Move != nil {
		out.Move = ToDTOMove(*ev.Move)
	}
	if ev.Stats != nil {
		stats := ToDTOStats(*ev.Stats)
		out.Stats = &stats
	}
	if ev.Err != nil {
		out.Error = ev.Err.Error()
	}
	return out
}

// ToDomainError maps service and engine errors onto stable codes. Unknown
// errors pass through unchanged.
func ToDomainError(err error) error {
	if err == nil {
		return nil
	}
	var de practicedto.DomainError
	if errors.As(err, &de) {
		return de
	}
	var malformed *repertoire.MalformedRepertoireError
	var opponent *practice.OpponentMoveError
	switch {
	case errors.Is(err, svc.ErrRepertoireNotFound):
		return practicedto.DomainError{Code: practicedto.CodeRepertoireNotFound, Message: err.Error()}
	case errors.As(err, &malformed):
		return practicedto.DomainError{Code: practicedto.CodeMalformedRepertoire, Message: err.Error()}
	case errors.Is(err, svc.ErrSessionNotFound):
		return practicedto.DomainError{Code: practicedto.CodeSessionNotFound, Message: err.Error()}
	case errors.Is(err, svc.ErrSessionInProgress):
		return practicedto.DomainError{Code: practicedto.CodeSessionInProgress, Message: err.Error()}
	case errors.Is(err, practice.ErrSessionComplete):
		return practicedto.DomainError{Code: practicedto.CodeSessionComplete, Message: err.Error()}
	case errors.Is(err, practice.ErrNotPlayerTurn):
		return practicedto.DomainError{Code: practicedto.CodeNotYourTurn, Message: err.Error(), Retryable: true}
	case errors.Is(err, svc.ErrInvalidConfig):
		return practicedto.DomainError{Code: practicedto.CodeInvalidConfig, Message: err.Error()}
	case errors.Is(err, svc.ErrUserRequired):
		return practicedto.DomainError{Code: practicedto.CodeInvalidRequest, Message: err.Error()}
	case errors.As(err, &opponent):
		return practicedto.DomainError{Code: practicedto.CodeOpponentFailed, Message: err.Error()}
	case errors.Is(err, svc.ErrNotReady), errors.Is(err, context.DeadlineExceeded):
		return practicedto.DomainError{Code: practicedto.CodeStorage, Message: err.Error(), Retryable: true}
	}
	return err
}
