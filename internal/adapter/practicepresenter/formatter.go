package practicepresenter

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/park285/cheese-repertoire/internal/msgcat"
	"github.com/park285/cheese-repertoire/pkg/practicedto"
)

const historyTimeLayout = "2006-01-02 15:04"

// Formatter renders trainer DTOs as terminal text through the message
// catalog. Every render has a plain fallback so a broken override never
// hides feedback.
type Formatter struct {
	cat *msgcat.Catalog
	loc *time.Location
}

func NewFormatter(cat *msgcat.Catalog) *Formatter {
	return &Formatter{cat: cat, loc: time.Local}
}

func (f *Formatter) render(key string, data map[string]any, fallback string) string {
	if f == nil || f.cat == nil {
		return fallback
	}
	out, err := f.cat.Render(key, data)
	if err != nil {
		return fallback
	}
	return out
}

func (f *Formatter) Start(state *practicedto.SessionState, repertoireName string) string {
	if state == nil {
		return ""
	}
	name := strings.TrimSpace(repertoireName)
	if name == "" {
		name = state.RepertoireID
	}
	limit := f.render("session.unlimited", nil, "no move limit")
	if state.MaxMoves > 0 {
		limit = f.render("session.limited", map[string]any{"MaxMoves": state.MaxMoves}, fmt.Sprintf("%d plies", state.MaxMoves))
	}
	var sb strings.Builder
	sb.WriteString(f.render("session.start", map[string]any{
		"Repertoire": name,
		"Color":      state.Color,
		"Strictness": state.Strictness,
		"Limit":      limit,
	}, fmt.Sprintf("Drilling %s as %s.", name, state.Color)))
	if state.LastOpponent != nil {
		sb.WriteString("\n")
		sb.WriteString(f.opponent(state.LastOpponent))
	}
	sb.WriteString("\n")
	sb.WriteString(f.turnOrEnd(state))
	return sb.String()
}

// Move describes one submission: the verdict, the reply, then what comes next.
func (f *Formatter) Move(res *practicedto.MoveResult, state *practicedto.SessionState) string {
	if res == nil {
		return ""
	}
	if res.Rejected {
		return f.render("move.rejected", map[string]any{"Input": res.Input}, res.Input+" is not a legal move here.")
	}
	var lines []string
	if m := res.Move; m != nil {
		lines = append(lines, f.verdict(m))
		if m.Reverted {
			lines = append(lines, f.render("move.reverted", nil, "Try again."))
		}
	}
	if res.Opponent != nil {
		lines = append(lines, f.opponent(res.Opponent))
	}
	if state != nil {
		lines = append(lines, f.turnOrEnd(state))
	}
	return strings.Join(lines, "\n")
}

func (f *Formatter) verdict(m *practicedto.MoveRecord) string {
	switch {
	case !m.Correct && m.Category == "incorrect":
		expected := m.ExpectedMove
		if len(m.ExpectedMoves) > 1 {
			expected = strings.Join(m.ExpectedMoves, ", ")
		}
		if expected == "" {
			return f.render("move.unprepared", map[string]any{"Move": m.Move},
				m.Move+" is not in your repertoire. No move is prepared here.")
		}
		return f.render("move.incorrect", map[string]any{"Move": m.Move, "Expected": expected},
			fmt.Sprintf("%s is not in your repertoire.", m.Move))
	case m.Category == "book":
		return f.render("move.book", map[string]any{"Move": m.Move}, m.Move+": book move.")
	case m.CentipawnLoss != nil:
		return f.render("move.graded", map[string]any{"Move": m.Move, "Category": m.Category, "Loss": *m.CentipawnLoss},
			fmt.Sprintf("%s: %s", m.Move, m.Category))
	default:
		return f.render("move.correct", map[string]any{"Move": m.Move}, m.Move+": correct.")
	}
}

func (f *Formatter) opponent(o *practicedto.OpponentMove) string {
	return f.render("session.opponent", map[string]any{"SAN": o.SAN}, "Opponent plays "+o.SAN+".")
}

func (f *Formatter) turnOrEnd(state *practicedto.SessionState) string {
	if !state.Completed {
		return f.render("session.your_turn", nil, "Your move.")
	}
	if state.Failed {
		return f.render("session.failed", map[string]any{"Failure": state.Failure}, "Session stopped: "+state.Failure)
	}
	return f.render("session.complete", map[string]any{
		"Reason":   f.Reason(state.Reason),
		"Accuracy": state.Stats.AccuracyPercentage,
		"Correct":  state.Stats.CorrectMoves,
		"Total":    state.Stats.TotalMoves,
	}, fmt.Sprintf("Session over. Accuracy %d%%.", state.Stats.AccuracyPercentage))
}

func (f *Formatter) Reason(reason string) string {
	if reason == "" {
		return ""
	}
	return f.render("reason."+reason, nil, reason)
}

func (f *Formatter) Status(state *practicedto.SessionState) string {
	if state == nil {
		return ""
	}
	return f.render("session.status", map[string]any{
		"SessionID": state.SessionID,
		"State":     state.State,
		"Plies":     state.Plies,
		"Accuracy":  state.Stats.AccuracyPercentage,
		"Correct":   state.Stats.CorrectMoves,
		"Total":     state.Stats.TotalMoves,
	}, fmt.Sprintf("Session %s: %s", state.SessionID, state.State))
}

func (f *Formatter) End(state *practicedto.SessionState) string {
	if state == nil {
		return ""
	}
	return f.turnOrEnd(state)
}

func (f *Formatter) Hint(moves []practicedto.HintMove) string {
	if len(moves) == 0 {
		return f.render("hint.none", nil, "No prepared move in this position.")
	}
	labels := make([]string, 0, len(moves))
	for _, m := range moves {
		label := m.SAN
		if m.MainLine {
			label += "*"
		}
		labels = append(labels, label)
	}
	joined := strings.Join(labels, ", ")
	return f.render("hint.list", map[string]any{"Moves": joined}, "Prepared here: "+joined)
}

func (f *Formatter) History(list []*practicedto.SessionSummary) string {
	if len(list) == 0 {
		return f.render("history.empty", nil, "No practice sessions yet.")
	}
	var sb strings.Builder
	for i, s := range list {
		if i > 0 {
			sb.WriteString("\n")
		}
		reason := f.Reason(s.Reason)
		if s.EndedAt == nil {
			reason = "running"
		}
		sb.WriteString(f.render("history.row", map[string]any{
			"StartedAt":  s.StartedAt.In(f.loc).Format(historyTimeLayout),
			"Repertoire": s.RepertoireID,
			"Color":      s.Color,
			"Accuracy":   s.Stats.AccuracyPercentage,
			"Correct":    s.Stats.CorrectMoves,
			"Total":      s.Stats.TotalMoves,
			"Reason":     reason,
		}, s.SessionID))
	}
	return sb.String()
}

func (f *Formatter) Inspect(info *practicedto.RepertoireInfo) string {
	if info == nil {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(f.render("inspect.header", map[string]any{
		"Name":      info.Name,
		"Color":     info.Color,
		"Positions": info.Positions,
		"Edges":     info.Edges,
	}, info.Name))
	for _, o := range info.Openings {
		eco := o.ECO
		if eco == "" {
			eco = "---"
		}
		sb.WriteString("\n")
		sb.WriteString(f.render("inspect.opening", map[string]any{
			"ID":    o.ID,
			"ECO":   eco,
			"Name":  o.Name,
			"Moves": o.Moves,
		}, o.ID))
	}
	return sb.String()
}

// Moves lists a session's recorded attempts in order.
func (f *Formatter) Moves(list []*practicedto.MoveRecord) string {
	lines := make([]string, 0, len(list))
	for _, m := range list {
		verdict := f.verdict(m)
		lines = append(lines, f.render("history.move", map[string]any{"Seq": m.Seq, "Verdict": verdict},
			fmt.Sprintf("%d. %s", m.Seq, verdict)))
	}
	return strings.Join(lines, "\n")
}

func (f *Formatter) Repertoires(list []practicedto.RepertoireListing) string {
	if len(list) == 0 {
		return f.render("inspect.none", nil, "No repertoires stored yet.")
	}
	lines := make([]string, 0, len(list))
	for _, r := range list {
		lines = append(lines, f.render("inspect.row", map[string]any{
			"ID":       r.ID,
			"Color":    r.Color,
			"Name":     r.Name,
			"Openings": r.Openings,
		}, r.ID))
	}
	return strings.Join(lines, "\n")
}

func (f *Formatter) DrillHelp() string {
	return f.render("drill.help", nil, "Type a move, or: hint, status, end.")
}

// Event is the one-line form used by the feed subscriber.
func (f *Formatter) Event(ev practicedto.Event) string {
	at := ev.At.In(f.loc).Format("15:04:05")
	switch ev.Kind {
	case "move_recorded":
		if ev.Move != nil {
			return fmt.Sprintf("%s %s %s", at, ev.SessionID, f.verdict(ev.Move))
		}
	case "opponent_moved":
		if ev.Opponent != nil {
			return fmt.Sprintf("%s %s %s", at, ev.SessionID, f.opponent(ev.Opponent))
		}
	case "move_rejected":
		return fmt.Sprintf("%s %s %s", at, ev.SessionID,
			f.render("move.rejected", map[string]any{"Input": ev.Input}, ev.Input+" rejected"))
	case "session_complete":
		accuracy := 0
		if ev.Stats != nil {
			accuracy = ev.Stats.AccuracyPercentage
		}
		return fmt.Sprintf("%s %s %s (%d%%)", at, ev.SessionID, f.Reason(ev.Reason), accuracy)
	case "persistence_failed":
		return fmt.Sprintf("%s %s persistence failed: %s", at, ev.SessionID, ev.Error)
	}
	return fmt.Sprintf("%s %s %s", at, ev.SessionID, ev.Kind)
}

// Error turns a service error into the message the user sees.
func (f *Formatter) Error(err error) string {
	if err == nil {
		return ""
	}
	var de practicedto.DomainError
	if !errors.As(ToDomainError(err), &de) {
		return f.render("errors.unknown", map[string]any{"Detail": err.Error()}, err.Error())
	}
	return f.render("errors."+de.Code, map[string]any{"Detail": de.Message}, de.Error())
}
