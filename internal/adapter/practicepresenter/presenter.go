package practicepresenter

import (
	"strings"

	"github.com/park285/cheese-repertoire/pkg/practicedto"
)

// Presenter delivers formatted text without coupling the command layer to
// where it goes.
type Presenter struct {
	sendMessage func(message string) error
	showFEN     bool
}

func NewPresenter(sendMessage func(message string) error, showFEN bool) *Presenter {
	return &Presenter{sendMessage: sendMessage, showFEN: showFEN}
}

func (p *Presenter) Say(message string) error {
	if p == nil || p.sendMessage == nil {
		return nil
	}
	if strings.TrimSpace(message) == "" {
		return nil
	}
	return p.sendMessage(message)
}

// Position sends message followed by the current FEN when enabled.
func (p *Presenter) Position(message string, state *practicedto.SessionState) error {
	if err := p.Say(message); err != nil {
		return err
	}
	if p == nil || !p.showFEN || state == nil || state.FEN == "" {
		return nil
	}
	return p.Say("FEN: " + state.FEN)
}
