package practicepresenter

import (
	"context"
	"fmt"
	"strings"

	"github.com/park285/cheese-repertoire/internal/domain"
	svc "github.com/park285/cheese-repertoire/internal/service/trainer"
	"github.com/park285/cheese-repertoire/internal/storage"
	"github.com/park285/cheese-repertoire/pkg/practicedto"
)

// Gateway exposes the trainer service in DTO terms. Every error it returns
// has been through ToDomainError.
type Gateway struct {
	service *svc.Service
}

func NewGateway(service *svc.Service) *Gateway {
	return &Gateway{service: service}
}

func meta(m practicedto.RequestMeta) svc.SessionMeta {
	return svc.SessionMeta{UserID: m.UserID}
}

func (g *Gateway) Start(ctx context.Context, req practicedto.StartSessionRequest) (*practicedto.StartSessionResponse, error) {
	state, err := g.service.StartSession(ctx, meta(req.Meta), svc.StartOptions{
		RepertoireID:    req.RepertoireID,
		MaxMoves:        req.MaxMoves,
		Strictness:      domain.Strictness(strings.ToLower(strings.TrimSpace(req.Strictness))),
		AllowVariations: req.AllowVariations,
		OpeningID:       req.OpeningID,
		Seed:            req.Seed,
	})
	if err != nil {
		return nil, ToDomainError(err)
	}
	return &practicedto.StartSessionResponse{State: ToDTOState(state)}, nil
}

func (g *Gateway) Status(ctx context.Context, req practicedto.StatusRequest) (*practicedto.StatusResponse, error) {
	state, err := g.service.Status(ctx, meta(req.Meta))
	if err != nil {
		return nil, ToDomainError(err)
	}
	return &practicedto.StatusResponse{State: ToDTOState(state)}, nil
}

func (g *Gateway) Play(ctx context.Context, req practicedto.PlayRequest) (*practicedto.PlayResponse, error) {
	if strings.TrimSpace(req.Move) == "" {
		return nil, practicedto.DomainError{Code: practicedto.CodeInvalidRequest, Message: "move required"}
	}
	summary, err := g.service.Play(ctx, meta(req.Meta), req.Move)
	if err != nil {
		return nil, ToDomainError(err)
	}
	return &practicedto.PlayResponse{Result: ToDTOMoveResult(summary), State: ToDTOState(summary.State)}, nil
}

func (g *Gateway) Hint(ctx context.Context, req practicedto.HintRequest) (*practicedto.HintResponse, error) {
	moves, err := g.service.Hint(ctx, meta(req.Meta))
	if err != nil {
		return nil, ToDomainError(err)
	}
	return &practicedto.HintResponse{Moves: ToDTOHints(moves)}, nil
}

func (g *Gateway) End(ctx context.Context, req practicedto.EndRequest) (*practicedto.EndResponse, error) {
	state, err := g.service.End(ctx, meta(req.Meta))
	if err != nil {
		return nil, ToDomainError(err)
	}
	return &practicedto.EndResponse{State: ToDTOState(state)}, nil
}

func (g *Gateway) History(ctx context.Context, req practicedto.HistoryRequest) (*practicedto.HistoryResponse, error) {
	list, err := g.service.History(ctx, meta(req.Meta), req.Limit)
	if err != nil {
		return nil, ToDomainError(err)
	}
	return &practicedto.HistoryResponse{Sessions: ToDTOSummaries(list)}, nil
}

func (g *Gateway) Session(ctx context.Context, req practicedto.SessionRequest) (*practicedto.SessionResponse, error) {
	session, err := g.service.Session(ctx, meta(req.Meta), req.SessionID)
	if err != nil {
		return nil, ToDomainError(err)
	}
	return &practicedto.SessionResponse{Session: ToDTOSummary(session), Moves: ToDTOMoves(session.Moves)}, nil
}

// Import reads the repertoire file named by req.Repertoire.
func (g *Gateway) Import(ctx context.Context, req practicedto.ImportRequest) (*practicedto.ImportResponse, error) {
	rep, err := storage.LoadRepertoireFile(req.Repertoire)
	if err != nil {
		return nil, practicedto.DomainError{Code: practicedto.CodeInvalidRequest, Message: fmt.Sprintf("load %s: %v", req.Repertoire, err)}
	}
	report, err := g.service.ImportRepertoire(ctx, meta(req.Meta), rep)
	if err != nil {
		return nil, ToDomainError(err)
	}
	return &practicedto.ImportResponse{Repertoire: ToDTORepertoire(report)}, nil
}

func (g *Gateway) Inspect(ctx context.Context, req practicedto.InspectRequest) (*practicedto.InspectResponse, error) {
	report, err := g.service.Inspect(ctx, req.RepertoireID)
	if err != nil {
		return nil, ToDomainError(err)
	}
	return &practicedto.InspectResponse{Repertoire: ToDTORepertoire(report)}, nil
}

func (g *Gateway) Repertoires(ctx context.Context, req practicedto.ListRepertoiresRequest) (*practicedto.ListRepertoiresResponse, error) {
	list, err := g.service.Repertoires(ctx, meta(req.Meta))
	if err != nil {
		return nil, ToDomainError(err)
	}
	return &practicedto.ListRepertoiresResponse{Repertoires: ToDTOListings(list)}, nil
}
