package tui

import (
	"context"
	"sync"

	"podcastrag/internal/service"
)

// ServiceAsker adapts a QueryService to the chat. AfterTurn, when set, runs once
// after every finished stream, answered or not.
type ServiceAsker struct {
	Service   *service.QueryService
	AfterTurn func()
}

func (a ServiceAsker) Ask(ctx context.Context, question string) (AnswerStream, error) {
	st, err := a.Service.Stream(ctx, a.Service.DefaultRequest(question))
	if err != nil {
		if a.AfterTurn != nil {
			a.AfterTurn()
		}
		return nil, err
	}
	return &serviceStream{Stream: st, after: a.AfterTurn}, nil
}

func (a ServiceAsker) Clear() {
	a.Service.ClearConversation()
	if a.AfterTurn != nil {
		a.AfterTurn()
	}
}

type serviceStream struct {
	*service.Stream
	after func()
	once  sync.Once
}

func (s *serviceStream) Wait() (string, error) {
	answer, err := s.Stream.Wait()
	if s.after != nil {
		s.once.Do(s.after)
	}
	return answer, err
}
