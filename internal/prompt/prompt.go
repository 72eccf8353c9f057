package prompt

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrUnknownPrompt = errors.New("unknown or expired prompt")

type Option struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

type Question struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Icon        string   `json:"icon,omitempty"`
	Options     []Option `json:"options"`
	Multi       bool     `json:"multi"`
}

// Asker asks the user to pick among options. An empty selection means the
// user dismissed the question.
type Asker interface {
	Ask(ctx context.Context, q Question) ([]Option, error)
}

type Policy string

const (
	PolicyAsk     Policy = "ask"
	PolicyAccept  Policy = "accept"
	PolicyDecline Policy = "decline"
)

// Static answers every question without user interaction: accept picks the
// first option, decline picks nothing.
type Static struct {
	Accept bool
}

func (s Static) Ask(ctx context.Context, q Question) ([]Option, error) {
	if !s.Accept || len(q.Options) == 0 {
		return nil, nil
	}
	return q.Options[:1], nil
}

type Publisher interface {
	PublishPrompt(q Question)
	PublishPromptClosed(id string)
}

// Broker publishes questions to connected UIs and waits for an answer to be
// posted back through Answer.
type Broker struct {
	pub     Publisher
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	pending map[string]chan []Option
}

func NewBroker(pub Publisher, timeout time.Duration, logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		pub:     pub,
		timeout: timeout,
		logger:  logger,
		pending: make(map[string]chan []Option),
	}
}

func (b *Broker) Ask(ctx context.Context, q Question) ([]Option, error) {
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	answer := make(chan []Option, 1)

	b.mu.Lock()
	b.pending[q.ID] = answer
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.pending, q.ID)
		b.mu.Unlock()
		b.pub.PublishPromptClosed(q.ID)
	}()

	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	b.pub.PublishPrompt(q)
	b.logger.Debug("Waiting for prompt answer", "id", q.ID, "title", q.Title)

	select {
	case selected := <-answer:
		return selected, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			b.logger.Info("Prompt timed out, treating as declined", "id", q.ID)
			return nil, nil
		}
		return nil, ctx.Err()
	}
}

// Answer delivers the user's selection for a pending question.
func (b *Broker) Answer(id string, selected []Option) error {
	b.mu.Lock()
	answer, ok := b.pending[id]
	if ok {
		delete(b.pending, id)
	}
	b.mu.Unlock()

	if !ok {
		return ErrUnknownPrompt
	}
	answer <- selected
	return nil
}

// Pending lists the ids of questions still waiting for an answer.
func (b *Broker) Pending() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.pending))
	for id := range b.pending {
		ids = append(ids, id)
	}
	return ids
}
