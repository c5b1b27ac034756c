// Package dispatch turns contact rows into personalized emails. Rows are
// prepared concurrently by a bounded pool of workers, but only one message is
// ever handed to the transmitter at a time, followed by a fixed pause.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"automailer/contacts"
	"automailer/delivery"
	"automailer/internal/audit"
	"automailer/internal/email"
	"automailer/internal/metrics"
	"automailer/queue"
	"automailer/templates"
)

// Transmitter sends one prepared message. A returned error has already been
// retried and logged by the transmitter; the pipeline only moves on.
type Transmitter interface {
	Transmit(ctx context.Context, msg delivery.Message) error
}

// Config holds the pipeline tunables.
type Config struct {
	// Workers is the number of concurrent preparation workers.
	Workers int
	// Pause is slept after every transmission, successful or not.
	Pause time.Duration
	// DefaultLocale is assigned to rows without a locale column.
	DefaultLocale string
	// Placeholder is replaced by the contact's name in the template body.
	Placeholder string
	Subject     string
}

// Pipeline is a single-use dispatcher for one contact list.
type Pipeline struct {
	cfg         Config
	store       *templates.Store
	attachments []string
	tx          Transmitter
	metrics     *metrics.Metrics
	logger      *log.Logger
	sleep       func(ctx context.Context, d time.Duration) error
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMetrics records queue depth and skipped contacts.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithLogger overrides the default logger.
func WithLogger(l *log.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// New validates cfg and returns a Pipeline. attachments are shared by every
// message.
func New(cfg Config, store *templates.Store, attachments []string, tx Transmitter, opts ...Option) (*Pipeline, error) {
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("dispatch: workers must be at least 1, got %d", cfg.Workers)
	}
	if cfg.Pause < 0 {
		return nil, fmt.Errorf("dispatch: pause must not be negative, got %v", cfg.Pause)
	}
	if store == nil {
		return nil, errors.New("dispatch: template store is required")
	}
	if tx == nil {
		return nil, errors.New("dispatch: transmitter is required")
	}
	if cfg.DefaultLocale == "" {
		cfg.DefaultLocale = store.DefaultLocale()
	}
	if cfg.Placeholder == "" {
		cfg.Placeholder = templates.DefaultPlaceholder
	}

	p := &Pipeline{
		cfg:         cfg,
		store:       store,
		attachments: append([]string(nil), attachments...),
		tx:          tx,
		logger:      log.Default(),
		sleep:       sleepContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Run dispatches every row and returns once all of them have been consumed.
// Failed sends do not stop the run. The only error returned is the context's
// when the run is cancelled.
func (p *Pipeline) Run(ctx context.Context, rows [][]string) error {
	q := queue.NewManager(p.metrics)
	q.Enqueue(rows...)
	p.logger.Info("Dispatch started", "contacts", len(rows), "workers", p.cfg.Workers, "pause", p.cfg.Pause)

	ready := make(chan delivery.Message, p.cfg.Workers)
	sent := make(chan struct{})
	go func() {
		defer close(sent)
		p.send(ctx, ready)
	}()

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		g.Go(func() error {
			return p.prepare(gctx, q, ready)
		})
	}
	err := g.Wait()
	close(ready)
	<-sent

	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	p.logger.Info("Dispatch finished")
	return nil
}

// prepare drains the queue, handing valid messages to the sender.
func (p *Pipeline) prepare(ctx context.Context, q *queue.Manager, ready chan<- delivery.Message) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		item, ok := q.Dequeue()
		if !ok {
			return nil
		}
		p.metrics.IncContacts()

		msg, ok := p.Prepare(item)
		if !ok {
			continue
		}
		select {
		case ready <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Prepare normalizes a queued row into a message. ok is false when the row
// has no usable address; the row is logged and counted as skipped.
func (p *Pipeline) Prepare(item queue.Item) (delivery.Message, bool) {
	contact := contacts.Normalize(item.Row, p.cfg.DefaultLocale)
	if !email.Valid(contact.Email) {
		p.metrics.IncSkipped(metrics.ReasonInvalidEmail)
		p.logger.Warn("Invalid email address", "row", item.Seq, "email", contact.Email)
		return delivery.Message{}, false
	}

	audit.Log("Contact prepared", "row", item.Seq, "to", contact.Email, "locale", contact.Locale)
	body := p.store.Select(contact.Locale)
	return delivery.Message{
		To:          contact.Email,
		Subject:     p.cfg.Subject,
		Body:        templates.Format(body, p.cfg.Placeholder, contact.Name),
		Attachments: p.attachments,
	}, true
}

// send is the only goroutine that talks to the transmitter.
func (p *Pipeline) send(ctx context.Context, ready <-chan delivery.Message) {
	for msg := range ready {
		if ctx.Err() != nil {
			continue
		}
		_ = p.tx.Transmit(ctx, msg)
		if err := p.sleep(ctx, p.cfg.Pause); err != nil {
			p.logger.Debug("Pause interrupted", "err", err)
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
