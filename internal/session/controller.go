// Package session runs the conversation loop: listen, ask the model, act,
// speak. It owns the status state machine and the conversation log; the
// presentation layer only reads them.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	log "log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"voxphone/internal/actions"
	"voxphone/internal/assistant"
	"voxphone/internal/metrics"
	"voxphone/internal/phrases"
	"voxphone/internal/speech"
)

var tracer = otel.Tracer("voxphone/internal/session")

var (
	ErrBusy        = errors.New("a turn is already in progress")
	ErrEmptyPrompt = errors.New("empty prompt")
	ErrClosed      = errors.New("session closed")
)

type Model interface {
	Ask(ctx context.Context, transcript string) (assistant.Reply, error)
}

type Actions interface {
	Execute(ctx context.Context, req actions.Request) string
	Close() error
}

// Listener must deliver hooks from outside any caller lock; Stop may run
// OnEnd synchronously.
type Listener interface {
	Start(ctx context.Context, hooks speech.ListenHooks) error
	Stop()
}

type Speaker interface {
	Speak(text string) *speech.Utterance
	Cancel()
}

type Option func(*Controller)

// WithSequentialSpeech waits for each action result to be spoken before
// running the next action. By default a result cuts off the one before it.
func WithSequentialSpeech() Option {
	return func(c *Controller) { c.sequential = true }
}

// WithListeningCue runs cue every time a listening session starts. cue must
// not block.
func WithListeningCue(cue func()) Option {
	return func(c *Controller) { c.cue = cue }
}

// Controller is the session state machine. Listener methods are never called
// with mu held: Stop reports back through the hooks, which take mu.
type Controller struct {
	model    Model
	actions  Actions
	listener Listener
	speaker  Speaker
	phrases  *phrases.Book

	sequential bool
	cue        func()

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	status     Status
	greeted    bool
	busy       bool
	closed     bool
	listening  bool
	starting   bool // a listener.Start call is in flight
	listenSeq  uint64
	current    *speech.Utterance
	transcript string
	lastErr    string
	entries    []Entry
	subs       map[chan Event]struct{}
}

func New(model Model, acts Actions, listener Listener, speaker Speaker, book *phrases.Book, opts ...Option) *Controller {
	ctx, cancel := context.WithCancel(context.Background())

	c := &Controller{
		model:    model,
		actions:  acts,
		listener: listener,
		speaker:  speaker,
		phrases:  book,
		ctx:      ctx,
		cancel:   cancel,
		subs:     make(map[chan Event]struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	metrics.Status(AllStatuses(), c.status.String())

	return c
}

// Toggle is the single microphone button. The first call only greets. Then it
// stops a running or starting session, or starts one (silencing any speech).
// It fails with ErrBusy while a turn is being processed.
func (c *Controller) Toggle() error {
	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}

	if !c.greeted {
		c.greeted = true
		c.respondLocked(c.phrases.Say(phrases.Greeting))
		c.mu.Unlock()
		return nil
	}

	if c.listening || c.starting {
		c.mu.Unlock()
		c.StopListening()
		return nil
	}

	if c.busy {
		c.mu.Unlock()
		return ErrBusy
	}

	c.listenSeq++
	id := c.listenSeq
	c.starting = true
	c.silenceLocked()
	c.mu.Unlock()

	err := c.listener.Start(c.ctx, speech.ListenHooks{
		OnStart:      func() { c.onListenStart(id) },
		OnTranscript: func(text string) { c.onTranscript(id, text) },
		OnEnd:        func() { c.onListenEnd(id) },
	})

	// starting stays claimed until here, so no other Start can run and the
	// Stop below only reaches this session.
	c.mu.Lock()
	stale := id != c.listenSeq
	c.mu.Unlock()
	if stale && err == nil {
		c.listener.Stop()
	}

	c.mu.Lock()
	c.starting = false
	c.mu.Unlock()

	if err == nil || stale {
		return nil
	}

	log.Warn("Cannot start listening", "err", err)

	c.mu.Lock()
	if id == c.listenSeq {
		c.listening = false
		c.lastErr = c.phrases.Say(phrases.MicPermission)
		c.setStatusLocked(Idle)
		c.publishLocked(Event{Kind: Failed, Text: c.lastErr})
	}
	c.mu.Unlock()

	return err
}

// StopListening ends the running session. Whatever it would have heard is
// discarded and the log is left alone.
func (c *Controller) StopListening() {
	c.mu.Lock()
	if !c.listening && !c.starting {
		c.mu.Unlock()
		return
	}
	c.listenSeq++
	c.listening = false
	if !c.busy {
		c.setStatusLocked(Idle)
	}
	c.mu.Unlock()

	c.listener.Stop()
}

// Stop ends listening and silences speech. A turn in progress still runs to
// completion.
func (c *Controller) Stop() {
	c.StopListening()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.silenceLocked()
	if !c.busy && !c.listening {
		c.setStatusLocked(Idle)
	}
}

// Prompt runs one turn for typed text, as if it had been heard. It returns
// once every requested action has run.
func (c *Controller) Prompt(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyPrompt
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.busy {
		c.mu.Unlock()
		return ErrBusy
	}

	wasListening := c.listening || c.starting
	if wasListening {
		c.listenSeq++
		c.listening = false
	}
	c.greeted = true
	c.busy = true
	c.transcript = text
	c.lastErr = ""
	c.silenceLocked()
	c.publishLocked(Event{Kind: Transcribed, Text: text})
	c.mu.Unlock()

	if wasListening {
		c.listener.Stop()
	}

	// The turn outlives the caller; only the trace is carried over.
	c.runTurn(trace.ContextWithSpan(c.ctx, trace.SpanFromContext(ctx)), text)

	return nil
}

// Clear empties the conversation log.
func (c *Controller) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = nil
	c.publishLocked(Event{Kind: LogCleared})
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.status
}

// History returns the conversation log, newest entry first.
func (c *Controller) History() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.historyLocked()
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		Status:     c.status,
		Transcript: c.transcript,
		Error:      c.lastErr,
		History:    c.historyLocked(),
	}
}

// Subscribe returns a channel of events and a function that cancels the
// subscription. Events are dropped for a subscriber that falls behind.
func (c *Controller) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)

	c.mu.Lock()
	if c.closed {
		close(ch)
		c.mu.Unlock()
		return ch, func() {}
	}
	c.subs[ch] = struct{}{}
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()

			if _, ok := c.subs[ch]; ok {
				delete(c.subs, ch)
				close(ch)
			}
		})
	}
}

// Close stops listening and speech, releases held device resources and ends
// all subscriptions.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.listenSeq++
	c.listening = false
	c.silenceLocked()
	c.setStatusLocked(Idle)
	for ch := range c.subs {
		delete(c.subs, ch)
		close(ch)
	}
	c.mu.Unlock()

	c.listener.Stop()
	c.cancel()

	return c.actions.Close()
}

func (c *Controller) onListenStart(id uint64) {
	c.mu.Lock()
	if id != c.listenSeq || c.closed {
		c.mu.Unlock()
		return
	}
	c.listening = true
	c.transcript = ""
	c.lastErr = ""
	c.setStatusLocked(Listening)
	c.mu.Unlock()

	if c.cue != nil {
		c.cue()
	}
}

func (c *Controller) onListenEnd(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if id != c.listenSeq || !c.listening {
		return
	}
	c.listening = false
	if !c.busy {
		c.setStatusLocked(Idle)
	}
}

func (c *Controller) onTranscript(id uint64, text string) {
	c.mu.Lock()
	if id != c.listenSeq || !c.listening || c.busy {
		c.mu.Unlock()
		log.Debug("Dropping stale transcript", "text", text)
		return
	}
	c.listening = false
	c.busy = true
	c.transcript = text
	c.publishLocked(Event{Kind: Transcribed, Text: text})
	c.mu.Unlock()

	log.Info("Heard", "text", text)

	c.runTurn(c.ctx, text)
}

// runTurn expects busy to be claimed by the caller.
func (c *Controller) runTurn(ctx context.Context, text string) {
	ctx, span := tracer.Start(ctx, "turn")
	defer span.End()
	defer c.endTurn()

	c.mu.Lock()
	c.appendLocked(User, text)
	c.setStatusLocked(Thinking)
	c.mu.Unlock()

	reply, err := c.model.Ask(ctx, text)
	if err != nil {
		var te *assistant.TransportError
		if errors.As(err, &te) {
			log.Error("Assistant unreachable", "op", te.Op, "err", te.Err)
		} else {
			log.Error("Assistant failed", "err", err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "assistant failed")
		metrics.TurnDone("error")

		c.mu.Lock()
		c.setStatusLocked(Error)
		c.respondLocked(c.phrases.Say(phrases.ServerTrouble))
		c.mu.Unlock()
		return
	}

	if reply.HasCalls() {
		metrics.TurnDone("actions")
		span.SetAttributes(attribute.Int("turn.calls", len(reply.Calls)))

		for _, call := range reply.Calls {
			req := actions.Decode(call)
			log.Info("Running action", "action", req.Name(), "args", call.Arguments)

			result := c.actions.Execute(ctx, req)

			c.mu.Lock()
			u := c.respondLocked(result)
			c.mu.Unlock()

			if c.sequential && u != nil {
				<-u.Done()
			}
		}
		return
	}

	metrics.TurnDone("text")

	answer := strings.TrimSpace(reply.Text)
	if answer == "" {
		answer = c.phrases.Say(phrases.NotUnderstood)
	}

	c.mu.Lock()
	c.respondLocked(answer)
	c.mu.Unlock()
}

func (c *Controller) endTurn() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.busy = false
	if c.current == nil && !c.listening {
		c.setStatusLocked(Idle)
	}
}

// respondLocked logs text as an assistant entry and speaks it. Speaker
// calls never block, so holding mu here is fine.
func (c *Controller) respondLocked(text string) *speech.Utterance {
	c.appendLocked(Assistant, text)

	if c.closed {
		return nil
	}

	u := c.speaker.Speak(text)
	c.current = u
	go c.follow(u)

	return u
}

// follow maps one utterance onto the status. Superseded utterances are
// ignored.
func (c *Controller) follow(u *speech.Utterance) {
	select {
	case <-u.Started():
		c.mu.Lock()
		if c.current == u {
			c.setStatusLocked(Speaking)
		}
		c.mu.Unlock()
	case <-u.Done():
	}

	<-u.Done()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != u {
		return
	}
	c.current = nil
	if !c.listening {
		c.setStatusLocked(Idle)
	}
}

func (c *Controller) silenceLocked() {
	c.current = nil
	c.speaker.Cancel()
}

func (c *Controller) appendLocked(role Role, text string) {
	e := Entry{
		ID:   uuid.New(),
		Role: role,
		Text: text,
		Time: time.Now(),
	}
	c.entries = append(c.entries, e)
	c.publishLocked(Event{Kind: EntryAdded, Entry: &e})
}

func (c *Controller) historyLocked() []Entry {
	out := make([]Entry, len(c.entries))
	for i, e := range c.entries {
		out[len(c.entries)-1-i] = e
	}
	return out
}

func (c *Controller) setStatusLocked(s Status) {
	if c.status == s {
		return
	}
	log.Debug("Status", "from", c.status, "to", s)

	c.status = s
	metrics.Status(AllStatuses(), s.String())
	c.publishLocked(Event{Kind: StatusChanged})
}

func (c *Controller) publishLocked(ev Event) {
	ev.Status = c.status
	for ch := range c.subs {
		select {
		case ch <- ev:
		default:
			log.Warn("Dropping event for slow subscriber", "kind", ev.Kind)
		}
	}
}
