package speech

import (
	"context"
	"errors"
	"strings"
	"sync"

	log "log/slog"

	"golang.org/x/text/language"
)

// Voice is one synthesizer voice. The zero Voice is the platform default.
type Voice struct {
	Name string
	Lang string
}

// Synthesizer is a platform text-to-speech capability.
type Synthesizer interface {
	Voices(ctx context.Context) ([]Voice, error)
	// Say speaks text and returns when playback has finished or ctx is done.
	Say(ctx context.Context, text string, lang language.Tag, voice Voice) error
}

// Utterance tracks one Speak call.
type Utterance struct {
	started chan struct{}
	done    chan struct{}
	err     error
}

func newUtterance() *Utterance {
	return &Utterance{started: make(chan struct{}), done: make(chan struct{})}
}

// Started is closed when playback begins. Utterances that never start
// (empty text, cancelled before playback) leave it open.
func (u *Utterance) Started() <-chan struct{} { return u.started }

// Done is closed when playback ends, fails or is cancelled.
func (u *Utterance) Done() <-chan struct{} { return u.done }

// Err is the synthesis error, if any. Valid once Done is closed.
func (u *Utterance) Err() error { return u.err }

// Speaker keeps at most one utterance audible: a new Speak cancels the
// previous one. Utterances are never queued.
type Speaker struct {
	synth  Synthesizer
	locale language.Tag

	mu     sync.Mutex
	cancel context.CancelFunc

	voiceMu  sync.Mutex
	voice    Voice
	resolved bool
}

func NewSpeaker(synth Synthesizer, locale language.Tag) *Speaker {
	return &Speaker{synth: synth, locale: locale}
}

// Speak cancels whatever is playing and starts text. Empty text is ignored:
// the returned utterance is already done and never starts.
func (s *Speaker) Speak(text string) *Utterance {
	u := newUtterance()

	text = strings.TrimSpace(text)
	if text == "" || s.synth == nil {
		close(u.done)
		return u
	}

	ctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.cancel = cancel
	s.mu.Unlock()

	go func() {
		defer close(u.done)
		defer cancel()

		voice := s.pickVoice(ctx)
		if ctx.Err() != nil {
			return
		}

		close(u.started)

		err := s.synth.Say(ctx, text, s.locale, voice)
		if err != nil && !errors.Is(err, context.Canceled) && ctx.Err() == nil {
			log.Error("Failed to voice out", "err", err)
			u.err = err
		}
	}()

	return u
}

// Cancel silences the current utterance, if any.
func (s *Speaker) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *Speaker) pickVoice(ctx context.Context) Voice {
	s.voiceMu.Lock()
	defer s.voiceMu.Unlock()

	if s.resolved {
		return s.voice
	}

	voices, err := s.synth.Voices(ctx)
	if err != nil {
		log.Warn("Cannot list voices, using default", "err", err)
		return Voice{}
	}

	s.resolved = true
	if v, ok := SelectVoice(voices, s.locale); ok {
		log.Debug("Selected voice", "name", v.Name, "lang", v.Lang)
		s.voice = v
	}

	return s.voice
}
