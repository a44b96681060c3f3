// Package speech adapts platform speech recognition and synthesis to the
// session controller: one transcript per listening session, one audible
// utterance at a time.
package speech

import (
	"context"
	"fmt"
	"strings"
	"sync"

	log "log/slog"
)

// Recognizer is a platform speech-to-text capability.
type Recognizer interface {
	// RequestPermission checks microphone access before a session starts.
	RequestPermission(ctx context.Context) error
	// Recognize captures one utterance and returns the best transcript, or
	// "" when nothing was recognized. It returns early when ctx is done.
	Recognize(ctx context.Context) (string, error)
}

// ListenHooks receive the events of one session. OnStart fires once the
// session is running; then exactly one of OnTranscript or OnEnd fires.
type ListenHooks struct {
	OnStart      func()
	OnTranscript func(text string)
	OnEnd        func()
}

// Listener runs at most one recognition session at a time.
type Listener struct {
	rec Recognizer

	// startMu serializes Start from stop through install.
	startMu sync.Mutex

	mu     sync.Mutex
	seq    uint64
	cancel context.CancelFunc
	onEnd  func()
}

func NewListener(rec Recognizer) *Listener {
	return &Listener{rec: rec}
}

// Start begins a session. A session already running is stopped first and
// ends through its OnEnd hook. The session is installed before permission is
// requested, so a Stop in that window ends it through OnEnd and OnStart never
// fires.
func (l *Listener) Start(ctx context.Context, hooks ListenHooks) error {
	l.startMu.Lock()
	defer l.startMu.Unlock()

	l.Stop()

	sctx, cancel := context.WithCancel(ctx)

	l.mu.Lock()
	l.seq++
	id := l.seq
	l.cancel = cancel
	l.onEnd = hooks.OnEnd
	l.mu.Unlock()

	if err := l.rec.RequestPermission(sctx); err != nil {
		l.mu.Lock()
		if l.seq == id && l.cancel != nil {
			l.cancel, l.onEnd = nil, nil
		}
		l.mu.Unlock()
		cancel()
		return fmt.Errorf("request microphone: %w", err)
	}

	l.mu.Lock()
	stopped := l.seq != id || l.cancel == nil
	l.mu.Unlock()
	if stopped {
		log.Debug("Session stopped while requesting permission", "session", id)
		return nil
	}

	if hooks.OnStart != nil {
		hooks.OnStart()
	}

	go func() {
		defer cancel()

		text, err := l.rec.Recognize(sctx)
		if !l.finish(id) {
			log.Debug("Discarding stopped session", "session", id)
			return
		}

		text = strings.TrimSpace(text)
		if err != nil || text == "" {
			if err != nil {
				log.Warn("Recognition failed", "err", err)
			}
			if hooks.OnEnd != nil {
				hooks.OnEnd()
			}
			return
		}

		if hooks.OnTranscript != nil {
			hooks.OnTranscript(text)
		}
	}()

	return nil
}

// Stop ends the running session without a transcript. Safe to call at any time.
func (l *Listener) Stop() {
	l.mu.Lock()
	cancel, onEnd := l.cancel, l.onEnd
	l.cancel, l.onEnd = nil, nil
	l.mu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	if onEnd != nil {
		onEnd()
	}
}

func (l *Listener) active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.cancel != nil
}

// finish claims the terminal event for session id. It fails when the session
// was stopped or replaced in the meantime.
func (l *Listener) finish(id uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.seq != id || l.cancel == nil {
		return false
	}
	l.cancel, l.onEnd = nil, nil

	return true
}
