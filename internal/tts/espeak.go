// Package tts speaks through espeak-ng.
package tts

/*
#cgo LDFLAGS: -lespeak-ng
#include <stdlib.h>
#include <string.h>
#include <espeak-ng/speak_lib.h>

static int
vox_init(void)
{
	return espeak_Initialize(AUDIO_OUTPUT_PLAYBACK, 0, NULL, 0);
}

static int
vox_set_voice_name(const char *name)
{
	return espeak_SetVoiceByName(name);
}

static int
vox_set_voice_lang(const char *lang)
{
	espeak_VOICE spec;
	memset(&spec, 0, sizeof(spec));
	spec.languages = lang;
	return espeak_SetVoiceByProperties(&spec);
}

static int
vox_say(const char *text)
{
	return espeak_Synth(text, strlen(text) + 1, 0, POS_CHARACTER, 0,
			    espeakCHARS_UTF8, NULL, NULL);
}

static int vox_sync(void) { return espeak_Synchronize(); }
static int vox_cancel(void) { return espeak_Cancel(); }

static int
vox_voice_count(void)
{
	const espeak_VOICE **v = espeak_ListVoices(NULL);
	int n = 0;
	while (v && v[n])
	{ n++; }
	return n;
}

static const char *
vox_voice_name(int i)
{
	return espeak_ListVoices(NULL)[i]->name;
}

// languages is a list of (priority byte, name) pairs; take the first name.
static const char *
vox_voice_lang(int i)
{
	const char *l = espeak_ListVoices(NULL)[i]->languages;
	return l && l[0] ? l + 1 : "";
}
*/
import "C"

import (
	"context"
	"fmt"
	"sync"
	"unsafe"

	log "log/slog"

	"golang.org/x/text/language"

	"voxphone/internal/speech"
)

var (
	initOnce sync.Once
	initErr  error
)

// Espeak is a speech.Synthesizer. espeak-ng keeps global state, so every
// call is serialized.
type Espeak struct {
	mu sync.Mutex
}

func New() (*Espeak, error) {
	initOnce.Do(func() {
		if rc := C.vox_init(); rc < 0 {
			initErr = fmt.Errorf("espeak_Initialize failed: %d", int(rc))
		}
	})
	if initErr != nil {
		return nil, initErr
	}
	return &Espeak{}, nil
}

func (e *Espeak) Voices(context.Context) ([]speech.Voice, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := int(C.vox_voice_count())
	voices := make([]speech.Voice, 0, n)
	for i := range n {
		voices = append(voices, speech.Voice{
			Name: C.GoString(C.vox_voice_name(C.int(i))),
			Lang: C.GoString(C.vox_voice_lang(C.int(i))),
		})
	}
	return voices, nil
}

// Say blocks until playback ends. Cancelling ctx cuts the audio off.
func (e *Espeak) Say(ctx context.Context, text string, lang language.Tag, voice speech.Voice) error {
	if text == "" {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := setVoice(lang, voice); err != nil {
		log.Warn("Keeping previous espeak voice", "err", err)
	}

	ctext := C.CString(text)
	defer C.free(unsafe.Pointer(ctext))

	if rc := C.vox_say(ctext); rc != 0 {
		return fmt.Errorf("espeak_Synth failed: %d", int(rc))
	}

	done := make(chan struct{})
	go func() {
		C.vox_sync()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		C.vox_cancel()
		<-done
		return ctx.Err()
	}
}

func setVoice(lang language.Tag, voice speech.Voice) error {
	if voice.Name != "" {
		cname := C.CString(voice.Name)
		defer C.free(unsafe.Pointer(cname))

		if rc := C.vox_set_voice_name(cname); rc == 0 {
			return nil
		}
	}

	base, _ := lang.Base()
	clang := C.CString(base.String())
	defer C.free(unsafe.Pointer(clang))

	if rc := C.vox_set_voice_lang(clang); rc != 0 {
		return fmt.Errorf("no espeak voice for %s: %d", lang, int(rc))
	}
	return nil
}
