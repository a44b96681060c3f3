// Package assistant talks to the hosted language model that decides, for
// each transcript, which device actions to run or what to say.
package assistant

import (
	"fmt"
	"strings"

	"voxphone/internal/actions"
)

// Reply is either an ordered list of action calls or free text.
type Reply struct {
	Calls []actions.Call
	Text  string
}

// HasCalls reports whether the model asked for actions.
func (r Reply) HasCalls() bool { return len(r.Calls) > 0 }

// TransportError is returned for every failure to get a reply: network,
// authentication, HTTP status or an unreadable response.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("assistant %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

const promptTemplate = `You are a smart assistant. Your job is to help the user control the features of their phone and to answer their questions.
- Your name is "Assistant".
- If the user asks to turn the flashlight on or off, vibrate the phone, check the battery, open an app or find their location, call the matching function instead of answering in text.
- Always answer in %s, whatever language the question is in.
- Address the user politely and respectfully.
- If answering needs information from the internet, use web search.
- Your answers are read aloud, so keep them short and do not use markdown.`

// SystemPrompt builds the instructions for a reply language such as "Bangla".
func SystemPrompt(languageName string) string {
	languageName = strings.TrimSpace(languageName)
	if languageName == "" {
		languageName = "English"
	}
	return fmt.Sprintf(promptTemplate, languageName)
}
