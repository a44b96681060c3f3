// Package phrases holds every fixed sentence the assistant speaks, in each
// supported language.
package phrases

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

type Key string

const (
	Greeting         Key = "greeting"
	Ready            Key = "ready"
	MicPermission    Key = "mic.permission"
	ServerTrouble    Key = "assistant.unreachable"
	NotUnderstood    Key = "assistant.empty"
	CannotPerform    Key = "action.unknown"
	TorchOn          Key = "torch.on"
	TorchOff         Key = "torch.off"
	TorchUnsupported Key = "torch.unsupported"
	Vibrating        Key = "vibrate.ok"
	VibrateMissing   Key = "vibrate.unsupported"
	BatteryLevel     Key = "battery.level"
	BatteryMissing   Key = "battery.unsupported"
	LocationShown    Key = "location.ok"
	LocationDenied   Key = "location.denied"
	MapUnavailable   Key = "location.nomap"
	AppOpening       Key = "app.opening"
	AppUnknown       Key = "app.unknown"
)

var texts = map[language.Tag]map[Key]string{
	language.Bengali: {
		Greeting:         "হ্যালো! আমি আপনার অ্যাসিস্ট্যান্ট। আমি আপনার ফোন কন্ট্রোল করতে এবং প্রশ্নের উত্তর দিতে প্রস্তুত।",
		Ready:            "কিভাবে সাহায্য করতে পারি স্যার?",
		MicPermission:    "মাইক্রোফোন পারমিশন দিন।",
		ServerTrouble:    "দুঃখিত স্যার, সার্ভারের সাথে সংযোগে সমস্যা হচ্ছে।",
		NotUnderstood:    "দুঃখিত স্যার, আমি ঠিক বুঝতে পারিনি।",
		CannotPerform:    "দুঃখিত, আমি এই কাজটি করতে পারছি না।",
		TorchOn:          "জ্বি স্যার, টর্চ জ্বালানো হয়েছে।",
		TorchOff:         "টর্চ বন্ধ করা হয়েছে।",
		TorchUnsupported: "দুঃখিত স্যার, আপনার ফোনের হার্ডওয়্যার টর্চ সাপোর্ট করছে না।",
		Vibrating:        "ফোন ভাইব্রেট করা হচ্ছে।",
		VibrateMissing:   "আপনার ফোন ভাইব্রেশন সাপোর্ট করে না।",
		BatteryLevel:     "আপনার ফোনের ব্যাটারি লেভেল এখন %d পার্সেন্ট।",
		BatteryMissing:   "আমি ব্যাটারি স্ট্যাটাস চেক করতে পারছি না।",
		LocationShown:    "আমি আপনার বর্তমান অবস্থান ম্যাপে ওপেন করেছি।",
		LocationDenied:   "আমি আপনার লোকেশন পারমিশন পাচ্ছি না।",
		MapUnavailable:   "আপনার লোকেশন পেয়েছি, কিন্তু ম্যাপ ওপেন করতে পারছি না।",
		AppOpening:       "আপনার জন্য %s ওপেন করার চেষ্টা করছি।",
		AppUnknown:       "দুঃখিত, আমি %s সরাসরি ওপেন করতে পারছি না।",
	},
	language.English: {
		Greeting:         "Hello! I am your assistant. I am ready to control your phone and answer your questions.",
		Ready:            "How can I help you?",
		MicPermission:    "Please allow microphone access.",
		ServerTrouble:    "Sorry, I am having trouble reaching the server.",
		NotUnderstood:    "Sorry, I did not quite understand that.",
		CannotPerform:    "Sorry, I cannot do that.",
		TorchOn:          "The flashlight is on.",
		TorchOff:         "The flashlight is off.",
		TorchUnsupported: "Sorry, your phone's hardware does not support the flashlight.",
		Vibrating:        "Vibrating the phone.",
		VibrateMissing:   "Your phone does not support vibration.",
		BatteryLevel:     "Your battery level is %d percent.",
		BatteryMissing:   "I cannot check the battery status.",
		LocationShown:    "I have opened your current location on the map.",
		LocationDenied:   "I cannot get permission to read your location.",
		MapUnavailable:   "I found your location but could not open the map.",
		AppOpening:       "Trying to open %s for you.",
		AppUnknown:       "Sorry, I cannot open %s directly.",
	},
}

var (
	cat       *catalog.Builder
	supported []language.Tag
	matcher   language.Matcher
)

func init() {
	cat = catalog.NewBuilder(catalog.Fallback(language.English))

	// English first so the matcher falls back to it.
	supported = []language.Tag{language.English, language.Bengali}
	for _, tag := range supported {
		for key, msg := range texts[tag] {
			if err := cat.SetString(tag, string(key), msg); err != nil {
				panic(fmt.Sprintf("phrases: %s/%s: %v", tag, key, err))
			}
		}
	}

	matcher = language.NewMatcher(supported)
}

// Book renders phrases for one locale.
type Book struct {
	locale  language.Tag
	printer *message.Printer
}

// New parses locale (e.g. "bn-BD") and picks the closest supported language.
func New(locale string) (*Book, error) {
	tag, err := language.Parse(locale)
	if err != nil {
		return nil, fmt.Errorf("parse locale %q: %w", locale, err)
	}

	_, idx, conf := matcher.Match(tag)
	if conf == language.No {
		return nil, fmt.Errorf("unsupported language %q", locale)
	}

	return &Book{
		locale:  tag,
		printer: message.NewPrinter(supported[idx], message.Catalog(cat)),
	}, nil
}

// Locale is the configured tag, region included.
func (b *Book) Locale() language.Tag { return b.locale }

// LanguageName is the English name of the spoken language, e.g. "Bangla".
func (b *Book) LanguageName() string {
	base, _ := b.locale.Base()
	return display.English.Languages().Name(base)
}

// Say renders key. Unknown keys never come back empty.
func (b *Book) Say(key Key, args ...any) string {
	out := strings.TrimSpace(b.printer.Sprintf(string(key), args...))
	if out == "" {
		return string(key)
	}
	return out
}
