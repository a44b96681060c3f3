// Package actions holds the fixed set of device actions the assistant can
// request and the registry that carries them out.
package actions

import (
	"context"
	"strings"
	"time"

	log "log/slog"

	"github.com/mitchellh/mapstructure"
)

// Action names as advertised to the model.
const (
	FlashlightAction = "toggle_flashlight"
	VibrateAction    = "vibrate_device"
	BatteryAction    = "check_battery"
	LocationAction   = "get_location"
	OpenAppAction    = "open_app"
)

const defaultVibration = 500 * time.Millisecond

// Call is an action invocation exactly as the model produced it.
type Call struct {
	Name      string
	Arguments map[string]any
}

// Request is a decoded, typed action. The set of implementations is closed.
type Request interface {
	Name() string
	accept(ctx context.Context, h Handler) string
}

// Handler has one method per Request variant; adding a variant without a
// handler method does not compile.
type Handler interface {
	Flashlight(ctx context.Context, r Flashlight) string
	Vibrate(ctx context.Context, r Vibrate) string
	CheckBattery(ctx context.Context, r CheckBattery) string
	GetLocation(ctx context.Context, r GetLocation) string
	OpenApp(ctx context.Context, r OpenApp) string
	Unknown(ctx context.Context, r Unknown) string
}

// Dispatch routes r to the matching method of h.
func Dispatch(ctx context.Context, h Handler, r Request) string {
	return r.accept(ctx, h)
}

type Flashlight struct{ On bool }

type Vibrate struct{ Duration time.Duration }

type CheckBattery struct{}

type GetLocation struct{}

type OpenApp struct{ App string }

// Unknown is any name outside the registry.
type Unknown struct{ Action string }

func (Flashlight) Name() string   { return FlashlightAction }
func (Vibrate) Name() string      { return VibrateAction }
func (CheckBattery) Name() string { return BatteryAction }
func (GetLocation) Name() string  { return LocationAction }
func (OpenApp) Name() string      { return OpenAppAction }
func (u Unknown) Name() string    { return u.Action }

func (r Flashlight) accept(ctx context.Context, h Handler) string   { return h.Flashlight(ctx, r) }
func (r Vibrate) accept(ctx context.Context, h Handler) string      { return h.Vibrate(ctx, r) }
func (r CheckBattery) accept(ctx context.Context, h Handler) string { return h.CheckBattery(ctx, r) }
func (r GetLocation) accept(ctx context.Context, h Handler) string  { return h.GetLocation(ctx, r) }
func (r OpenApp) accept(ctx context.Context, h Handler) string      { return h.OpenApp(ctx, r) }
func (r Unknown) accept(ctx context.Context, h Handler) string      { return h.Unknown(ctx, r) }

type flashlightArgs struct {
	State string `json:"state" jsonschema:"enum=on,enum=off" jsonschema_description:"Whether the flashlight should be 'on' or 'off'."`
}

type vibrateArgs struct {
	Duration float64 `json:"duration,omitempty" jsonschema_description:"How many milliseconds to vibrate for (default 500)."`
}

type openAppArgs struct {
	AppName string `json:"app_name" jsonschema_description:"Name of the app (whatsapp, facebook, youtube, calculator, settings, dialer, camera)."`
}

type noArgs struct{}

// Decode turns a raw call into a Request. Names outside the registry become
// Unknown; malformed arguments fall back to each action's defaults.
func Decode(call Call) Request {
	switch call.Name {
	case FlashlightAction:
		var args flashlightArgs
		decodeArgs(call, &args)
		return Flashlight{On: strings.EqualFold(strings.TrimSpace(args.State), "on")}

	case VibrateAction:
		var args vibrateArgs
		decodeArgs(call, &args)
		d := time.Duration(args.Duration * float64(time.Millisecond))
		if d <= 0 {
			d = defaultVibration
		}
		return Vibrate{Duration: d}

	case BatteryAction:
		return CheckBattery{}

	case LocationAction:
		return GetLocation{}

	case OpenAppAction:
		var args openAppArgs
		decodeArgs(call, &args)
		return OpenApp{App: strings.TrimSpace(args.AppName)}

	default:
		return Unknown{Action: call.Name}
	}
}

func decodeArgs(call Call, out any) {
	if len(call.Arguments) == 0 {
		return
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		log.Warn("Failed to build argument decoder", "action", call.Name, "err", err)
		return
	}

	if err := dec.Decode(call.Arguments); err != nil {
		log.Warn("Ignoring malformed action arguments", "action", call.Name, "args", call.Arguments, "err", err)
	}
}
