package actions

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	log "log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"voxphone/internal/metrics"
	"voxphone/internal/phrases"
	"voxphone/internal/platform"
)

var tracer = otel.Tracer("voxphone/internal/actions")

const (
	defaultBatteryTimeout  = 5 * time.Second
	defaultLocationTimeout = 30 * time.Second
)

// Registry executes device actions. Every path returns a spoken sentence;
// failures are reported as sentences, never as errors.
type Registry struct {
	phrases *phrases.Book
	torch   *Torch
	devices Devices
	apps    appTable

	batteryTimeout  time.Duration
	locationTimeout time.Duration
}

type Option func(*Registry)

// WithApps adds to or overrides DefaultApps. An empty URI removes the entry.
func WithApps(apps map[string]string) Option {
	return func(r *Registry) { r.apps = newAppTable(DefaultApps, apps) }
}

func WithBatteryTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.batteryTimeout = d
		}
	}
}

func WithLocationTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.locationTimeout = d
		}
	}
}

func NewRegistry(book *phrases.Book, devices Devices, opts ...Option) *Registry {
	r := &Registry{
		phrases:         book,
		torch:           NewTorch(devices.Camera),
		devices:         devices,
		apps:            newAppTable(DefaultApps, nil),
		batteryTimeout:  defaultBatteryTimeout,
		locationTimeout: defaultLocationTimeout,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Close releases the flashlight stream if one is held.
func (r *Registry) Close() error {
	if r.torch.held() {
		log.Info("Releasing flashlight stream")
	}
	return r.torch.Off()
}

// Execute runs req and returns the sentence to speak.
func (r *Registry) Execute(ctx context.Context, req Request) (result string) {
	ctx, span := tracer.Start(ctx, "execute action")
	defer span.End()
	span.SetAttributes(attribute.String("action.name", req.Name()))

	defer func() {
		if p := recover(); p != nil {
			err := fmt.Errorf("action %q panicked: %v", req.Name(), p)
			log.Error("Action failed", "action", req.Name(), "err", err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			metrics.ActionDone(metricLabel(req), metrics.OutcomeFailed)
			result = r.phrases.Say(phrases.CannotPerform)
		}
		if result == "" {
			result = r.phrases.Say(phrases.CannotPerform)
		}
	}()

	log.Debug("Executing action", "action", req.Name(), "request", fmt.Sprintf("%+v", req))

	return Dispatch(ctx, r, req)
}

func (r *Registry) Flashlight(ctx context.Context, req Flashlight) string {
	if !req.On {
		if err := r.torch.Off(); err != nil {
			log.Warn("Failed to release camera stream", "err", err)
		}
		r.done(ctx, req, nil)
		return r.phrases.Say(phrases.TorchOff)
	}

	if err := r.torch.On(ctx); err != nil {
		r.done(ctx, req, err)
		return r.phrases.Say(phrases.TorchUnsupported)
	}

	r.done(ctx, req, nil)
	return r.phrases.Say(phrases.TorchOn)
}

func (r *Registry) Vibrate(ctx context.Context, req Vibrate) string {
	if r.devices.Vibrator == nil {
		r.done(ctx, req, platform.ErrUnavailable)
		return r.phrases.Say(phrases.VibrateMissing)
	}

	if err := r.devices.Vibrator.Vibrate(ctx, req.Duration); err != nil {
		r.done(ctx, req, err)
		return r.phrases.Say(phrases.VibrateMissing)
	}

	r.done(ctx, req, nil)
	return r.phrases.Say(phrases.Vibrating)
}

func (r *Registry) CheckBattery(ctx context.Context, req CheckBattery) string {
	if r.devices.Battery == nil {
		r.done(ctx, req, platform.ErrUnavailable)
		return r.phrases.Say(phrases.BatteryMissing)
	}

	ctx, cancel := context.WithTimeout(ctx, r.batteryTimeout)
	defer cancel()

	level, err := r.devices.Battery.Level(ctx)
	if err == nil && (math.IsNaN(level) || level < 0 || level > 1) {
		err = fmt.Errorf("battery level %v out of range", level)
	}
	if err != nil {
		r.done(ctx, req, err)
		return r.phrases.Say(phrases.BatteryMissing)
	}

	r.done(ctx, req, nil)
	return r.phrases.Say(phrases.BatteryLevel, int(math.Round(level*100)))
}

func (r *Registry) GetLocation(ctx context.Context, req GetLocation) string {
	if r.devices.Locator == nil {
		r.done(ctx, req, platform.ErrUnavailable)
		return r.phrases.Say(phrases.LocationDenied)
	}

	lctx, cancel := context.WithTimeout(ctx, r.locationTimeout)
	defer cancel()

	pos, err := r.devices.Locator.Locate(lctx)
	if err != nil {
		r.done(ctx, req, err)
		return r.phrases.Say(phrases.LocationDenied)
	}

	log.Info("Located", "lat", pos.Latitude, "lon", pos.Longitude)

	if err := r.open(ctx, pos.MapURL()); err != nil {
		r.done(ctx, req, err)
		return r.phrases.Say(phrases.MapUnavailable)
	}

	r.done(ctx, req, nil)
	return r.phrases.Say(phrases.LocationShown)
}

func (r *Registry) OpenApp(ctx context.Context, req OpenApp) string {
	uri, ok := r.apps.lookup(req.App)
	if !ok {
		r.done(ctx, req, errUnknownApp)
		return r.phrases.Say(phrases.AppUnknown, req.App)
	}

	// Whether the launched app actually shows up is not verified.
	if err := r.open(ctx, uri); err != nil {
		log.Warn("App launch failed", "app", req.App, "uri", uri, "err", err)
	}

	r.done(ctx, req, nil)
	return r.phrases.Say(phrases.AppOpening, req.App)
}

func (r *Registry) Unknown(ctx context.Context, req Unknown) string {
	r.done(ctx, req, errUnknownAction)
	return r.phrases.Say(phrases.CannotPerform)
}

var (
	errUnknownApp    = errors.New("unknown app")
	errUnknownAction = errors.New("unknown action")
)

func (r *Registry) open(ctx context.Context, uri string) error {
	if r.devices.Opener == nil {
		return platform.ErrUnavailable
	}
	return r.devices.Opener.Open(ctx, uri)
}

func (r *Registry) done(ctx context.Context, req Request, err error) {
	outcome := metrics.OutcomeOK
	switch {
	case err == nil:
	case errors.Is(err, errUnknownApp), errors.Is(err, errUnknownAction):
		outcome = metrics.OutcomeUnknown
	case errors.Is(err, platform.ErrUnavailable):
		outcome = metrics.OutcomeUnavailable
	default:
		outcome = metrics.OutcomeFailed
	}

	metrics.ActionDone(metricLabel(req), outcome)

	if err != nil {
		log.Warn("Action degraded", "action", req.Name(), "outcome", outcome, "err", err)
		span := trace.SpanFromContext(ctx)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// metricLabel keeps model-invented action names out of label values.
func metricLabel(req Request) string {
	if _, ok := req.(Unknown); ok {
		return "unknown"
	}
	return req.Name()
}
