package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	cli "github.com/spf13/pflag"

	"github.com/lmittmann/tint"
	log "log/slog"

	"voxphone/internal/actions"
	"voxphone/internal/assistant"
	"voxphone/internal/audio"
	"voxphone/internal/bus"
	"voxphone/internal/config"
	"voxphone/internal/ipc"
	"voxphone/internal/notify"
	"voxphone/internal/phrases"
	"voxphone/internal/platform"
	"voxphone/internal/platform/linux"
	"voxphone/internal/platform/termux"
	"voxphone/internal/proxy"
	"voxphone/internal/session"
	"voxphone/internal/speech"
	"voxphone/internal/telemetry"
	"voxphone/internal/tts"
	"voxphone/internal/web"
	"voxphone/pkg/stt"
)

var version = "dev"

var logLevelMap = map[string]log.Level{
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
}

func main() {
	envFile := cli.StringP("env", "e", ".env", "Env file path")
	configFile := cli.StringP("config", "c", "", "YAML config file")
	logLevel := cli.StringP("log", "l", "info", "Log level")
	proxyAddr := cli.StringP("proxy", "p", "", "Socks proxy address for the assistant")
	platformName := cli.String("platform", config.PlatformAuto, "Device platform: auto, termux or linux")
	lang := cli.String("lang", "", "Conversation locale, e.g. bn-BD or en-US")
	audioFile := cli.StringP("file", "f", "", "Transcribe this audio file instead of the microphone")
	metricsAddr := cli.StringP("metrics", "m", "", "HTTP listen address for status and metrics")
	hubURL := cli.StringP("url", "u", "", "Websocket hub URL")
	socket := cli.StringP("socket", "s", ipc.DefaultSocketPath(), "Control socket path")
	sequential := cli.Bool("sequential", false, "Let each action result finish speaking before the next")
	cli.Parse()

	log.SetDefault(log.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level: logLevelMap[*logLevel],
	})))

	log.Info("Booting up", "version", version)

	if err := godotenv.Load(*envFile); err != nil {
		log.Debug("No env file", "path", *envFile, "err", err)
	}

	cfg, err := config.Load(*configFile, os.LookupEnv)
	if err != nil {
		log.Error("Failed to load config", "err", err)
		os.Exit(1)
	}

	if cli.CommandLine.Changed("proxy") {
		cfg.Assistant.Proxy = *proxyAddr
	}
	if cli.CommandLine.Changed("platform") {
		cfg.Platform = *platformName
	}
	if cli.CommandLine.Changed("lang") {
		cfg.Language = *lang
	}
	if cli.CommandLine.Changed("file") {
		cfg.Speech.AudioFile = *audioFile
	}
	if cli.CommandLine.Changed("metrics") {
		cfg.Control.Metrics = *metricsAddr
	}
	if cli.CommandLine.Changed("url") {
		cfg.Control.Hub = *hubURL
	}
	if cli.CommandLine.Changed("socket") || cfg.Control.Socket == "" {
		cfg.Control.Socket = *socket
	}
	if cli.CommandLine.Changed("sequential") {
		cfg.Speech.Sequential = *sequential
	}

	if err := cfg.Validate(); err != nil {
		log.Error("Invalid config", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Error("Daemon failed", "err", err)
		os.Exit(1)
	}

	log.Info("Bye")
}

func run(ctx context.Context, cfg *config.Config) error {
	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Endpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Insecure:       os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true",
		ServiceVersion: version,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			log.Warn("Failed to flush traces", "err", err)
		}
	}()

	book, err := phrases.New(cfg.Language)
	if err != nil {
		return err
	}

	log.Debug("Loaded phrases", "locale", book.Locale(), "language", book.LanguageName())

	plat, err := openPlatform(cfg, book)
	if err != nil {
		return err
	}
	defer plat.close()

	log.Debug("Loaded platform", "platform", plat.name)

	model, err := newAssistant(cfg, book)
	if err != nil {
		return err
	}

	registry := actions.NewRegistry(book, plat.devices,
		actions.WithApps(cfg.Actions.Apps),
		actions.WithBatteryTimeout(cfg.Actions.BatteryTimeout),
		actions.WithLocationTimeout(cfg.Actions.LocationTimeout),
	)

	opts := []session.Option{session.WithListeningCue(listeningCue(cfg, plat.name, book))}
	if cfg.Speech.Sequential {
		opts = append(opts, session.WithSequentialSpeech())
	}

	ctl := session.New(model, registry,
		speech.NewListener(plat.recognizer),
		speech.NewSpeaker(plat.synth, book.Locale()),
		book, opts...)
	defer func() {
		if err := ctl.Close(); err != nil {
			log.Warn("Failed to release devices", "err", err)
		}
	}()

	events, unsubscribe := ctl.Subscribe()
	defer unsubscribe()
	go logEvents(events)

	srv, err := ipc.Listen(cfg.Control.Socket, func(ctx context.Context, msg ipc.ControlMessage) ipc.ControlReply {
		return control(ctx, ctl, msg)
	})
	if err != nil {
		return err
	}
	defer srv.Close()

	log.Debug("Control socket ready", "path", cfg.Control.Socket)

	if cfg.Control.Hub != "" {
		startBus(ctx, cfg, ctl)
	}

	if cfg.Control.Metrics != "" {
		go func() {
			err := web.Serve(ctx, cfg.Control.Metrics, web.NewHandler(ctl))
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("HTTP server failed", "err", err)
			}
		}()
	}

	log.Info("Boot up - successful", "platform", plat.name, "locale", book.Locale())

	<-ctx.Done()

	log.Info("Shutting down")
	return nil
}

type devicePlatform struct {
	name       string
	devices    actions.Devices
	recognizer speech.Recognizer
	synth      speech.Synthesizer
	closers    []func() error
}

func (p *devicePlatform) close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil {
			log.Warn("Failed to close platform resource", "err", err)
		}
	}
}

func openPlatform(cfg *config.Config, book *phrases.Book) (*devicePlatform, error) {
	name := cfg.ResolvePlatform()

	if name == config.PlatformTermux {
		dev := termux.New(platform.Exec)
		p := &devicePlatform{name: name, devices: dev.Devices(), recognizer: dev, synth: dev}
		if cfg.Speech.AudioFile != "" {
			tr, err := newTranscriber(cfg, book)
			if err != nil {
				return nil, err
			}
			p.recognizer = audio.NewFileRecognizer(cfg.Speech.AudioFile, tr)
			p.closers = append(p.closers, tr.Close)
		}
		return p, nil
	}

	dev := linux.New(linux.DefaultSysfs, platform.Exec)
	p := &devicePlatform{name: name, devices: dev.Devices()}

	tr, err := newTranscriber(cfg, book)
	if err != nil {
		return nil, err
	}
	p.closers = append(p.closers, tr.Close)

	if cfg.Speech.AudioFile != "" {
		p.recognizer = audio.NewFileRecognizer(cfg.Speech.AudioFile, tr)
	} else {
		rec := audio.NewRecorder()
		if err := rec.Init(); err != nil {
			p.close()
			return nil, err
		}
		p.closers = append(p.closers, rec.Close)

		var ducker *audio.Ducker
		if cfg.Speech.Duck {
			ducker = audio.NewDucker(platform.Exec, []string{"voxphone", "PortAudio", "espeak"}, 5)
		}
		p.recognizer = audio.NewMicRecognizer(rec, tr, ducker)
	}

	synth, err := tts.New()
	if err != nil {
		p.close()
		return nil, err
	}
	p.synth = synth

	return p, nil
}

func newTranscriber(cfg *config.Config, book *phrases.Book) (*stt.Transcriber, error) {
	base, _ := book.Locale().Base()

	tr, err := stt.NewTranscriber(cfg.Speech.WhisperModel, stt.Options{Language: base.String()})
	if err != nil {
		return nil, err
	}

	log.Debug("Loaded whisper", "model", cfg.Speech.WhisperModel)
	return tr, nil
}

func newAssistant(cfg *config.Config, book *phrases.Book) (*assistant.OpenAI, error) {
	var httpClient *http.Client
	if cfg.Assistant.Proxy != "" {
		c, err := proxy.NewSocksClient(cfg.Assistant.Proxy)
		if err != nil {
			return nil, err
		}
		httpClient = c
		log.Debug("Loaded proxy", "proxy", cfg.Assistant.Proxy)
	}

	return assistant.NewOpenAI(assistant.Config{
		APIKey:       cfg.APIKey,
		BaseURL:      cfg.Assistant.BaseURL,
		Model:        cfg.Assistant.Model,
		Temperature:  cfg.Assistant.Temperature,
		Instructions: assistant.SystemPrompt(book.LanguageName()),
		WebSearch:    cfg.Assistant.WebSearch,
		HTTPClient:   httpClient,
		Tools:        actions.Schema(),
	}), nil
}

func listeningCue(cfg *config.Config, platformName string, book *phrases.Book) func() {
	var earcon *notify.Earcon
	if cfg.Speech.Earcon != "" {
		e, err := notify.LoadEarcon(cfg.Speech.Earcon)
		if err != nil {
			log.Warn("No earcon", "path", cfg.Speech.Earcon, "err", err)
		} else {
			earcon = e
		}
	}

	popup := notify.NewPopup(platform.Exec, platformName == config.PlatformTermux)
	return notify.Cue(earcon, popup, book.Say(phrases.Ready))
}

func control(ctx context.Context, ctl *session.Controller, msg ipc.ControlMessage) ipc.ControlReply {
	var err error

	switch msg.Cmd {
	case ipc.CmdListen:
		err = ctl.Toggle()
	case ipc.CmdStop:
		ctl.Stop()
	case ipc.CmdClear:
		ctl.Clear()
	case ipc.CmdStatus, ipc.CmdHistory:
	case ipc.CmdSay:
		err = ctl.Prompt(ctx, msg.Text)
	default:
		log.Warn("Unknown command", "cmd", msg.Cmd)
		return ipc.ControlReply{Error: "unknown command " + msg.Cmd}
	}

	if err != nil {
		return ipc.ControlReply{Error: err.Error()}
	}

	snap := ctl.Snapshot()
	return ipc.ControlReply{OK: true, Snapshot: &snap}
}

func startBus(ctx context.Context, cfg *config.Config, ctl *session.Controller) {
	client, err := bus.Dial(ctx, bus.Config{URL: cfg.Control.Hub, Name: cfg.Control.HubName})
	if err != nil {
		log.Warn("Hub unavailable, continuing without it", "err", err)
		return
	}

	events, unsubscribe := ctl.Subscribe()
	go client.Forward(events)

	go func() {
		defer unsubscribe()
		defer client.Close()

		client.Run(ctx, func(m bus.Message) {
			msg := ipc.ControlMessage{Cmd: m.Content}
			if m.Kind == bus.KindPrompt {
				msg = ipc.ControlMessage{Cmd: ipc.CmdSay, Text: m.Content}
			} else if m.Kind != bus.KindCommand {
				return
			}

			// Prompts run a whole turn; keep reading meanwhile.
			go func() {
				if reply := control(ctx, ctl, msg); !reply.OK {
					log.Warn("Hub command failed", "from", m.From, "cmd", msg.Cmd, "err", reply.Error)
				}
			}()
		})
	}()
}

func logEvents(events <-chan session.Event) {
	for ev := range events {
		switch ev.Kind {
		case session.StatusChanged:
			log.Debug("Status", "status", ev.Status)
		case session.Transcribed:
			log.Info("Heard", "text", ev.Text)
		case session.EntryAdded:
			if ev.Entry != nil {
				log.Info("Said", "role", ev.Entry.Role, "text", ev.Entry.Text)
			}
		case session.Failed:
			log.Warn("Session error", "text", ev.Text)
		}
	}
}
