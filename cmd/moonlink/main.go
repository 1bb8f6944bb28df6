package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	ossignal "os/signal"
	"strings"
	"syscall"
	"time"

	"moonlink/native/internal/api"
	"moonlink/native/internal/config"
	"moonlink/native/internal/crypto"
	"moonlink/native/internal/domain"
	"moonlink/native/internal/pairing"
	"moonlink/native/internal/session"
	sigclient "moonlink/native/internal/signal"
	"moonlink/native/internal/viewer"
	"moonlink/native/internal/webrtc"

	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
)

const helpText = `moonlink - Pair with and stream from a game-streaming host

Usage:
  moonlink <command> [options]

Commands:
  identity   Create (or show) the client certificate
  pair       Pair with the host using MOONLINK_PIN
  unpair     Remove this client from the host
  info       Print the host's server info
  stream     Launch the configured app and stream it

Environment Variables:
  MOONLINK_HOST          Host address (host or host:port)
  MOONLINK_PIN           Pairing PIN, shown on the host (pair only)
  MOONLINK_SIGNAL_URL    Signaling gateway WebSocket URL (stream only)
  MOONLINK_SIGNAL_TOKEN  Gateway access token (stream only)
  MOONLINK_IDENTITY_DIR  Client identity directory (default: identity)
  MOONLINK_PROFILE       Stream profile YAML (default: moonlink.yaml)

Examples:
  # Pair, then stream with the raw RGBA frames piped to ffplay
  MOONLINK_PIN=1234 moonlink pair
  moonlink stream -raw | ffplay -f rawvideo -pixel_format rgba -video_size 1920x1080 -

Options:
  -h, --help  Show this help message
`

const remoteInputIVSize = 16

func main() {
	if len(os.Args) < 2 || os.Args[1] == "-h" || os.Args[1] == "--help" {
		fmt.Print(helpText)
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "moonlink: %v\n", err)
		os.Exit(1)
	}
	level, _ := cfg.Profile.Logging.SlogLevel()
	InitLogger(level)

	ctx, cancel := ossignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "identity":
		err = runIdentity(cfg)
	case "pair":
		err = runPair(ctx, cfg)
	case "unpair":
		err = runUnpair(ctx, cfg)
	case "info":
		err = runInfo(ctx, cfg)
	case "stream":
		err = runStream(ctx, cfg, args)
	default:
		fmt.Fprintf(os.Stderr, "moonlink: unknown command %q\n\n%s", cmd, helpText)
		os.Exit(2)
	}
	if err != nil {
		slog.Error("command failed", "command", cmd, "error", err)
		os.Exit(1)
	}
}

// InitLogger installs a colored slog handler on stderr. Stdout is kept
// free for frame output. Source paths are trimmed to the module root.
func InitLogger(level slog.Level) {
	replaceAttr := func(groups []string, a slog.Attr) slog.Attr {
		if a.Key == slog.SourceKey {
			if source, ok := a.Value.Any().(*slog.Source); ok {
				if i := strings.Index(source.File, "/internal/"); i >= 0 {
					source.File = source.File[i+1:]
				} else if i := strings.Index(source.File, "/cmd/"); i >= 0 {
					source.File = source.File[i+1:]
				}
				return slog.Any(a.Key, source)
			}
		}
		return a
	}

	handler := tint.NewHandler(os.Stderr, &tint.Options{
		Level:       level,
		AddSource:   level == slog.LevelDebug,
		TimeFormat:  time.RFC3339,
		ReplaceAttr: replaceAttr,
	})
	slog.SetDefault(slog.New(handler))
}

func runIdentity(cfg *config.Config) error {
	id, created, err := pairing.LoadOrGenerateIdentity(cfg.IdentityDir)
	if err != nil {
		return err
	}
	fp, err := id.Fingerprint()
	if err != nil {
		return err
	}
	slog.Info("client identity", "dir", cfg.IdentityDir, "created", created, "fingerprint", fmt.Sprintf("%x", fp))
	return nil
}

// hostClient builds an API client, pinning the host certificate from an
// earlier pairing when one is stored.
func hostClient(cfg *config.Config, requirePaired bool) (*api.Client, *pairing.Identity, error) {
	hostURL, err := cfg.HostURL()
	if err != nil {
		return nil, nil, err
	}
	id, _, err := pairing.LoadOrGenerateIdentity(cfg.IdentityDir)
	if err != nil {
		return nil, nil, err
	}
	hostCert, err := pairing.LoadHostCert(cfg.IdentityDir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if requirePaired {
			return nil, nil, errors.New("not paired with this host; run `moonlink pair` first")
		}
	case err != nil:
		return nil, nil, err
	}
	client, err := api.NewClient(api.Options{
		BaseURL:     hostURL,
		Identity:    id,
		HostCertPEM: hostCert,
	})
	if err != nil {
		return nil, nil, err
	}
	return client, id, nil
}

func runPair(ctx context.Context, cfg *config.Config) error {
	if err := cfg.RequirePIN(); err != nil {
		return err
	}
	client, id, err := hostClient(cfg, false)
	if err != nil {
		return err
	}

	slog.Info("pairing; enter the PIN on the host", "host", cfg.Host, "pin", cfg.PIN)
	res, err := pairing.Run(ctx, client, cfg.PIN, id)
	if err != nil {
		if errors.Is(err, pairing.ErrPairingRejected) {
			return fmt.Errorf("host rejected pairing (wrong PIN?): %w", err)
		}
		return err
	}
	if err := pairing.SaveHostCert(cfg.IdentityDir, res.HostCertPEM); err != nil {
		return err
	}
	slog.Info("paired", "host", cfg.Host)
	return nil
}

func runUnpair(ctx context.Context, cfg *config.Config) error {
	client, _, err := hostClient(cfg, true)
	if err != nil {
		return err
	}
	if err := client.Unpair(ctx); err != nil {
		return err
	}
	return pairing.RemoveHostCert(cfg.IdentityDir)
}

func runInfo(ctx context.Context, cfg *config.Config) error {
	client, _, err := hostClient(cfg, false)
	if err != nil {
		return err
	}
	info, err := client.ServerInfo(ctx)
	if err != nil {
		return err
	}
	slog.Info("server info",
		"hostname", info.Hostname,
		"app_version", info.AppVersion,
		"gfe_version", info.GfeVersion,
		"codec_support", fmt.Sprintf("%#x", info.ServerCodecModeSupport),
		"paired", info.Paired,
		"current_game", info.CurrentGame,
		"state", info.State,
	)
	return nil
}

func runStream(ctx context.Context, cfg *config.Config, args []string) error {
	fset := flag.NewFlagSet("stream", flag.ContinueOnError)
	raw := fset.Bool("raw", false, "write raw RGBA frames to stdout")
	if err := fset.Parse(args); err != nil {
		return err
	}
	if err := cfg.RequireSignalURL(); err != nil {
		return err
	}

	client, _, err := hostClient(cfg, true)
	if err != nil {
		return err
	}
	info, err := client.ServerInfo(ctx)
	if err != nil {
		return fmt.Errorf("server info: %w", err)
	}
	if !info.Paired {
		return errors.New("host no longer lists this client as paired; run `moonlink pair` again")
	}

	streamCfg, err := newStreamConfig(cfg, info)
	if err != nil {
		return err
	}
	sessionURL, err := client.Launch(ctx, cfg.Profile.Stream.AppID, &streamCfg)
	if err != nil {
		return fmt.Errorf("launch: %w", err)
	}
	streamCfg.RTSPSessionURL = sessionURL

	log := slog.Default()
	gw := viewer.NewGateway(viewer.GatewayOptions{
		NewSignaler: func(h domain.Handler) domain.Signaler {
			return sigclient.NewClient(sigclient.Options{
				URL:         cfg.SignalURL,
				AccessToken: cfg.SignalToken,
				Log:         log,
			}, h)
		},
		NewPeer: func(iceServers []domain.ICEServer) (domain.Peer, error) {
			return webrtc.NewPeer(iceServers, log)
		},
		Log: log,
	})

	router := session.NewRouter(session.RouterOptions{Log: log})
	sess := session.New(gw, router, session.Options{Log: log})
	defer sess.Close()

	var out io.Writer = io.Discard
	if *raw {
		out = os.Stdout
	}

	if err := sess.Start(streamCfg); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return consume(gctx, sess, out)
	})
	g.Go(func() error {
		<-gctx.Done()
		sess.Stop()
		return nil
	})

	err = g.Wait()
	st := sess.Stats()
	slog.Info("session ended",
		"state", sess.State().String(),
		"video", st.Video,
		"audio", st.Audio.String(),
		"frames_overwritten", st.FramesOverwritten,
	)
	if errors.Is(err, errSessionOver) {
		return sess.Err()
	}
	return err
}

func newStreamConfig(cfg *config.Config, info *api.ServerInfo) (domain.StreamConfig, error) {
	key, err := crypto.RandomBytes(domain.RemoteInputKeySize)
	if err != nil {
		return domain.StreamConfig{}, err
	}
	iv, err := crypto.RandomBytes(remoteInputIVSize)
	if err != nil {
		return domain.StreamConfig{}, err
	}
	sc := domain.StreamConfig{
		HostAddress:            cfg.Host,
		RemoteInputKey:         key,
		RemoteInputIV:          iv,
		ServerAppVersion:       info.AppVersion,
		ServerCodecModeSupport: info.ServerCodecModeSupport,
	}
	if err := cfg.Profile.Stream.Apply(&sc); err != nil {
		return domain.StreamConfig{}, err
	}
	return sc, sc.Validate()
}

var errSessionOver = errors.New("session over")

// consume is the consumer goroutine: it logs lifecycle events, runs
// dispatched work and drains frames until the session reaches a final
// state.
func consume(ctx context.Context, sess *session.Session, out io.Writer) error {
	frames := sess.Frames()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-sess.Events():
			logEvent(ev)
			if ev.Kind == session.EventDecodeFatal {
				sess.Stop()
			}
			if ev.Kind == session.EventTerminated || ev.Kind == session.EventFailed {
				return errSessionOver
			}
		case <-sess.Dispatcher().Ready():
			sess.Pump()
		case <-frames.Ready():
			f, ok := frames.Take()
			if !ok {
				continue
			}
			_, err := out.Write(f.Pix)
			frames.Recycle(f)
			if err != nil {
				return fmt.Errorf("write frame: %w", err)
			}
		}
	}
}

func logEvent(ev session.Event) {
	switch ev.Kind {
	case session.EventStageFailed, session.EventFailed, session.EventDecodeFatal:
		slog.Error("session", "event", ev.String())
	case session.EventStatus:
		slog.Warn("session", "event", ev.String())
	default:
		slog.Info("session", "event", ev.String())
	}
}
