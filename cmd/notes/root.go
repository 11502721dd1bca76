package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/agentworkforce/notesync/internal/localcache"
	"github.com/agentworkforce/notesync/internal/notes"
	"github.com/agentworkforce/notesync/internal/notesync"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	defaultServerURL = "http://127.0.0.1:8080"
	defaultTimeout   = 15 * time.Second
)

// app carries what every subcommand needs: resolved configuration and the
// output streams.
type app struct {
	v       *viper.Viper
	stdout  io.Writer
	stderr  io.Writer
	logSink io.WriteCloser
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{v: viper.New(), stdout: stdout, stderr: stderr}
	var configFile string

	root := &cobra.Command{
		Use:   "notes",
		Short: "Offline-tolerant notes client",
		Long: `notes reads and edits notes on a notesd backend. When the backend is
unreachable, changes are kept in a local cache and replayed by "notes sync"
or "notes watch" once it is back.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.loadConfig(configFile)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logSink != nil {
				_ = a.logSink.Close()
			}
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "config file (TOML or YAML)")
	flags.String("server", defaultServerURL, "notesd base URL")
	flags.String("cache", "", "local cache DSN (file://dir, sqlite://path, memory://); default "+localcache.DefaultDir())
	flags.Duration("timeout", defaultTimeout, "per-request timeout")
	flags.String("log-file", "", "write logs to a rotated file instead of stderr")
	flags.BoolP("verbose", "v", false, "log sync activity")
	flags.Bool("json", false, "print JSON instead of formatted output")
	_ = a.v.BindPFlags(flags)

	root.AddCommand(
		newListCmd(a),
		newShowCmd(a),
		newAddCmd(a),
		newEditCmd(a),
		newRmCmd(a),
		newSyncCmd(a),
		newStatusCmd(a),
		newWatchCmd(a),
	)
	return root
}

func (a *app) loadConfig(configFile string) error {
	a.v.SetEnvPrefix("NOTES")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()
	if configFile = strings.TrimSpace(configFile); configFile != "" {
		a.v.SetConfigFile(configFile)
		if err := a.v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", configFile, err)
		}
	}
	return nil
}

// logger returns where engine activity goes: a rotated file when configured,
// stderr with --verbose, nowhere otherwise. Long-running commands pass
// always=true.
func (a *app) logger(always bool) *log.Logger {
	if path := strings.TrimSpace(a.v.GetString("log-file")); path != "" {
		if a.logSink == nil {
			a.logSink = &lumberjack.Logger{Filename: path, MaxSize: 10, MaxBackups: 3, Compress: true}
		}
		return log.New(a.logSink, "", log.LstdFlags)
	}
	if always || a.v.GetBool("verbose") {
		return log.New(a.stderr, "notes: ", log.LstdFlags)
	}
	return log.New(io.Discard, "", 0)
}

type session struct {
	engine *notesync.Engine
	cache  notesync.Cache
	close  func()
	// queued holds the note ids this session put on the queue.
	queued map[string]bool
}

// openSession wires cache, HTTP client and engine, then probes the backend
// so the first operation already knows whether it is online.
func (a *app) openSession(ctx context.Context, logger *log.Logger) (*session, error) {
	cache, err := localcache.Open(a.v.GetString("cache"))
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	timeout := a.v.GetDuration("timeout")
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := notesync.NewHTTPClient(a.v.GetString("server"), &http.Client{Timeout: timeout})
	s := &session{
		cache:  cache,
		close:  func() { closeCache(cache) },
		queued: map[string]bool{},
	}
	engine, err := notesync.NewEngine(client, cache, notesync.EngineOptions{
		Logger: logger,
		OnConnectivity: func(online bool) {
			if online {
				renderOnlineBanner(a.stderr)
				return
			}
			renderOfflineBanner(a.stderr)
		},
		OnDiscard: func(op notesync.PendingOperation, err error) {
			renderDiscard(a.stderr, op, err)
		},
		OnPark: func(op notesync.PendingOperation, err error) {
			renderPark(a.stderr, op, err)
		},
		OnQueued: func(op notesync.PendingOperation) {
			s.queued[op.Note.ID] = true
		},
	})
	if err != nil {
		closeCache(cache)
		return nil, err
	}
	engine.Probe(ctx)
	s.engine = engine
	return s, nil
}

// synced reports whether a change to id reached the server. Temporary notes
// never have.
func (s *session) synced(id string) bool {
	return !s.queued[id] && !notes.IsTemporaryID(id)
}

func (a *app) withSession(cmd *cobra.Command, fn func(ctx context.Context, s *session) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := a.openSession(ctx, a.logger(false))
	if err != nil {
		return err
	}
	defer s.close()
	return fn(ctx, s)
}

func closeCache(cache notesync.Cache) {
	if closer, ok := cache.(io.Closer); ok {
		_ = closer.Close()
	}
}
