package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/floegence/lantun/config"
	"github.com/floegence/lantun/internal/cmdutil"
	"github.com/floegence/lantun/internal/defaults"
	"github.com/floegence/lantun/internal/logging"
	ver "github.com/floegence/lantun/internal/version"
	"github.com/floegence/lantun/keystore"
	"github.com/floegence/lantun/tunerrors"
	"github.com/floegence/lantun/tunnel"
)

// skipSetup marks commands that run without loading config or building a logger.
const skipSetup = "lantun/skip-setup"

type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	out    *cmdutil.LineWriter

	// signals enables OS signal handling in the long-running commands.
	signals bool

	configPath string
	logLevel   string
	keyFile    string

	cfg *config.Config
	log *zap.Logger
}

func newApp(stdin io.Reader, stdout, stderr io.Writer) *app {
	return &app{
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
		out:    cmdutil.NewLineWriter(stdout),
		log:    zap.NewNop(),
	}
}

func (a *app) execute(ctx context.Context, args []string) int {
	root := newRootCommand(a)
	root.SetArgs(args)
	root.SetIn(a.stdin)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	err := root.ExecuteContext(ctx)
	_ = a.log.Sync()
	if err == nil {
		return 0
	}
	fmt.Fprintln(a.stderr, "error:", tunerrors.Describe(err))
	if cmdutil.IsUsage(err) {
		fmt.Fprintln(a.stderr, "Run 'lantun --help' for usage.")
		return 2
	}
	return 1
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "lantun",
		Short: "Encrypted point-to-point TCP message tunnel",
		Long: "lantun moves text messages between two hosts over TCP, encrypting every message\n" +
			"with a pre-shared AES-256 key. Run 'lantun listen' on one side and\n" +
			"'lantun connect <host>' on the other.",
		Version:       ver.String(version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		Annotations:   map[string]string{skipSetup: "true"},
		Args:          cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return cmdutil.Usagef("unknown command %q for %q", args[0], cmd.CommandPath())
			}
			return cmd.Help()
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[skipSetup] != "" {
				return nil
			}
			return a.setup(cmd)
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &cmdutil.UsageError{Msg: err.Error()}
	})

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "config file (default: $LANTUN_CONFIG, ./lantun.yaml or ~/.lantun/lantun.yaml)")
	pf.StringVar(&a.logLevel, "log-level", "", "log level override: debug, info, warn or error")
	pf.StringVar(&a.keyFile, "key-file", "", "shared key file (default: ~/.lantun_key)")

	root.AddCommand(
		newKeygenCommand(a),
		newKeyCommand(a),
		newListenCommand(a),
		newConnectCommand(a),
		newSendCommand(a),
		newVersionCommand(a),
	)
	return root
}

// usageArgs turns positional argument errors into usage errors.
func usageArgs(v cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := v(cmd, args); err != nil {
			return &cmdutil.UsageError{Msg: err.Error()}
		}
		return nil
	}
}

// setup loads configuration, applies flag overrides and builds the logger.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return &cmdutil.UsageError{Msg: err.Error()}
	}
	flags := cmd.Flags()
	if flags.Changed("key-file") {
		cfg.KeyFile = a.keyFile
	}
	if flags.Changed("log-level") {
		if _, err := logging.ParseLevel(a.logLevel); err != nil {
			return &cmdutil.UsageError{Msg: err.Error()}
		}
		cfg.Log.Level = a.logLevel
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		return &cmdutil.UsageError{Msg: err.Error()}
	}
	a.cfg = cfg
	a.log = log
	return nil
}

func (a *app) store() *keystore.Store {
	return &keystore.Store{Path: a.cfg.KeyFile, Logger: a.log}
}

// loadKey loads (or first generates) the shared key and reports how it was obtained.
func (a *app) loadKey() (keystore.Key, error) {
	k, res, err := a.store().Load()
	if err != nil {
		return keystore.Key{}, keyError(tunerrors.StageLoad, err)
	}
	switch res {
	case keystore.Generated:
		a.out.Printf("[info] generated new key %s at %s, copy it to the peer", k.Fingerprint(), a.cfg.KeyFile)
	case keystore.HashDerived:
		a.out.Printf("[error] key file %s is not a valid key, using hash-derived key %s", a.cfg.KeyFile, k.Fingerprint())
	default:
		a.out.Printf("[info] using key %s", k.Fingerprint())
	}
	return k, nil
}

// keyError classifies a key store failure. Malformed key material is a usage error.
func keyError(stage tunerrors.Stage, err error) error {
	code := tunerrors.ClassifyKeyCode(err)
	werr := tunerrors.Wrap(tunerrors.RoleKey, stage, code, err)
	if code == tunerrors.CodeInvalidKeyLength {
		return &cmdutil.UsageError{Msg: tunerrors.Describe(werr), Err: werr}
	}
	return werr
}

// printEvent renders tunnel events as "[kind] remote: payload".
func (a *app) printEvent(ev tunnel.Event) {
	if ev.Remote == "" {
		a.out.Printf("[%s] %s", ev.Kind, ev.Payload)
		return
	}
	a.out.Printf("[%s] %s: %s", ev.Kind, ev.Remote, ev.Payload)
}

func (a *app) printCounters(st tunnel.Stats) {
	a.out.Printf("[info] messages in: %d, messages out: %d, decrypt failures: %d, dropped: %d",
		st.MessagesIn, st.MessagesOut, st.DecryptFailures, st.Dropped)
}

// readLines calls fn for every non-empty stdin line until EOF or ctx is done.
func (a *app) readLines(ctx context.Context, fn func(string)) {
	sc := bufio.NewScanner(a.stdin)
	sc.Buffer(make([]byte, 0, 64<<10), defaults.MaxFrameBytes)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" {
			continue
		}
		fn(line)
	}
	if err := sc.Err(); err != nil && !errors.Is(err, io.EOF) {
		a.log.Warn("stdin read failed", zap.Error(err))
	}
}
