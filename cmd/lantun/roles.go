package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/floegence/lantun/internal/cmdutil"
	"github.com/floegence/lantun/observability"
	"github.com/floegence/lantun/tunnel"
)

// session is one running tunnel plus its optional metrics endpoint.
type session struct {
	a       *app
	tun     *tunnel.Tunnel
	metrics *metricsServer
}

func (a *app) openSession() (*session, error) {
	key, err := a.loadKey()
	if err != nil {
		return nil, err
	}
	obs := observability.NewAtomicTunnelObserver()
	tun, err := tunnel.New(a.cfg.TunnelConfig(), key,
		tunnel.WithLogger(a.log),
		tunnel.WithObserver(obs),
		tunnel.WithEventHandler(a.printEvent),
	)
	if err != nil {
		return nil, &cmdutil.UsageError{Msg: err.Error()}
	}
	s := &session{a: a, tun: tun}
	if addr := a.cfg.Metrics.Listen; addr != "" {
		m, err := startMetricsServer(addr, obs, tun, a.log)
		if err != nil {
			return nil, fmt.Errorf("metrics listen: %w", err)
		}
		s.metrics = m
	}
	return s, nil
}

func (s *session) metricsController() *metricsController {
	if s.metrics == nil {
		return nil
	}
	return s.metrics.ctrl
}

// wait blocks until ctx is done, the role reports a result, or a shutdown signal arrives.
func (s *session) wait(ctx context.Context, roleDone <-chan error) error {
	var sigCh chan os.Signal
	if s.a.signals {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, notifySignals()...)
		defer signal.Stop(sigCh)
	}
	printCounters := func() { s.a.printCounters(s.tun.Stats()) }
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-roleDone:
			return err
		case sig := <-sigCh:
			if !handleSignal(sig, s.a.log, printCounters, s.metricsController()) {
				return nil
			}
		}
	}
}

func (s *session) close() {
	s.tun.Stop()
	if s.metrics != nil {
		s.metrics.shutdown()
	}
	s.a.printCounters(s.tun.Stats())
}

func newListenCommand(a *app) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Run the receiver role",
		Long: "Accept encrypted peers on the configured port and print what they send.\n" +
			"Lines typed on stdin are sent to every connected peer.\n\n" + signalHelp,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("port") {
				if err := applyPort(&a.cfg.Tunnel.Port, &a.cfg.Tunnel.ListenAddr, port); err != nil {
					return err
				}
			}
			s, err := a.openSession()
			if err != nil {
				return err
			}
			defer s.close()
			if err := s.tun.StartReceiver(); err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			go a.readLines(ctx, func(line string) {
				if s.tun.Broadcast(ctx, line) == 0 {
					a.out.Printf("[info] no connected peers")
				}
			})
			return s.wait(ctx, nil)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "TCP port to listen on (overrides tunnel.port)")
	return cmd
}

// applyPort overrides the configured port, keeping the host of an explicit listen address.
func applyPort(cfgPort *int, listenAddr *string, port int) error {
	if port <= 0 || port > 65535 {
		return cmdutil.Usagef("invalid --port %d", port)
	}
	*cfgPort = port
	if *listenAddr != "" {
		host, _, err := net.SplitHostPort(*listenAddr)
		if err != nil {
			return cmdutil.Usagef("invalid tunnel.listen_addr %q", *listenAddr)
		}
		*listenAddr = net.JoinHostPort(host, strconv.Itoa(port))
	}
	return nil
}

func newConnectCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "connect <target>",
		Short: "Run the sender role against a receiver",
		Long: "Connect to a receiver and send every stdin line as an encrypted message.\n" +
			"target is host, host:port, [ipv6]:port or a ws:// or wss:// URL.\n\n" + signalHelp,
		Args: usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := args[0]
			if err := tunnel.ValidateTarget(target); err != nil {
				return &cmdutil.UsageError{Msg: err.Error()}
			}
			s, err := a.openSession()
			if err != nil {
				return err
			}
			defer s.close()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			roleDone := make(chan error, 1)
			go func() { roleDone <- s.tun.RunSender(ctx, target) }()
			go a.readLines(ctx, func(line string) { s.tun.Enqueue(line) })
			return s.wait(ctx, roleDone)
		},
	}
}

func newSendCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "send <target> <message...>",
		Short: "Send one message and exit",
		Args:  usageArgs(cobra.MinimumNArgs(2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := args[0]
			if err := tunnel.ValidateTarget(target); err != nil {
				return &cmdutil.UsageError{Msg: err.Error()}
			}
			body := strings.Join(args[1:], " ")
			if strings.TrimSpace(body) == "" {
				return cmdutil.Usagef("message is empty")
			}
			s, err := a.openSession()
			if err != nil {
				return err
			}
			defer s.close()
			return s.tun.SendOnce(cmd.Context(), target, body)
		},
	}
}
