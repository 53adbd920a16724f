package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sweetpotato0/ai-concierge/dispatch"
	"github.com/sweetpotato0/ai-concierge/status"
)

var invokeCmd = &cobra.Command{
	Use:   "invoke <utterance>...",
	Short: "Run one turn and print the reply",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			reply, err := a.manager.Invoke(ctx, threadFlag(cmd), strings.Join(args, " "))
			if err != nil {
				return err
			}
			return printReply(cmd, reply)
		})
	},
}

var feedbackCmd = &cobra.Command{
	Use:       "feedback retry",
	Short:     "Send feedback on the thread's last turn",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{string(dispatch.FeedbackRetry)},
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			reply, err := a.manager.Feedback(ctx, threadFlag(cmd), dispatch.Feedback(args[0]))
			if err != nil {
				return err
			}
			return printReply(cmd, reply)
		})
	},
}

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Print the thread's latest snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			st, err := a.manager.State(ctx, threadFlag(cmd))
			if err != nil {
				return err
			}
			return printJSON(cmd, st)
		})
	},
}

var toolCmd = &cobra.Command{
	Use:   "tool <name> <query>...",
	Short: "Run a tool directly and print its result envelope",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			res, err := a.tools.Execute(ctx, args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		})
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive conversation",
	Long: `Start an interactive conversation on one thread.
Type /retry to re-run the last turn, /state to print the snapshot and /quit to exit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			stopMetrics := serveMetrics(a)
			defer stopMetrics()

			if b, ok := a.status.(*status.Broadcaster); ok {
				watchStatus(ctx, cmd, b)
			}
			return chat(ctx, cmd, a)
		})
	},
}

func init() {
	rootCmd.AddCommand(invokeCmd, feedbackCmd, stateCmd, toolCmd, chatCmd)
}

func chat(ctx context.Context, cmd *cobra.Command, a *app) error {
	thread := threadFlag(cmd)
	out := cmd.OutOrStdout()
	scanner := bufio.NewScanner(cmd.InOrStdin())

	fmt.Fprintf(out, "concierge (thread %s)\n> ", thread)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		var (
			reply *dispatch.Reply
			err   error
		)
		switch line {
		case "":
			fmt.Fprint(out, "> ")
			continue
		case "/quit", "/exit":
			return nil
		case "/state":
			if st, serr := a.manager.State(ctx, thread); serr != nil {
				err = serr
			} else {
				err = printJSON(cmd, st)
			}
		case "/retry":
			reply, err = a.manager.Feedback(ctx, thread, dispatch.FeedbackRetry)
		default:
			reply, err = a.manager.Invoke(ctx, thread, line)
		}
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
		} else if reply != nil {
			fmt.Fprintf(out, "[%s] %s\n", reply.Agent, reply.Result)
		}
		fmt.Fprint(out, "> ")
	}
	return scanner.Err()
}

func watchStatus(ctx context.Context, cmd *cobra.Command, b *status.Broadcaster) {
	events, _ := b.Subscribe(ctx, status.Namespace)
	go func() {
		for ev := range events {
			if ev.Value != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "(%s is working on it)\n", ev.Value)
			}
		}
	}()
}

func serveMetrics(a *app) func() {
	if a.cfg.Metrics.Addr == "" {
		return func() {}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	srv := &http.Server{Addr: a.cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Warn("metrics server stopped", "error", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))
	return fn(ctx, a)
}

func printReply(cmd *cobra.Command, reply *dispatch.Reply) error {
	fmt.Fprintln(cmd.OutOrStdout(), reply.Result)
	return nil
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
