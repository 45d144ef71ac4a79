package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/the-vow/backend/internal/client"
	"github.com/the-vow/backend/internal/model"
	"github.com/the-vow/backend/internal/protocol"
)

const defaultEchoTimeout = 5 * time.Second

var errNoEcho = errors.New("server did not echo the message")

type realtimeOptions struct {
	sessionID string
	code      string
	heartbeat time.Duration
}

func (o *realtimeOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.sessionID, "session", "", "Session ID")
	cmd.Flags().StringVar(&o.code, "code", "", "Join code")
	cmd.Flags().DurationVar(&o.heartbeat, "heartbeat", 0, "Heartbeat interval (default 10s)")
	_ = cmd.MarkFlagRequired("session")
	_ = cmd.MarkFlagRequired("code")
}

func (o *realtimeOptions) agent(server string, out io.Writer) (*client.Agent, error) {
	endpoint, err := realtimeURL(server)
	if err != nil {
		return nil, err
	}
	return client.New(client.Config{
		URL:               endpoint,
		SessionID:         o.sessionID,
		Code:              o.code,
		HeartbeatInterval: o.heartbeat,
		OnReconnect: func(attempt int, delay time.Duration) {
			fmt.Fprintf(out, "reconnecting (attempt %d) in %s\n", attempt, delay)
		},
	}), nil
}

func newListenCmd(opts *globalOptions) *cobra.Command {
	var rt realtimeOptions
	var duration time.Duration

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Print every realtime event of a session as JSON lines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			agent, err := rt.agent(opts.server, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			var mu sync.Mutex
			out := cmd.OutOrStdout()
			agent.Subscribe(func(msg protocol.Message) {
				data, err := protocol.Encode(msg)
				if err != nil {
					return
				}
				mu.Lock()
				fmt.Fprintln(out, string(data))
				mu.Unlock()
			})

			ctx := cmd.Context()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}

			defer agent.Disconnect()
			if err := agent.Connect(ctx); err != nil {
				return err
			}

			if err := agent.Send(protocol.New(protocol.SnapshotRequestPayload{})); err != nil {
				return err
			}

			<-ctx.Done()
			return nil
		},
	}

	rt.register(cmd)
	cmd.Flags().DurationVar(&duration, "for", 0, "Stop after this long (default: until interrupted)")

	return cmd
}

func newContributeCmd(opts *globalOptions) *cobra.Command {
	var rt realtimeOptions
	var module string
	var data string

	cmd := &cobra.Command{
		Use:   "contribute",
		Short: "Send a vow contribution and print the merged thread",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			msg, err := parseContribution(module, data)
			if err != nil {
				return err
			}
			return sendAndPrint(cmd, opts, &rt, msg)
		},
	}

	rt.register(cmd)
	cmd.Flags().StringVar(&module, "module", "", "Contributing module, e.g. pulse-sync")
	cmd.Flags().StringVar(&data, "data", "", `Contribution object, e.g. '{"pulseSyncScore": 80}'`)
	_ = cmd.MarkFlagRequired("module")
	_ = cmd.MarkFlagRequired("data")

	return cmd
}

func newCompleteCmd(opts *globalOptions) *cobra.Command {
	var rt realtimeOptions
	var module string

	cmd := &cobra.Command{
		Use:   "complete",
		Short: "Mark a module complete and print the merged thread",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m := model.ModuleID(module)
			if !m.Valid() {
				return fmt.Errorf("unknown module %q", module)
			}
			msg := protocol.New(protocol.ModuleCompletePayload{
				Module:      m,
				CompletedAt: float64(time.Now().UnixMilli()),
			})
			return sendAndPrint(cmd, opts, &rt, msg)
		},
	}

	rt.register(cmd)
	cmd.Flags().StringVar(&module, "module", "", "Completed module, e.g. coop-canvas")
	_ = cmd.MarkFlagRequired("module")

	return cmd
}

// parseContribution runs the flag values through the wire decoder so the CLI
// rejects exactly what the server would.
func parseContribution(module, data string) (protocol.Message, error) {
	raw, err := json.Marshal(map[string]any{
		"type": protocol.TypeVowContribution,
		"payload": map[string]any{
			"module": module,
			"data":   json.RawMessage(data),
		},
	})
	if err != nil {
		return protocol.Message{}, fmt.Errorf("invalid --data: %w", err)
	}
	return protocol.Decode(raw)
}

type threadOutput struct {
	VowThread        model.VowThreadData `json:"vowThread"`
	ModulesCompleted []model.ModuleID    `json:"modulesCompleted"`
	CompletedAt      *int64              `json:"completedAt,omitempty"`
}

// sendAndPrint syncs a local vow state, sends msg, waits for the server's echo
// and prints the resulting thread.
func sendAndPrint(cmd *cobra.Command, opts *globalOptions, rt *realtimeOptions, msg protocol.Message) error {
	agent, err := rt.agent(opts.server, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	state := client.NewVowState()
	snapshot := make(chan struct{}, 1)
	echo := make(chan struct{}, 1)
	agent.Subscribe(state.Apply)
	agent.Subscribe(func(in protocol.Message) {
		switch in.Type {
		case protocol.TypeSnapshot:
			notify(snapshot)
		case msg.Type:
			notify(echo)
		}
	})

	ctx := cmd.Context()
	defer agent.Disconnect()
	if err := agent.Connect(ctx); err != nil {
		return err
	}

	if err := agent.Send(protocol.New(protocol.SnapshotRequestPayload{})); err != nil {
		return err
	}
	if err := wait(ctx, snapshot); err != nil {
		return err
	}

	switch p := msg.Payload.(type) {
	case protocol.VowContributionPayload:
		err = state.Contribute(agent, p.Module, p.Data)
	case protocol.ModuleCompletePayload:
		err = state.CompleteModule(agent, p.Module, time.UnixMilli(int64(p.CompletedAt)))
	default:
		err = agent.Send(msg)
	}
	if err != nil {
		return err
	}
	if err := wait(ctx, echo); err != nil {
		return err
	}

	return writeJSON(cmd.OutOrStdout(), threadOutput{
		VowThread:        state.Data(),
		ModulesCompleted: state.ModulesCompleted(),
		CompletedAt:      state.CompletedAt(),
	})
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func wait(ctx context.Context, ch <-chan struct{}) error {
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(defaultEchoTimeout):
		return errNoEcho
	}
}
