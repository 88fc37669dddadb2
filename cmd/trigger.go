package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/reactd/internal/config"
	"github.com/nextlevelbuilder/reactd/pkg/client"
	"github.com/nextlevelbuilder/reactd/pkg/protocol"
)

var (
	triggerAddr    string
	triggerTimeout time.Duration
	recipientFlag  string
	messageFlag    string
)

func triggerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Send reaction commands to a running gateway",
	}
	cmd.PersistentFlags().StringVar(&triggerAddr, "addr", "", "gateway address host:port (default: from config)")
	cmd.PersistentFlags().DurationVar(&triggerTimeout, "timeout", 10*time.Second, "request timeout")

	cmd.AddCommand(triggerReactCmd())
	cmd.AddCommand(triggerRemoveCmd())
	cmd.AddCommand(triggerFlowCmd())
	cmd.AddCommand(triggerCancelCmd())
	cmd.AddCommand(triggerHistoryCmd())
	cmd.AddCommand(triggerStatusCmd())
	cmd.AddCommand(triggerWatchCmd())
	return cmd
}

func addMessageFlags(cmd *cobra.Command, recipient bool) {
	if recipient {
		cmd.Flags().StringVar(&recipientFlag, "recipient", "", "recipient, optionally channel-prefixed (telegram:12345)")
		_ = cmd.MarkFlagRequired("recipient")
	}
	cmd.Flags().StringVar(&messageFlag, "message", "", "platform message ID")
	_ = cmd.MarkFlagRequired("message")
}

func triggerReactCmd() *cobra.Command {
	var (
		category string
		key      string
		metrics  protocol.MetricsSnapshot
	)
	cmd := &cobra.Command{
		Use:   "react",
		Short: "Resolve a trigger to an emoji and react",
		Example: `  reactd trigger react --recipient telegram:42 --message 1001 --category order_status --key delivered
  reactd trigger react --recipient 42 --message 1001 --category user_metrics_profile --order-count 12`,
		RunE: func(cmd *cobra.Command, args []string) error {
			params := protocol.ReactParams{
				Recipient: recipientFlag,
				MessageID: messageFlag,
				Category:  category,
				Key:       key,
			}
			if cmd.Flags().Changed("order-count") || cmd.Flags().Changed("order-total") || cmd.Flags().Changed("total-spent") {
				params.Metrics = &metrics
			}
			return callAndPrint(protocol.MethodReact, params)
		},
	}
	addMessageFlags(cmd, true)
	cmd.Flags().StringVar(&category, "category", "", "trigger category")
	cmd.Flags().StringVar(&key, "key", "", "trigger key within the category")
	cmd.Flags().IntVar(&metrics.OrderCount, "order-count", 0, "profile metric: lifetime order count")
	cmd.Flags().Float64Var(&metrics.OrderTotal, "order-total", 0, "profile metric: current order total")
	cmd.Flags().Float64Var(&metrics.TotalSpent, "total-spent", 0, "profile metric: lifetime spend")
	_ = cmd.MarkFlagRequired("category")
	return cmd
}

func triggerRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Clear the bot's reaction on a message",
		RunE: func(cmd *cobra.Command, args []string) error {
			return callAndPrint(protocol.MethodRemove, protocol.MessageParams{Recipient: recipientFlag, MessageID: messageFlag})
		},
	}
	addMessageFlags(cmd, true)
	return cmd
}

func triggerFlowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flow <flow-key>",
		Short: "Start a timed reaction flow on a message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return callAndPrint(protocol.MethodFlowStart, protocol.FlowStartParams{
				Flow: args[0], Recipient: recipientFlag, MessageID: messageFlag,
			})
		},
	}
	addMessageFlags(cmd, true)
	return cmd
}

func triggerCancelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel the flow running on a message",
		RunE: func(cmd *cobra.Command, args []string) error {
			return callAndPrint(protocol.MethodFlowCancel, protocol.MessageParams{MessageID: messageFlag})
		},
	}
	addMessageFlags(cmd, false)
	return cmd
}

func triggerHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <message-id>",
		Short: "Show the last reaction recorded on a message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return callAndPrint(protocol.MethodHistoryGet, protocol.MessageParams{MessageID: args[0]})
		},
	}
}

func triggerStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show engine and channel status",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := callAndPrint(protocol.MethodStatus, nil); err != nil {
				return err
			}
			return callAndPrint(protocol.MethodChannelsStatus, nil)
		},
	}
}

func triggerWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream reaction events until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			c, err := dialGateway(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			enc := json.NewEncoder(os.Stdout)
			return c.Watch(ctx, func(ev protocol.EventFrame) {
				_ = enc.Encode(ev)
			})
		},
	}
}

func dialGateway(ctx context.Context) (*client.Client, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	addr := triggerAddr
	if addr == "" {
		host := cfg.Gateway.Host
		if host == "" || host == "0.0.0.0" {
			host = "127.0.0.1"
		}
		addr = fmt.Sprintf("%s:%d", host, cfg.Gateway.Port)
	}
	return client.Dial(ctx, "ws://"+addr+"/ws", cfg.Gateway.Token)
}

func callAndPrint(method string, params interface{}) error {
	ctx, cancel := context.WithTimeout(context.Background(), triggerTimeout)
	defer cancel()

	c, err := dialGateway(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	var result json.RawMessage
	if err := c.Call(ctx, method, params, &result); err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
