package client

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
)

// NewMessageCommand constructs the `message` command group and subcommands.
func NewMessageCommand(baseURL BaseURLFunc) *cobra.Command {
	msgCmd := &cobra.Command{Use: "message", Short: "Message operations"}
	msgCmd.AddCommand(
		newMessageSendCommand(baseURL),
		newMessageBroadcastCommand(baseURL),
		newMessageReceiveCommand(baseURL),
		newMessageAckCommand(baseURL),
		newMessageNackCommand(baseURL),
	)
	return msgCmd
}

func newMessageSendCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send one message to a recipient",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sender, _ := cmd.Flags().GetString("sender")
			recipient, _ := cmd.Flags().GetString("to")
			typ, _ := cmd.Flags().GetString("type")
			prio, _ := cmd.Flags().GetString("priority")
			payload, _ := cmd.Flags().GetString("payload")

			var out map[string]any
			if err := postJSON(baseURL(), "/v1/messages/send", map[string]any{
				"sender":    sender,
				"recipient": recipient,
				"type":      typ,
				"priority":  prio,
				"payload":   payloadArg(payload),
			}, &out); err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
	cmd.Flags().String("sender", "", "Sending agent id")
	cmd.Flags().String("to", "", "Recipient agent id")
	cmd.Flags().String("type", "task_request", "Message type")
	cmd.Flags().String("priority", "normal", "Priority: high|normal|low")
	cmd.Flags().String("payload", "", "Payload (JSON object)")
	return cmd
}

func newMessageBroadcastCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "broadcast",
		Short: "Send one message to many recipients",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sender, _ := cmd.Flags().GetString("sender")
			to, _ := cmd.Flags().GetString("to")
			typ, _ := cmd.Flags().GetString("type")
			prio, _ := cmd.Flags().GetString("priority")
			payload, _ := cmd.Flags().GetString("payload")

			recipients := strings.Split(to, ",")
			for i := range recipients {
				recipients[i] = strings.TrimSpace(recipients[i])
			}

			var out map[string]any
			if err := postJSON(baseURL(), "/v1/messages/broadcast", map[string]any{
				"sender":     sender,
				"recipients": recipients,
				"type":       typ,
				"priority":   prio,
				"payload":    payloadArg(payload),
			}, &out); err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
	cmd.Flags().String("sender", "", "Sending agent id")
	cmd.Flags().String("to", "", "Comma-separated recipient agent ids")
	cmd.Flags().String("type", "context_update", "Message type")
	cmd.Flags().String("priority", "normal", "Priority: high|normal|low")
	cmd.Flags().String("payload", "", "Payload (JSON object)")
	return cmd
}

func newMessageReceiveCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "receive",
		Short: "Claim the best-eligible message for an agent",
		RunE: func(cmd *cobra.Command, _ []string) error {
			agent, _ := cmd.Flags().GetString("agent")
			visMs, _ := cmd.Flags().GetInt64("visibility-ms")

			var out map[string]any
			if err := postJSON(baseURL(), "/v1/messages/receive", map[string]any{
				"agentId":             agent,
				"visibilityTimeoutMs": visMs,
			}, &out); err != nil {
				return err
			}
			if len(out) == 0 {
				fmt.Println("no eligible message")
				return nil
			}
			printJSON(out)
			return nil
		},
	}
	cmd.Flags().String("agent", "", "Receiving agent id")
	cmd.Flags().Int64("visibility-ms", 0, "Visibility timeout in ms (0 uses the server default)")
	return cmd
}

func newMessageAckCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ack",
		Short: "Finalize a claimed message",
		RunE: func(cmd *cobra.Command, _ []string) error {
			agent, _ := cmd.Flags().GetString("agent")
			token, _ := cmd.Flags().GetString("token")
			var out map[string]any
			if err := postJSON(baseURL(), "/v1/messages/ack", map[string]any{
				"agentId": agent,
				"token":   token,
			}, &out); err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
	cmd.Flags().String("agent", "", "Agent id owning the claim")
	cmd.Flags().String("token", "", "Reservation token")
	return cmd
}

func newMessageNackCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "nack",
		Short: "Report a failed delivery attempt",
		RunE: func(cmd *cobra.Command, _ []string) error {
			agent, _ := cmd.Flags().GetString("agent")
			token, _ := cmd.Flags().GetString("token")
			ft, _ := cmd.Flags().GetString("failure-type")
			errMsg, _ := cmd.Flags().GetString("error")
			var out map[string]any
			if err := postJSON(baseURL(), "/v1/messages/nack", map[string]any{
				"agentId":     agent,
				"token":       token,
				"failureType": ft,
				"error":       errMsg,
			}, &out); err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
	cmd.Flags().String("agent", "", "Agent id owning the claim")
	cmd.Flags().String("token", "", "Reservation token")
	cmd.Flags().String("failure-type", "TRANSIENT", "TRANSIENT or PERMANENT")
	cmd.Flags().String("error", "", "Error description")
	return cmd
}

// NewSubscribeCommand constructs the `subscribe` command.
func NewSubscribeCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subscribe",
		Short: "Declare which message types an agent is interested in",
		RunE: func(cmd *cobra.Command, _ []string) error {
			agent, _ := cmd.Flags().GetString("agent")
			typesCSV, _ := cmd.Flags().GetString("types")
			types := strings.Split(typesCSV, ",")
			for i := range types {
				types[i] = strings.TrimSpace(types[i])
			}
			var out map[string]any
			if err := postJSON(baseURL(), "/v1/subscriptions/subscribe", map[string]any{
				"agentId": agent,
				"types":   types,
			}, &out); err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
	cmd.Flags().String("agent", "", "Agent id")
	cmd.Flags().String("types", "", "Comma-separated message types")
	return cmd
}

// NewDLQCommand constructs the `dlq` command group.
func NewDLQCommand(baseURL BaseURLFunc) *cobra.Command {
	dlqCmd := &cobra.Command{Use: "dlq", Short: "Dead-letter queue operations"}
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List a recipient's dead-letter entries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			recipient, _ := cmd.Flags().GetString("recipient")
			limit, _ := cmd.Flags().GetInt("limit")
			filter, _ := cmd.Flags().GetString("filter")

			q := url.Values{}
			q.Set("recipient", recipient)
			if limit > 0 {
				q.Set("limit", fmt.Sprintf("%d", limit))
			}
			if filter != "" {
				q.Set("filter", filter)
			}
			var out map[string]json.RawMessage
			if err := getJSON(baseURL(), "/v1/dlq/list", q, &out); err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
	listCmd.Flags().String("recipient", "", "Recipient agent id")
	listCmd.Flags().Int("limit", 0, "Maximum entries to return")
	listCmd.Flags().String("filter", "", "CEL filter expression")
	dlqCmd.AddCommand(listCmd)
	return dlqCmd
}
