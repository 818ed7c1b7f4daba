package client

import (
	"net/url"

	"github.com/spf13/cobra"
)

// NewAdminCommand constructs the `admin` command group: recovery passes
// and tunable reconfiguration.
func NewAdminCommand(baseURL BaseURLFunc) *cobra.Command {
	adminCmd := &cobra.Command{Use: "admin", Short: "Admin operations"}
	adminCmd.AddCommand(
		newAdminRecoverCommand(baseURL),
		newAdminConfigureCommand(baseURL),
	)
	return adminCmd
}

func newAdminRecoverCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Reclaim expired reservations (safe to run repeatedly)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			agent, _ := cmd.Flags().GetString("agent")
			body := map[string]any{}
			if agent != "" {
				body["agentId"] = agent
			}
			var out map[string]any
			if err := postJSON(baseURL(), "/v1/admin/recover", body, &out); err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
	cmd.Flags().String("agent", "", "Only reclaim reservations owned by this agent")
	return cmd
}

func newAdminConfigureCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Patch process-wide delivery tunables",
		RunE: func(cmd *cobra.Command, _ []string) error {
			body := map[string]any{}
			if cmd.Flags().Changed("queue-size") {
				v, _ := cmd.Flags().GetInt("queue-size")
				body["queueSize"] = v
			}
			if cmd.Flags().Changed("retry-attempts") {
				v, _ := cmd.Flags().GetInt("retry-attempts")
				body["retryAttempts"] = v
			}
			if cmd.Flags().Changed("backoff-base") {
				v, _ := cmd.Flags().GetFloat64("backoff-base")
				body["backoffBase"] = v
			}
			if cmd.Flags().Changed("backoff-factor") {
				v, _ := cmd.Flags().GetFloat64("backoff-factor")
				body["backoffFactor"] = v
			}
			if cmd.Flags().Changed("backoff-max") {
				v, _ := cmd.Flags().GetFloat64("backoff-max")
				body["backoffMax"] = v
			}
			var out map[string]any
			if err := postJSON(baseURL(), "/v1/admin/configure", body, &out); err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
	cmd.Flags().Int("queue-size", 0, "Per-recipient queue capacity")
	cmd.Flags().Int("retry-attempts", 0, "Retry ceiling before dead-lettering")
	cmd.Flags().Float64("backoff-base", 0, "Backoff base in seconds")
	cmd.Flags().Float64("backoff-factor", 0, "Backoff growth factor")
	cmd.Flags().Float64("backoff-max", 0, "Backoff cap in seconds")
	return cmd
}

// NewStatsCommand constructs the `stats` command.
func NewStatsCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show queue depths, counters, and storage metrics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			live, _ := cmd.Flags().GetBool("live")
			q := url.Values{}
			if live {
				q.Set("live", "1")
			}
			var out map[string]any
			if err := getJSON(baseURL(), "/v1/metrics/snapshot", q, &out); err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
	cmd.Flags().Bool("live", false, "Compute a fresh snapshot instead of the last polled one")
	return cmd
}

// NewAuditCommand constructs the `audit` command.
func NewAuditCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Read a recipient's audit trail",
		RunE: func(cmd *cobra.Command, _ []string) error {
			recipient, _ := cmd.Flags().GetString("recipient")
			fromSeq, _ := cmd.Flags().GetString("from-seq")
			limit, _ := cmd.Flags().GetString("limit")

			q := url.Values{}
			q.Set("recipient", recipient)
			if fromSeq != "" {
				q.Set("fromSeq", fromSeq)
			}
			if limit != "" {
				q.Set("limit", limit)
			}
			var out map[string]any
			if err := getJSON(baseURL(), "/v1/audit/read", q, &out); err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
	cmd.Flags().String("recipient", "", "Recipient agent id")
	cmd.Flags().String("from-seq", "", "Start sequence number")
	cmd.Flags().String("limit", "", "Maximum entries to return")
	return cmd
}
