package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pesio-ai/be-expense-approvals/internal/client"
)

var (
	approvalAddr     string
	approvalUser     string
	approvalExpense  string
	approvalAction   string
	approvalComments string
	approvalTimeout  time.Duration
)

var approvalCmd = &cobra.Command{
	Use:   "approval",
	Short: "Call a running service's approval API over gRPC",
	Long: `Call a running service's approval API over gRPC as the given user.

Example:
  be-expense-approvals approval pending --user u-alice
  be-expense-approvals approval process --user u-alice --expense exp-1 --action approved`,
}

var approvalProcessCmd = &cobra.Command{
	Use:   "process",
	Short: "Approve or reject an expense",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApprovalsClient(cmd.Context(), func(ctx context.Context, c *client.ApprovalsGRPCClient) (any, error) {
			var out map[string]any
			err := c.ProcessApproval(ctx, approvalExpense, approvalAction, approvalComments, &out)
			return out, err
		})
	},
}

var approvalPendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List expenses awaiting the user's decision",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApprovalsClient(cmd.Context(), func(ctx context.Context, c *client.ApprovalsGRPCClient) (any, error) {
			var out map[string]any
			err := c.GetPendingApprovals(ctx, &out)
			return out, err
		})
	},
}

var approvalHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show an expense's approval history",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApprovalsClient(cmd.Context(), func(ctx context.Context, c *client.ApprovalsGRPCClient) (any, error) {
			var out map[string]any
			err := c.GetApprovalHistory(ctx, approvalExpense, &out)
			return out, err
		})
	},
}

var approvalFlowCmd = &cobra.Command{
	Use:   "flow",
	Short: "Show the approval flow that applies to an expense",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApprovalsClient(cmd.Context(), func(ctx context.Context, c *client.ApprovalsGRPCClient) (any, error) {
			var out map[string]any
			err := c.GetApprovalFlow(ctx, approvalExpense, &out)
			return out, err
		})
	},
}

func withApprovalsClient(ctx context.Context, fn func(context.Context, *client.ApprovalsGRPCClient) (any, error)) error {
	addr := approvalAddr
	if addr == "" {
		addr = fmt.Sprintf("localhost:%d", cfg.Server.GRPCPort)
	}

	c, err := client.NewApprovalsGRPCClient(addr, approvalUser)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(ctx, approvalTimeout)
	defer cancel()

	out, err := fn(ctx, c)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func init() {
	approvalCmd.PersistentFlags().StringVar(&approvalAddr, "addr", "", "gRPC address (default localhost:<server.grpc_port>)")
	approvalCmd.PersistentFlags().StringVar(&approvalUser, "user", "", "acting user id")
	approvalCmd.PersistentFlags().DurationVar(&approvalTimeout, "timeout", 10*time.Second, "call timeout")
	_ = approvalCmd.MarkPersistentFlagRequired("user")

	for _, c := range []*cobra.Command{approvalProcessCmd, approvalHistoryCmd, approvalFlowCmd} {
		c.Flags().StringVar(&approvalExpense, "expense", "", "expense id")
		_ = c.MarkFlagRequired("expense")
	}
	approvalProcessCmd.Flags().StringVar(&approvalAction, "action", "", "approved or rejected")
	approvalProcessCmd.Flags().StringVar(&approvalComments, "comments", "", "optional comments")
	_ = approvalProcessCmd.MarkFlagRequired("action")

	approvalCmd.AddCommand(approvalProcessCmd, approvalPendingCmd, approvalHistoryCmd, approvalFlowCmd)
}
