package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pesio-ai/be-expense-approvals/internal/service"
)

var (
	flowCompany string
	flowFile    string
)

var flowsCmd = &cobra.Command{
	Use:   "flows",
	Short: "Manage company approval flows",
}

var flowsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print a company's approval flow",
	RunE: func(cmd *cobra.Command, args []string) error {
		if flowCompany == "" {
			return fmt.Errorf("--company is required")
		}
		st, err := openStores(cmd.Context())
		if err != nil {
			return err
		}
		defer st.close()

		steps, err := service.NewFlowService(st.flows, st.approvals, log).ListSteps(cmd.Context(), flowCompany)
		if err != nil {
			return err
		}
		printSteps(steps)
		return nil
	},
}

var flowsImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Replace a company's approval flow with the steps of a YAML file",
	Long: `Replace a company's approval flow with the steps of a YAML file.
The replacement is atomic: either every step is valid and stored, or
the current flow is left untouched.

Example file:
  company: acme
  steps:
    - step_order: 1
      required_role: manager
    - step_order: 2
      required_role: admin
      is_sequential: false
      min_approval_percentage: 50
      amount_threshold: "1000.00"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(flowFile)
		if err != nil {
			return fmt.Errorf("open flow file: %w", err)
		}
		defer f.Close()

		st, err := openStores(cmd.Context())
		if err != nil {
			return err
		}
		defer st.close()

		steps, err := service.NewFlowService(st.flows, st.approvals, log).ImportFlow(cmd.Context(), flowCompany, f)
		if err != nil {
			log.Error().Err(err).Str("file", flowFile).Msg("Flow import failed")
			return err
		}
		printSteps(steps)
		return nil
	},
}

func printSteps(steps []service.StepView) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ORDER\tROLE\tMODE\tMIN %\tTHRESHOLD\tAPPROVERS\tID")
	for _, s := range steps {
		mode := "sequential"
		if !s.IsSequential {
			mode = "parallel"
		}
		threshold := "-"
		if s.AmountThreshold != nil {
			threshold = s.AmountThreshold.String()
		}
		approvers := "-"
		if len(s.ApproverIDs) > 0 {
			approvers = strings.Join(s.ApproverIDs, ",")
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\t%s\t%s\n",
			s.StepOrder, s.RequiredRole, mode, s.MinApprovalPercentage, threshold, approvers, s.ID)
	}
	_ = w.Flush()
}

func init() {
	flowsCmd.PersistentFlags().StringVar(&flowCompany, "company", "", "company id (overrides the file's company)")
	flowsImportCmd.Flags().StringVar(&flowFile, "file", "", "YAML flow file")
	_ = flowsImportCmd.MarkFlagRequired("file")

	flowsCmd.AddCommand(flowsListCmd)
	flowsCmd.AddCommand(flowsImportCmd)
}
