// Package main implements askctl, a CLI for asking questions and deciding
// approvals against an askd server.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/askd/internal/conversation"
	askhttp "github.com/fyrsmithlabs/askd/internal/http"
	"github.com/fyrsmithlabs/askd/internal/orchestrator"
)

var version = "dev"

// options are the persistent flags.
type options struct {
	server  string
	timeout time.Duration
	output  string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "askctl",
		Short: "CLI for askd conversations and approvals",
		Long: `askctl starts questions, inspects conversations and records approval
decisions against an askd HTTP server.`,
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.server, "server", "http://localhost:9191", "askd server URL")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 2*time.Minute, "request timeout")
	root.PersistentFlags().StringVarP(&opts.output, "output", "o", "text", "output format: text or json")

	root.AddCommand(
		newHealthCmd(opts),
		newAskCmd(opts),
		newGetCmd(opts),
		newPendingCmd(opts),
		newDecisionCmd(opts, "approve", conversation.DecisionApproved, "Release the sensitive results of a suspended conversation"),
		newDecisionCmd(opts, "reject", conversation.DecisionRejected, "Withhold the results of a suspended conversation"),
		newDecisionCmd(opts, "acknowledge", conversation.DecisionAcknowledge, "Sign off a knowledge gap suggestion for publication"),
		newCancelCmd(opts),
		newWatchCmd(opts),
	)
	return root
}

func (o *options) client() *client {
	return newClient(o.server, o.timeout)
}

func newHealthCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check askd server health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			h, err := opts.client().Health(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Server Status: %s\n", h.Status)
			return nil
		},
	}
}

func newAskCmd(opts *options) *cobra.Command {
	var req askhttp.StartRequest
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a question",
		Long: `Ask a question on behalf of a requester.

Examples:
  askctl ask --as alice --team hr "How many vacation days do I get?"
  askctl ask --as bob --employment contractor --location IN "What is the VPN setup?"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Query = args[0]
			res, err := opts.client().Start(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), opts.output, res)
		},
	}
	cmd.Flags().StringVar(&req.Requester.ID, "as", "", "requester id")
	cmd.Flags().StringSliceVar(&req.Requester.Teams, "team", nil, "requester team (repeatable)")
	cmd.Flags().StringVar(&req.Requester.Location, "location", "", "requester location (default US)")
	cmd.Flags().StringVar(&req.Requester.EmploymentType, "employment", "", "employee, contractor, vendor or third_party")
	_ = cmd.MarkFlagRequired("as")
	return cmd
}

func newGetCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "get <conversation-id>",
		Short: "Show a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conv, err := opts.client().Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), opts.output, &orchestrator.Result{
				ConversationID: conv.ID,
				Status:         conv.Status,
				PendingReason:  conv.Approval.Reason,
				Context:        conv,
			})
		},
	}
}

func newPendingCmd(opts *options) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List conversations waiting for a decision",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			list, err := opts.client().List(cmd.Context(), conversation.Status(status))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.output == "json" {
				return printJSON(out, list)
			}
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tSTAGE\tREQUESTER\tUPDATED")
			for _, c := range list.Conversations {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", c.ConversationID, c.Status, c.Stage, c.RequesterID, c.UpdatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&status, "status", string(conversation.StatusSuspendedForApproval), "status to list")
	return cmd
}

func newDecisionCmd(opts *options, use string, d conversation.Decision, short string) *cobra.Command {
	var approver string
	cmd := &cobra.Command{
		Use:   use + " <conversation-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := opts.client().Resume(cmd.Context(), args[0], askhttp.ResumeRequest{
				Decision:   string(d),
				ApproverID: approver,
			})
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), opts.output, res)
		},
	}
	cmd.Flags().StringVar(&approver, "as", "", "approver id")
	_ = cmd.MarkFlagRequired("as")
	return cmd
}

func newCancelCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <conversation-id>",
		Short: "Cancel a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.client().Cancel(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cancellation requested for %s\n", args[0])
			return nil
		},
	}
}

func newWatchCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <conversation-id>",
		Short: "Stream the events of a conversation until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			return opts.client().Watch(cmd.Context(), args[0], func(e orchestrator.Event) error {
				if opts.output == "json" {
					return json.NewEncoder(out).Encode(e)
				}
				_, err := fmt.Fprintln(out, formatEvent(e))
				return err
			})
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
