// Aegisctl is the operator CLI for reviewing, approving and rejecting
// generated playbooks on an aegis server.
package main

import (
	"fmt"
	"io"
	"os"
	"os/user"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/linnemanlabs/aegis/internal/playbook"
)

const defaultServer = "http://localhost:8080"

type options struct {
	server  string
	token   string
	timeout time.Duration
}

func (o *options) client() *client {
	return newClient(o.server, o.token, o.timeout)
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "aegisctl",
		Short:         "Review and approve aegis response playbooks",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)

	root.PersistentFlags().StringVar(&opts.server, "server", envOr("AEGIS_SERVER", defaultServer), "aegis server base URL (env AEGIS_SERVER)")
	root.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("AEGIS_API_TOKEN"), "API bearer token (env AEGIS_API_TOKEN)")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "request timeout")

	root.AddCommand(newPlaybooksCmd(opts), newNetworkCmd(opts))
	return root
}

func newPlaybooksCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "playbooks",
		Aliases: []string{"pb"},
		Short:   "Inspect and decide on generated playbooks",
	}

	var status string
	list := &cobra.Command{
		Use:   "list",
		Short: "List playbooks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pbs, err := opts.client().listPlaybooks(cmd.Context(), status)
			if err != nil {
				return err
			}
			return printList(cmd.OutOrStdout(), pbs)
		},
	}
	list.Flags().StringVar(&status, "status", "", "filter by status (e.g. pending_approval)")

	show := &cobra.Command{
		Use:   "show ID",
		Short: "Show a playbook and its run result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := opts.client().getPlaybook(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printPlaybook(cmd.OutOrStdout(), p)
			return nil
		},
	}

	cmd.AddCommand(list, show,
		newDecisionCmd(opts, "approve", "Approve a pending playbook and start its run"),
		newDecisionCmd(opts, "reject", "Reject a pending playbook"),
	)
	return cmd
}

func newDecisionCmd(opts *options, action, short string) *cobra.Command {
	var by string
	cmd := &cobra.Command{
		Use:   action + " ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := opts.client().decide(cmd.Context(), args[0], action, by)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s %s by %s\n", p.ID, p.Status, p.DecidedBy)
			return err
		},
	}
	cmd.Flags().StringVar(&by, "by", currentUser(), "operator recorded as the decider")
	return cmd
}

func newNetworkCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "network",
		Short: "Manage the network definition",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "reload",
		Short: "Re-read the network definition from disk",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			status, err := opts.client().reloadNetwork(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), status)
			return err
		},
	})
	return cmd
}

func printList(w io.Writer, pbs []*playbook.Playbook) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tSTATUS\tTYPE\tAGENT\tFILENAME\tCREATED")
	for _, p := range pbs {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			p.ID, p.Status, p.Classification.Type, p.Agent, p.Filename, p.CreatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func printPlaybook(w io.Writer, p *playbook.Playbook) {
	c := p.Classification
	fmt.Fprintf(w, "ID:         %s\n", p.ID)
	fmt.Fprintf(w, "Status:     %s\n", p.Status)
	fmt.Fprintf(w, "Alert:      %s %s (rule %s", c.Trigger, c.Type, c.RuleID)
	if c.SignatureID != "" {
		fmt.Fprintf(w, ", signature %s", c.SignatureID)
	}
	fmt.Fprintf(w, ")\n")
	fmt.Fprintf(w, "Agent:      %s %s\n", p.Agent, c.AgentIP)
	fmt.Fprintf(w, "File:       %s\n", p.Path)
	fmt.Fprintf(w, "Model:      %s (%d in / %d out)\n", p.Model, p.TokensIn, p.TokensOut)
	fmt.Fprintf(w, "Created:    %s\n", p.CreatedAt.Format(time.RFC3339))
	if p.Status == playbook.StatusPendingApproval {
		fmt.Fprintf(w, "Expires:    %s\n", p.ExpiresAt.Format(time.RFC3339))
	}
	if p.DecidedBy != "" {
		fmt.Fprintf(w, "Decided by: %s\n", p.DecidedBy)
	}
	if !p.YAMLValid {
		fmt.Fprintf(w, "YAML:       invalid: %s\n", p.YAMLError)
	}
	fmt.Fprintf(w, "\n%s\n", strings.TrimRight(p.Content, "\n"))

	if r := p.Run; r != nil {
		fmt.Fprintf(w, "\nRun: %s rc=%d %.1fs\n", r.Status, r.RC, r.Duration)
		if r.Error != "" {
			fmt.Fprintf(w, "Error: %s\n", r.Error)
		}
		if r.Stdout != "" {
			fmt.Fprintf(w, "\n%s\n", strings.TrimRight(r.Stdout, "\n"))
		}
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "aegisctl"
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
