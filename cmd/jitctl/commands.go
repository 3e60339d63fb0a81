package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"jitaccess/internal/access/models"
)

const (
	flagServer    = "server"
	flagPrincipal = "principal"
	flagToken     = "token"
	flagBearer    = "bearer"
	flagOutput    = "output"
)

// newRootCmd builds the CLI. Connection flags fall back to JIT_SERVER,
// JIT_PRINCIPAL, JIT_API_TOKEN and JIT_BEARER_TOKEN.
func newRootCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:           "jitctl",
		Short:         "Request, approve and inspect just-in-time access",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().String(flagServer, "http://localhost:8080", "Access API base URL")
	cmd.PersistentFlags().String(flagPrincipal, "", "Identity to act as (requester or approver)")
	cmd.PersistentFlags().String(flagToken, "", "Shared API token")
	cmd.PersistentFlags().String(flagBearer, "", "Bearer token for servers running JWT authentication")
	cmd.PersistentFlags().StringP(flagOutput, "o", "text", "Output format (text|json)")

	_ = v.BindPFlag(flagServer, cmd.PersistentFlags().Lookup(flagServer))
	_ = v.BindPFlag(flagPrincipal, cmd.PersistentFlags().Lookup(flagPrincipal))
	_ = v.BindPFlag(flagToken, cmd.PersistentFlags().Lookup(flagToken))
	_ = v.BindPFlag(flagBearer, cmd.PersistentFlags().Lookup(flagBearer))
	_ = v.BindPFlag(flagOutput, cmd.PersistentFlags().Lookup(flagOutput))
	_ = v.BindEnv(flagServer, "JIT_SERVER")
	_ = v.BindEnv(flagPrincipal, "JIT_PRINCIPAL")
	_ = v.BindEnv(flagToken, "JIT_API_TOKEN")
	_ = v.BindEnv(flagBearer, "JIT_BEARER_TOKEN")

	clientFor := func() (*client, error) {
		return newClient(v.GetString(flagServer), v.GetString(flagPrincipal), v.GetString(flagToken), v.GetString(flagBearer))
	}
	printerFor := func(cmd *cobra.Command) *printer {
		return &printer{w: cmd.OutOrStdout(), json: strings.EqualFold(v.GetString(flagOutput), "json")}
	}

	cmd.AddCommand(
		newRequestCmd(clientFor, printerFor),
		newDecisionCmd("approve", clientFor, printerFor),
		newDecisionCmd("reject", clientFor, printerFor),
		newDescribeCmd(clientFor, printerFor),
		newListCmd(clientFor, printerFor),
		newRetryGrantCmd(clientFor, printerFor),
	)
	return cmd
}

type clientFactory func() (*client, error)
type printerFactory func(cmd *cobra.Command) *printer

func newRequestCmd(clientFor clientFactory, printerFor printerFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "request <action>",
		Short: "Request temporary access to an action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := clientFor()
			if err != nil {
				return err
			}
			ttl, _ := cmd.Flags().GetString("ttl")
			params, _ := cmd.Flags().GetString("params")
			reason, _ := cmd.Flags().GetString("reason")
			onBehalfOf, _ := cmd.Flags().GetString("requester")
			if _, err := models.ParseTTL(ttl); err != nil {
				return fmt.Errorf("--ttl: %w", err)
			}
			body := map[string]any{
				"action_name": args[0],
				"ttl":         ttl,
			}
			if strings.TrimSpace(params) != "" {
				if !json.Valid([]byte(params)) {
					return errors.New("--params must be valid JSON")
				}
				body["action_params"] = json.RawMessage(params)
			}
			if reason != "" {
				body["reason"] = reason
			}
			if onBehalfOf != "" {
				body["requester"] = onBehalfOf
			}
			reqID, err := c.create(cmd.Context(), body)
			if err != nil {
				return err
			}
			return printerFor(cmd).created(reqID)
		},
	}
	cmd.Flags().String("ttl", models.DefaultTTL.String(), "Requested access duration, e.g. 30m or 2h")
	cmd.Flags().String("params", "", "Action parameters as a JSON object")
	cmd.Flags().String("reason", "", "Why access is needed")
	cmd.Flags().String("requester", "", "Request on behalf of another principal (defaults to --principal)")
	return cmd
}

func newDecisionCmd(action string, clientFor clientFactory, printerFor printerFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   action + " <id>",
		Short: strings.ToUpper(action[:1]) + action[1:] + " a pending access request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := clientFor()
			if err != nil {
				return err
			}
			var ttl string
			if action == "approve" {
				ttl, _ = cmd.Flags().GetString("ttl")
			}
			req, err := c.decide(cmd.Context(), args[0], action, ttl)
			if err != nil {
				return err
			}
			return printerFor(cmd).request(req)
		},
	}
	if action == "approve" {
		cmd.Flags().String("ttl", "", "Grant a different duration than requested")
	}
	return cmd
}

func newDescribeCmd(clientFor clientFactory, printerFor printerFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "describe <id>",
		Short: "Show one access request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := clientFor()
			if err != nil {
				return err
			}
			req, err := c.describe(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printerFor(cmd).request(req)
		},
	}
}

func newListCmd(clientFor clientFactory, printerFor printerFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list [status] [action]",
		Short: "Search access requests",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := clientFor()
			if err != nil {
				return err
			}
			query := url.Values{}
			if len(args) > 0 && args[0] != "" && args[0] != "all" {
				query.Set("status", args[0])
			}
			if len(args) > 1 && args[1] != "" {
				query.Set("action_name", args[1])
			}
			for _, f := range []struct{ flag, param string }{
				{"requester", "requester"},
				{"grant-status", "grant_status"},
				{"created-after", "created_after"},
				{"created-before", "created_before"},
			} {
				if val, _ := cmd.Flags().GetString(f.flag); val != "" {
					query.Set(f.param, val)
				}
			}
			reqs, err := c.list(cmd.Context(), query)
			if err != nil {
				return err
			}
			return printerFor(cmd).list(reqs)
		},
	}
	cmd.Flags().String("requester", "", "Only requests of this principal")
	cmd.Flags().String("grant-status", "", "Only requests whose grant is none, pending, active or failed")
	cmd.Flags().String("created-after", "", "Only requests created on or after this day (YYYY-MM-DD)")
	cmd.Flags().String("created-before", "", "Only requests created on or before this day (YYYY-MM-DD)")
	return cmd
}

func newRetryGrantCmd(clientFor clientFactory, printerFor printerFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "retry-grant <id>",
		Short: "Resubmit the policy grant of an approved request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := clientFor()
			if err != nil {
				return err
			}
			req, err := c.retryGrant(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printerFor(cmd).request(req)
		},
	}
}

type printer struct {
	w    io.Writer
	json bool
}

func (p *printer) created(reqID string) error {
	if p.json {
		return p.encode(map[string]string{"id": reqID})
	}
	_, err := fmt.Fprintf(p.w, "Access request %s created.\n", reqID)
	return err
}

func (p *printer) request(r *requestView) error {
	if p.json {
		return p.encode(r)
	}
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "ID:\t%s\n", r.ID)
	fmt.Fprintf(tw, "Status:\t%s\n", r.Status)
	fmt.Fprintf(tw, "Requester:\t%s\n", r.Requester)
	fmt.Fprintf(tw, "Action:\t%s\n", r.ActionName)
	fmt.Fprintf(tw, "Params:\t%s\n", string(r.ActionParams))
	fmt.Fprintf(tw, "Requested TTL:\t%s\n", r.RequestedTTL)
	if r.Reason != "" {
		fmt.Fprintf(tw, "Reason:\t%s\n", r.Reason)
	}
	if r.Approver != "" {
		fmt.Fprintf(tw, "Decided by:\t%s\n", r.Approver)
	}
	if r.GrantedTTL != "" {
		fmt.Fprintf(tw, "Granted TTL:\t%s\n", r.GrantedTTL)
	}
	if r.Grant != nil {
		fmt.Fprintf(tw, "Grant:\t%s (attempts: %d)\n", r.Grant.Status, r.Grant.Attempts)
		if r.Grant.Error != "" {
			fmt.Fprintf(tw, "Grant error:\t%s\n", r.Grant.Error)
		}
	}
	return tw.Flush()
}

func (p *printer) list(reqs []requestView) error {
	if p.json {
		return p.encode(reqs)
	}
	if len(reqs) == 0 {
		_, err := fmt.Fprintln(p.w, "No access requests found.")
		return err
	}
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tREQUESTER\tACTION\tTTL\tGRANT\tCREATED")
	for _, r := range reqs {
		ttl := r.RequestedTTL
		if r.GrantedTTL != "" {
			ttl = r.GrantedTTL
		}
		grant := "-"
		if r.Grant != nil {
			grant = r.Grant.Status
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Status, r.Requester, r.ActionName, ttl, grant, r.CreatedAt.Format("2006-01-02 15:04"))
	}
	return tw.Flush()
}

func (p *printer) encode(v any) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
