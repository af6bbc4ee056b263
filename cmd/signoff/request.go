package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"signoff/internal/app"
	"signoff/internal/domain"
	"signoff/internal/engine"
	"signoff/internal/query"
	"signoff/internal/server"
	"signoff/internal/workflow"
)

func requestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "request",
		Aliases: []string{"req"},
		Short:   "Submit, review and decide requests",
	}
	cmd.AddCommand(requestCreateCmd())
	cmd.AddCommand(requestListCmd())
	cmd.AddCommand(requestShowCmd())
	cmd.AddCommand(requestApproveCmd())
	cmd.AddCommand(requestRejectCmd())
	cmd.AddCommand(requestRemindCmd())
	cmd.AddCommand(requestHistoryCmd())
	return cmd
}

func requestCreateCmd() *cobra.Command {
	var opts engine.CreateOptions
	var reqType, urgency string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Submit a request as the --as actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				who, err := actor(a)
				if err != nil {
					return err
				}
				opts.Requester = who
				opts.Type = domain.RequestType(reqType)
				opts.Urgency = domain.Urgency(urgency)
				req, err := a.Engine.CreateRequest(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(server.NewRequestResponse(req))
				}
				fmt.Printf("Created %s (%s)\n", req.ID, req.Type)
				printChain(req)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "request id (generated when empty)")
	cmd.Flags().StringVar(&reqType, "type", "", "request type, e.g. leave_request")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&urgency, "urgency", "", "low, normal or high")
	cmd.Flags().StringVar(&opts.Fields.StartDate, "start-date", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.Fields.EndDate, "end-date", "", "end date (YYYY-MM-DD)")
	cmd.Flags().Float64Var(&opts.Fields.Amount, "amount", 0, "amount for expense requests")
	cmd.Flags().StringVar(&opts.Fields.Currency, "currency", "", "currency code")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func requestListCmd() *cobra.Command {
	var view, search, from, to, status, reqType, cursor string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List requests visible to the --as actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				who, err := actor(a)
				if err != nil {
					return err
				}
				dateFrom, err := query.ParseBound(from, false)
				if err != nil {
					return fmt.Errorf("--from: %w", err)
				}
				dateTo, err := query.ParseBound(to, true)
				if err != nil {
					return fmt.Errorf("--to: %w", err)
				}
				res, err := a.Engine.ListRequests(ctx, engine.ListOptions{
					Query: query.Query{
						ViewerID:   who.ID,
						ViewerRole: who.Role,
						View:       query.View(view),
						Filters: query.Filters{
							Search:   search,
							DateFrom: dateFrom,
							DateTo:   dateTo,
							Status:   domain.RequestStatus(status),
							Type:     domain.RequestType(reqType),
						},
					},
					Cursor: cursor,
					Limit:  limit,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(server.NewRequestList(res))
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.SetTitle("view: " + string(res.View))
				tw.AppendHeader(table.Row{"ID", "Type", "Title", "Requester", "Urgency", "Status", "Waiting on", "Created"})
				for _, r := range res.Items {
					waiting := ""
					if cur := r.CurrentApprover(); cur != nil {
						waiting = cur.Name
					}
					tw.AppendRow(table.Row{r.ID, r.Type, r.Title, r.RequesterName, r.Urgency, r.Status(), waiting, r.CreatedAt.Format("2006-01-02 15:04")})
				}
				tw.Render()
				if res.NextCursor != "" {
					fmt.Printf("more: --cursor %s\n", res.NextCursor)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&view, "view", "", "todo, done, team or all")
	cmd.Flags().StringVar(&search, "search", "", "search title, description, id and requester name")
	cmd.Flags().StringVar(&from, "from", "", "created on or after (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "created on or before (YYYY-MM-DD)")
	cmd.Flags().StringVar(&status, "status", "", "pending, approved or rejected")
	cmd.Flags().StringVar(&reqType, "type", "", "request type filter")
	cmd.Flags().StringVar(&cursor, "cursor", "", "continue after this cursor")
	cmd.Flags().IntVar(&limit, "limit", query.DefaultLimit, "page size")
	return cmd
}

func requestShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <request-id>",
		Short: "Show a request and its chain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				req, err := a.Engine.GetRequest(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(server.NewRequestResponse(req))
				}
				fmt.Printf("%s  %s\n", req.ID, req.Title)
				fmt.Printf("Type: %s  Urgency: %s  Status: %s\n", req.Type, req.Urgency, req.Status())
				fmt.Printf("Requester: %s (%s)\n", req.RequesterName, req.RequesterID)
				if req.Description != "" {
					fmt.Println(req.Description)
				}
				printChain(req)
				return nil
			})
		},
	}
}

func requestApproveCmd() *cobra.Command {
	var stepID, comment string
	cmd := &cobra.Command{
		Use:   "approve <request-id>",
		Short: "Approve the pending step as the --as actor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				who, err := actor(a)
				if err != nil {
					return err
				}
				step, err := resolveStep(ctx, a.Engine, args[0], stepID)
				if err != nil {
					return err
				}
				req, err := a.Engine.ApproveStep(ctx, args[0], step, who.ID, comment)
				if err != nil {
					return err
				}
				return printDecision(req)
			})
		},
	}
	cmd.Flags().StringVar(&stepID, "step", "", "step id (defaults to the pending step)")
	cmd.Flags().StringVar(&comment, "comment", "", "optional comment")
	return cmd
}

func requestRejectCmd() *cobra.Command {
	var stepID, reason string
	cmd := &cobra.Command{
		Use:   "reject <request-id>",
		Short: "Reject the pending step as the --as actor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				who, err := actor(a)
				if err != nil {
					return err
				}
				step, err := resolveStep(ctx, a.Engine, args[0], stepID)
				if err != nil {
					return err
				}
				req, err := a.Engine.RejectStep(ctx, args[0], step, who.ID, reason)
				if err != nil {
					return err
				}
				return printDecision(req)
			})
		},
	}
	cmd.Flags().StringVar(&stepID, "step", "", "step id (defaults to the pending step)")
	cmd.Flags().StringVar(&reason, "reason", "", "why the request is rejected")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func requestRemindCmd() *cobra.Command {
	var stepID string
	cmd := &cobra.Command{
		Use:   "remind <request-id>",
		Short: "Nudge the approver of the pending step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				who, err := actor(a)
				if err != nil {
					return err
				}
				step, err := resolveStep(ctx, a.Engine, args[0], stepID)
				if err != nil {
					return err
				}
				rem, err := a.Engine.SendReminder(ctx, args[0], step, who.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rem)
				}
				fmt.Printf("Reminder sent to %s for %s\n", rem.ApproverID, rem.RequestID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&stepID, "step", "", "step id (defaults to the pending step)")
	return cmd
}

func requestHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <request-id>",
		Short: "Show the audit trail of a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				evts, err := a.Engine.History(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(server.NewEventList(evts))
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"#", "When", "Event", "Step", "Actor"})
				for _, evt := range evts {
					tw.AppendRow(table.Row{evt.ID, evt.TS.Format("2006-01-02 15:04:05"), evt.Type, evt.StepID, evt.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
}

// resolveStep returns explicit when set, else the id of the pending step.
func resolveStep(ctx context.Context, e engine.Engine, requestID, explicit string) (string, error) {
	if s := strings.TrimSpace(explicit); s != "" {
		return s, nil
	}
	req, err := e.GetRequest(ctx, requestID)
	if err != nil {
		return "", err
	}
	step := req.PendingStep()
	if step == nil {
		return "", fmt.Errorf("request %s has no pending step (status %s)", req.ID, req.Status())
	}
	return step.ID, nil
}

func printDecision(req domain.Request) error {
	if viper.GetBool("json") {
		return printJSON(server.NewRequestResponse(req))
	}
	fmt.Printf("%s is now %s\n", req.ID, req.Status())
	printChain(req)
	return nil
}

func printChain(req domain.Request) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"#", "Step", "Approver", "Role", "Status", "Time taken", "Comments"})
	for _, s := range req.Chain {
		taken := ""
		if d, ok := s.TimeTaken(); ok {
			taken = workflow.FormatDuration(d)
		}
		tw.AppendRow(table.Row{s.Order, s.ID, s.ApproverName, s.ApproverRole, s.Status, taken, s.Comments})
	}
	tw.Render()
}
