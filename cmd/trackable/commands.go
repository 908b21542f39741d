package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/jask/trackable/internal/config"
	"github.com/jask/trackable/internal/database/repository"
	"github.com/jask/trackable/internal/llm"
	"github.com/jask/trackable/internal/service"
	"github.com/jask/trackable/internal/testdata"
	"github.com/jask/trackable/internal/tui"
)

const dateLayout = "2006-01-02"

func reconcileCmd(a *app) *cobra.Command {
	var task string
	cmd := &cobra.Command{
		Use:   "reconcile <evidence.json|->",
		Short: "Reconcile one evidence record and evaluate its deadlines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			var ev service.Evidence
			if err := json.Unmarshal(raw, &ev); err != nil {
				return fmt.Errorf("decode evidence: %w", err)
			}
			res, err := a.svc.Worker.Process(cmd.Context(), service.JobRequest{UserID: a.userID, Evidence: ev, TaskName: task})
			if err != nil {
				return err
			}
			out := map[string]any{"job_id": res.JobID, "outcome": res.Outcome, "interventions": res.Interventions}
			if res.Result != nil {
				out["order_id"] = res.Result.Order.ID
				out["merchant"] = res.Result.Merchant.Name
				out["status"] = res.Result.Order.Status
				out["action"] = res.Result.Action
				out["is_new_order"] = res.Result.IsNewOrder
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&task, "task", "cli", "task name recorded on the job")
	return cmd
}

func backfillCmd(a *app) *cobra.Command {
	var concurrency int
	cmd := &cobra.Command{
		Use:   "backfill <evidence.jsonl|->",
		Short: "Reconcile a file of evidence records, one JSON object per line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			batch, err := decodeLines(raw)
			if err != nil {
				return err
			}
			bf := *a.svc.Backfill
			if concurrency > 0 {
				bf.Concurrency = concurrency
			}
			sum, err := bf.Run(cmd.Context(), a.userID, batch)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "records %d  created %d  merged %d  rejected %d  failed %d\n",
				len(batch), sum.Created, sum.Merged, sum.Rejected, sum.Failed)
			for _, o := range sum.Outcomes {
				if o.Err != nil {
					fmt.Fprintf(w, "  record %d: %v\n", o.Index+1, o.Err)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "parallel reconciles (default from config)")
	return cmd
}

func ordersCmd(a *app) *cobra.Command {
	var (
		status, merchantName, from, to string
		limit, offset                  int
		monitored                      bool
	)
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "List the latest row of every order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			f := service.LatestFilter{Limit: limit, Offset: offset, MonitoredOnly: monitored}
			if status != "" {
				st, err := repository.ParseStatus(status)
				if err != nil {
					return err
				}
				f.Status = st
			}
			if merchantName != "" {
				m, err := findMerchant(a, cmd, merchantName)
				if err != nil {
					return err
				}
				f.MerchantID = m.ID
			}
			var err error
			if f.From, err = parseDate(from); err != nil {
				return err
			}
			if f.To, err = parseDate(to); err != nil {
				return err
			}

			orders, err := a.svc.History.ListLatestForUser(ctx, a.userID, f)
			if err != nil {
				return err
			}
			total, err := a.svc.History.CountLatestForUser(ctx, a.userID, f)
			if err != nil {
				return err
			}
			names, err := merchantNames(a, cmd)
			if err != nil {
				return err
			}

			t := table.New().Border(lipgloss.NormalBorder()).
				Headers("DATE", "MERCHANT", "ORDER", "STATUS", "TOTAL", "RETURN BY")
			for _, o := range orders {
				t.Row(orderDate(o), names[o.MerchantID], o.OrderNumber, string(o.Status), moneyCell(o.Total), dateCell(o.ReturnWindowEnd))
			}
			fmt.Fprintln(cmd.OutOrStdout(), t.Render())
			fmt.Fprintf(cmd.OutOrStdout(), "%d of %d orders\n", len(orders), total)
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only orders whose latest status is this")
	cmd.Flags().StringVar(&merchantName, "merchant", "", "merchant name or domain")
	cmd.Flags().StringVar(&from, "from", "", "order date on or after (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "order date before (YYYY-MM-DD)")
	cmd.Flags().IntVar(&limit, "limit", repository.DefaultListLimit, "page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "rows to skip")
	cmd.Flags().BoolVar(&monitored, "monitored", false, "only monitored orders")
	return cmd
}

func timelineCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "timeline <merchant> <order_number>",
		Short: "Show every status row of an order",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := findMerchant(a, cmd, args[0])
			if err != nil {
				return err
			}
			rows, err := a.svc.History.Timeline(cmd.Context(), a.userID, m.ID, strings.TrimSpace(args[1]))
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				return fmt.Errorf("order %s at %s: %w", args[1], m.Name, repository.ErrNotFound)
			}
			t := table.New().Border(lipgloss.NormalBorder()).
				Headers("STATUS", "RECORDED", "SOURCE", "CONFIDENCE", "NOTES")
			for _, r := range rows {
				src := string(r.SourceType)
				if r.LastSourceID != nil {
					src = *r.LastSourceID
				}
				conf := ""
				if r.ConfidenceScore != nil {
					conf = fmt.Sprintf("%.2f", *r.ConfidenceScore)
				}
				t.Row(string(r.Status), r.CreatedAt.Local().Format("2006-01-02 15:04"), src, conf, strings.Join(r.Notes, "; "))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s #%s\n%s\n", m.Name, rows[0].OrderNumber, t.Render())
			return nil
		},
	}
}

func searchCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Find orders by order number, merchant name or item name",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orders, err := a.svc.History.Search(cmd.Context(), a.userID, strings.Join(args, " "), limit)
			if err != nil {
				return err
			}
			names, err := merchantNames(a, cmd)
			if err != nil {
				return err
			}
			t := table.New().Border(lipgloss.NormalBorder()).
				Headers("DATE", "MERCHANT", "ORDER", "STATUS", "MONITORED")
			for _, o := range orders {
				t.Row(orderDate(o), names[o.MerchantID], o.OrderNumber, string(o.Status), yesNo(o.IsMonitored))
			}
			fmt.Fprintln(cmd.OutOrStdout(), t.Render())
			fmt.Fprintf(cmd.OutOrStdout(), "%d matches\n", len(orders))
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", repository.DefaultSearchLimit, "maximum matches")
	return cmd
}

func noteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "note <merchant> <order_number> <text>",
		Short: "Append a note to an order",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := findMerchant(a, cmd, args[0])
			if err != nil {
				return err
			}
			o, err := a.svc.History.AddNote(cmd.Context(), a.userID, m.ID, strings.TrimSpace(args[1]), strings.Join(args[2:], " "))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s #%s (%s): %s\n", m.Name, o.OrderNumber, o.Status, strings.Join(o.Notes, "; "))
			return nil
		},
	}
}

func monitorCmd(a *app) *cobra.Command {
	var off bool
	cmd := &cobra.Command{
		Use:   "monitor <merchant> <order_number>",
		Short: "Turn deadline monitoring for an order on, or off with --off",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := findMerchant(a, cmd, args[0])
			if err != nil {
				return err
			}
			number := strings.TrimSpace(args[1])
			if err := a.svc.History.SetMonitored(cmd.Context(), a.userID, m.ID, number, !off); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s #%s monitored: %s\n", m.Name, number, yesNo(!off))
			return nil
		},
	}
	cmd.Flags().BoolVar(&off, "off", false, "stop monitoring")
	return cmd
}

func evaluateCmd(a *app) *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Derive deadline windows and record interventions for monitored orders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			now := time.Now().UTC()
			if at != "" {
				t, err := parseDate(at)
				if err != nil {
					return err
				}
				now = t
			}
			res, err := a.svc.Evaluator.Sweep(cmd.Context(), a.userID, now)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "evaluated %d orders: %d interventions recorded, %d windows derived\n",
				res.Evaluated, res.Recorded, res.Windows)
			return nil
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "evaluate as of this date (YYYY-MM-DD)")
	return cmd
}

func policyCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "policy", Short: "Manage merchant return and exchange policies"}

	var (
		country, domain    string
		returnDays, exDays int
		sourceURL          string
	)
	set := &cobra.Command{
		Use:   "set <merchant>",
		Short: "Store return/exchange window days for a merchant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.svc.Merchants.Resolve(cmd.Context(), args[0], domain)
			if err != nil {
				return err
			}
			in := service.PolicyInput{MerchantID: m.ID, MerchantName: m.Name, CountryCode: countryOr(a, country)}
			if cmd.Flags().Changed("return-days") {
				in.ReturnWindowDays = &returnDays
			}
			if cmd.Flags().Changed("exchange-days") {
				in.ExchangeWindowDays = &exDays
			}
			stored, err := a.svc.Policies.Set(cmd.Context(), in)
			if err != nil {
				return err
			}
			for _, p := range stored {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s policy for %s\n", m.Name, p.PolicyType, p.CountryCode)
			}
			return nil
		},
	}
	set.Flags().IntVar(&returnDays, "return-days", 0, "return window in days")
	set.Flags().IntVar(&exDays, "exchange-days", 0, "exchange window in days")

	learn := &cobra.Command{
		Use:   "learn <merchant> <policy.txt|policy.html|->",
		Short: "Read window terms out of a saved policy text or page",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			m, err := a.svc.Merchants.Resolve(ctx, args[0], domain)
			if err != nil {
				return err
			}
			raw, err := readInput(cmd, args[1])
			if err != nil {
				return err
			}
			c := countryOr(a, country)
			var terms llm.PolicyTerms
			switch strings.ToLower(filepath.Ext(args[1])) {
			case ".html", ".htm":
				terms, err = a.svc.Policies.LearnHTML(ctx, m, c, strings.NewReader(string(raw)), sourceURL)
			default:
				terms, err = a.svc.Policies.Learn(ctx, m, c, string(raw), sourceURL)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s): %s (confidence %.2f)\n", m.Name, c, terms.Reasoning, terms.Confidence)
			return nil
		},
	}
	learn.Flags().StringVar(&sourceURL, "url", "", "where the policy was published")

	for _, c := range []*cobra.Command{set, learn} {
		c.Flags().StringVar(&country, "country", "", "ISO country code (default from config)")
		c.Flags().StringVar(&domain, "domain", "", "merchant domain")
	}
	cmd.AddCommand(set, learn)
	return cmd
}

func sourceCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "source", Short: "Register raw evidence sources"}

	email := &cobra.Command{
		Use:   "email <message.eml|->",
		Short: "Register an email and print its text for extraction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			reg, err := a.svc.Intake.RegisterEmail(cmd.Context(), a.userID, raw)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), registrationOutput(reg))
		},
	}

	var imageURL string
	image := &cobra.Command{
		Use:   "image <screenshot>",
		Short: "Register a screenshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			if imageURL == "" {
				if abs, err := filepath.Abs(args[0]); err == nil {
					imageURL = "file://" + abs
				}
			}
			reg, err := a.svc.Intake.RegisterImage(cmd.Context(), a.userID, raw, imageURL)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), registrationOutput(reg))
		},
	}
	image.Flags().StringVar(&imageURL, "url", "", "where the image is stored")

	cmd.AddCommand(email, image)
	return cmd
}

func seedCmd(a *app) *cobra.Command {
	var (
		orders int
		seed   int64
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Generate sample orders and policies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sum, err := testdata.Seed(cmd.Context(),
				testdata.Deps{Engine: a.svc.Engine, Policies: a.svc.Policies},
				a.userID, testdata.Options{Orders: orders, Seed: seed})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d evidence records: %d orders, %d status rows, %d policies\n",
				sum.Evidence, sum.Orders, sum.Rows, sum.Policies)
			return nil
		},
	}
	cmd.Flags().IntVar(&orders, "orders", 20, "number of sample orders")
	cmd.Flags().Int64Var(&seed, "seed", 0, "random seed (0 picks one)")
	return cmd
}

func resetCmd(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete all orders, merchants, sources, jobs and policies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("refusing to reset without --yes")
			}
			if err := a.svc.Maintenance.Reset(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "database reset")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm")
	return cmd
}

func browseCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "browse",
		Short: "Browse orders and their timelines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p := tea.NewProgram(tui.New(cmd.Context(), a.cfg, a.userID,
				tui.Repos{
					Merchants:     repository.NewMerchantRepo(a.db),
					Interventions: repository.NewInterventionRepo(a.db),
				},
				tui.Services{History: a.svc.History, Evaluator: a.svc.Evaluator, Maintenance: a.svc.Maintenance},
				time.Local,
			), tea.WithAltScreen())
			_, err := p.Run()
			return err
		},
	}
}

func configCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Inspect or persist settings"}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective settings",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return writeJSON(cmd.OutOrStdout(), a.cfg)
			},
		},
		&cobra.Command{
			Use:   "save",
			Short: "Write the effective settings to the config file",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				if err := config.Save(a.cfg); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "config saved")
				return nil
			},
		},
	)
	return cmd
}
