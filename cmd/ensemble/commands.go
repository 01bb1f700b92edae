package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jordanhubbard/ensemble/internal/auth"
	"github.com/jordanhubbard/ensemble/internal/runner"
	"github.com/jordanhubbard/ensemble/internal/scheduler"
	"github.com/jordanhubbard/ensemble/internal/stream"
	"github.com/jordanhubbard/ensemble/pkg/models"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run <job-id>",
		Short: "Run a registered job now and print its results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			out, err := a.scheduler.RunJob(cmd.Context(), args[0])
			if out != nil {
				if perr := printJSON(out); perr != nil {
					return perr
				}
			}
			return err
		},
	}
}

func newAskCommand() *cobra.Command {
	var (
		model string
		mode  string
		save  bool
	)
	cmd := &cobra.Command{
		Use:   "ask <persona-id> <message...>",
		Short: "Run one persona against a message, streaming its output as text",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			personaID, message := args[0], strings.Join(args[1:], " ")
			p, ok := a.store.Persona(personaID)
			if !ok {
				return fmt.Errorf("unknown persona %q", personaID)
			}

			// Saved runs go through the scheduler so they land in the result store.
			if save {
				out, err := a.scheduler.RunAdhoc(cmd.Context(), p.ID, message, models.JobMode(mode))
				if len(out) > 0 {
					fmt.Println(out[0].ResponseText)
				}
				return err
			}

			if model == "" {
				model = p.DefaultModel
			}
			req := runner.Request{
				Prompt:   a.prompts.Assemble(p.ID, message),
				Model:    model,
				MaxTurns: scheduler.TurnsFor(models.JobMode(mode)),
			}
			exitCode := 0
			for ev := range a.runner.RunStreaming(cmd.Context(), req) {
				switch data := ev.Data.(type) {
				case stream.TextPayload:
					fmt.Println(data.Text)
				case stream.ToolCallPayload:
					fmt.Fprintf(os.Stderr, "-> %s %s\n", data.Name, data.Input)
				case stream.StatusPayload:
					if data.Status == stream.StatusError {
						fmt.Fprintf(os.Stderr, "error: %s\n", data.Message)
					}
				case stream.DonePayload:
					exitCode = data.ExitCode
				}
			}
			if err := cmd.Context().Err(); err != nil {
				return err
			}
			if exitCode != 0 {
				return fmt.Errorf("agent exited with code %d", exitCode)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&model, "model", "m", "", "Model override (default: persona default)")
	cmd.Flags().StringVar(&mode, "mode", "", "Turn budget: light or full")
	cmd.Flags().BoolVar(&save, "save", false, "Buffer the reply and persist it as an ad-hoc job result")
	return cmd
}

func newResultsCommand() *cobra.Command {
	var (
		jobID string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "results",
		Short: "Print persisted job results, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			out := make([]models.JobResult, 0)
			for _, r := range a.results.ReadAll(cmd.Context()) {
				if jobID != "" && r.JobID != jobID {
					continue
				}
				out = append(out, r)
				if limit > 0 && len(out) == limit {
					break
				}
			}
			return printJSON(out)
		},
	}
	cmd.Flags().StringVarP(&jobID, "job", "j", "", "Only results of this job")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum number of results")
	return cmd
}

func newPersonasCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "personas",
		Short: "List personas in routing order",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			type row struct {
				ID    string      `json:"id"`
				Name  string      `json:"name"`
				Tier  models.Tier `json:"tier"`
				Model string      `json:"default_model"`
			}
			rows := make([]row, 0)
			for _, p := range a.store.Personas() {
				rows = append(rows, row{ID: p.ID, Name: p.Name, Tier: p.Tier, Model: p.DefaultModel})
			}
			return printJSON(rows)
		},
	}
}

func newPromptCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "prompt <persona-id> [task...]",
		Short: "Print the assembled prompt for a persona (plain text)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			if _, ok := a.store.Persona(args[0]); !ok {
				return fmt.Errorf("unknown persona %q", args[0])
			}
			fmt.Println(a.prompts.Assemble(args[0], strings.Join(args[1:], " ")))
			return nil
		},
	}
}

func newRouteCommand() *cobra.Command {
	var (
		assignee, group string
		classify        bool
	)
	cmd := &cobra.Command{
		Use:   "route <work item name...>",
		Short: "Explain which persona a work item routes to",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			name := strings.Join(args, " ")
			if classify {
				return printJSON(map[string]string{"persona_id": a.router.ClassifyByGroup(group, name)})
			}
			return printJSON(a.router.Explain(assignee, group, name))
		},
	}
	cmd.Flags().BoolVar(&classify, "classify", false, "Use only keyword and group rules, ignoring assignee and overrides")
	cmd.Flags().StringVar(&assignee, "assignee", "", "Explicitly assigned persona")
	cmd.Flags().StringVarP(&group, "group", "g", "", "Group label of the work item")
	return cmd
}

func newLearnCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "learn <pattern> <persona-id>",
		Short: "Record a routing override: items matching pattern go to persona",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			if err := a.router.Learn(args[0], args[1]); err != nil {
				return err
			}
			return printJSON(map[string]string{"pattern": args[0], "persona_id": args[1], "file": a.cfg.OverridesPath()})
		},
	}
}

func newTasksCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tasks",
		Short: "List pending workspace tasks with their routing",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			items, err := a.workspace.PendingTasks(cmd.Context())
			if err != nil {
				return err
			}
			type row struct {
				models.WorkItem
				RoutedTo string `json:"routed_to"`
				Tier     string `json:"tier"`
			}
			rows := make([]row, 0, len(items))
			for _, it := range items {
				d := a.router.Explain(it.AssignedPersonaID, it.Group, it.Name)
				rows = append(rows, row{WorkItem: it, RoutedTo: d.PersonaID, Tier: string(d.Tier)})
			}
			return printJSON(rows)
		},
	}
}

func newInboxCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "inbox",
		Short: "Show recent mail threads and the unread count",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			if a.mailbox == nil {
				return fmt.Errorf("providers.mail_endpoint is not configured")
			}

			unread, err := a.mailbox.UnreadCount(cmd.Context())
			if err != nil {
				return err
			}
			threads, err := a.mailbox.ListRecent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printJSON(map[string]interface{}{"unread": unread, "threads": threads})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Number of threads")
	return cmd
}

func newAgendaCommand() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "agenda",
		Short: "List calendar events for the coming days",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			if a.calendar == nil {
				return fmt.Errorf("providers.calendar_endpoint is not configured")
			}

			from := time.Now().In(a.cfg.Location())
			events, err := a.calendar.ListEvents(cmd.Context(), from, from.AddDate(0, 0, days))
			if err != nil {
				return err
			}
			return printJSON(events)
		},
	}
	cmd.Flags().IntVarP(&days, "days", "d", 1, "Number of days to include")
	return cmd
}

func newTokenCommand() *cobra.Command {
	var (
		subject string
		scopes  []string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API token signed with security.jwt_secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Security.JWTSecret == "" {
				return fmt.Errorf("security.jwt_secret must be set to issue tokens")
			}
			tok, err := auth.NewManager(cfg.Security.JWTSecret, nil).IssueToken(subject, scopes, ttl)
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "cli", "Token subject")
	cmd.Flags().StringSliceVar(&scopes, "scope", []string{auth.ScopeRead}, "Granted scopes (read, run, *)")
	cmd.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "Token lifetime (0 for no expiry)")
	return cmd
}

func newHashKeyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-key",
		Short: "Read an API key from stdin and print its bcrypt hash for security.api_keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := readSecret("API key: ")
			if err != nil {
				return err
			}
			hash, err := auth.HashAPIKey(key)
			if err != nil {
				return err
			}
			fmt.Println(hash)
			return nil
		},
	}
}

// readSecret prompts without echo on a terminal and reads one line otherwise.
func readSecret(promptText string) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, promptText)
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("failed to read secret: %w", err)
		}
		return checkSecret(string(b))
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read secret: %w", err)
	}
	return checkSecret(line)
}

func checkSecret(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("secret cannot be empty")
	}
	return s, nil
}

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration, job registry and persona definitions",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			var problems []string
			for _, job := range a.scheduler.Registry().List() {
				if job.PersonaID == models.BatchPersona {
					continue
				}
				if _, ok := a.store.Persona(job.PersonaID); !ok {
					problems = append(problems, fmt.Sprintf("job %s references unknown persona %s", job.ID, job.PersonaID))
				}
			}
			if _, ok := a.store.Persona(a.cfg.Routing.DefaultPersona); !ok {
				problems = append(problems, fmt.Sprintf("default persona %s is not defined", a.cfg.Routing.DefaultPersona))
			}
			report := map[string]interface{}{
				"personas": len(a.store.Personas()),
				"jobs":     len(a.scheduler.Registry().List()),
				"problems": problems,
			}
			if err := printJSON(report); err != nil {
				return err
			}
			if len(problems) > 0 {
				return fmt.Errorf("%d problem(s) found", len(problems))
			}
			return nil
		},
	}
}
