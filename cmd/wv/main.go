package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"waveline/internal/app"
	"waveline/internal/config"
	"waveline/internal/db"
	"waveline/internal/engine"
	"waveline/internal/marker"
	"waveline/internal/repo"
	"waveline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "wv",
	Short: "Waveline CLI",
	Long: `Waveline coordinates autonomous workers over a shared ticket store.
Epics group work items into ordered waves; items walk a fixed phase
lifecycle (ready -> claimed -> dev -> test -> review -> completed) with
scope declarations, checkpoints, and review verdicts recorded as
structured comments. The store is the only shared state: every rule the
engine enforces is derived from labels and comment markers.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("WAVELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(epicCmd())
	rootCmd.AddCommand(itemCmd())
	rootCmd.AddCommand(scopeCmd())
	rootCmd.AddCommand(checkpointCmd())
	rootCmd.AddCommand(verdictCmd())
	rootCmd.AddCommand(patternCmd())
	rootCmd.AddCommand(escalateCmd())
	rootCmd.AddCommand(violationCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func withApp(ctx context.Context, fn func(context.Context, *app.Context) error) error {
	a, err := app.Resolve(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func actor() string {
	return viper.GetString("actor-id")
}

func parseNumber(arg string) (int, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(arg, "#"))
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid item number %q", arg)
	}
	return n, nil
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default waveline.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(workspace)), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
}

func epicCmd() *cobra.Command {
	epic := &cobra.Command{Use: "epic", Short: "Manage epics"}
	epic.AddCommand(epicCreateCmd())
	epic.AddCommand(epicShowCmd())
	epic.AddCommand(epicListCmd())
	epic.AddCommand(epicItemsCmd())
	epic.AddCommand(epicWavesCmd())
	return epic
}

func epicCreateCmd() *cobra.Command {
	var title, body string
	var waves int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an epic with an ordered wave plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				ep, err := a.Engine.CreateEpic(ctx, title, body, waves, actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(ep)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "epic title")
	cmd.Flags().StringVar(&body, "body", "", "epic description")
	cmd.Flags().IntVar(&waves, "waves", 1, "number of ordered waves")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func epicShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <number>",
		Short: "Show an epic and its active wave",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parseNumber(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				ep, err := a.Engine.GetEpic(ctx, n)
				if err != nil {
					return err
				}
				return printJSONOrTable(ep)
			})
		},
	}
}

func epicListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List epics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				eps, err := a.Engine.ListEpics(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(eps)
			})
		},
	}
}

func epicItemsCmd() *cobra.Command {
	var wave string
	cmd := &cobra.Command{
		Use:   "items <number>",
		Short: "List an epic's work items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parseNumber(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				items, err := a.Engine.ListItems(ctx, n, wave)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"#", "Title", "Wave", "Phase", "Assignee"})
				for _, i := range items {
					tw.AppendRow(table.Row{i.Number, i.Title, i.Wave, i.Phase, i.Assignee})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&wave, "wave", "", "filter by wave")
	return cmd
}

func epicWavesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "waves <number>",
		Short: "Show per-wave progress for an epic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parseNumber(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				waves, err := a.Engine.WaveStatus(ctx, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(waves)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Wave", "Done", "Total", "Eligible", "Active"})
				for _, w := range waves {
					tw.AppendRow(table.Row{w.Wave, w.Done, w.Total, w.Eligible, w.Active})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func itemCmd() *cobra.Command {
	item := &cobra.Command{Use: "item", Short: "Manage work items"}
	item.AddCommand(itemCreateCmd())
	item.AddCommand(itemShowCmd())
	item.AddCommand(itemClaimCmd())
	item.AddCommand(itemTransitionCmd())
	return item
}

func itemCreateCmd() *cobra.Command {
	var epic int
	var wave, title, body string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a ready work item inside an epic's wave",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				item, err := a.Engine.CreateItem(ctx, engine.CreateItemInput{
					Epic:  epic,
					Wave:  wave,
					Title: title,
					Body:  body,
					Actor: actor(),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(item)
			})
		},
	}
	cmd.Flags().IntVar(&epic, "epic", 0, "epic number")
	cmd.Flags().StringVar(&wave, "wave", "1", "wave (1..N, eval, fix)")
	cmd.Flags().StringVar(&title, "title", "", "item title")
	cmd.Flags().StringVar(&body, "body", "", "item description")
	_ = cmd.MarkFlagRequired("epic")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func itemShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <number>",
		Short: "Show a work item with its derived phase",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parseNumber(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				item, err := a.Engine.GetItem(ctx, n)
				if err != nil {
					return err
				}
				return printJSONOrTable(item)
			})
		},
	}
}

func itemClaimCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "claim <number>",
		Short: "Claim a ready work item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parseNumber(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				item, err := a.Engine.Claim(ctx, n, actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(item)
			})
		},
	}
}

func itemTransitionCmd() *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "transition <number>",
		Short: "Request a phase transition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parseNumber(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				item, err := a.Engine.RequestTransition(ctx, n, from, to, actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(item)
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "current phase state")
	cmd.Flags().StringVar(&to, "to", "", "target phase state")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func scopeCmd() *cobra.Command {
	scope := &cobra.Command{Use: "scope", Short: "Declare and inspect resource scopes"}
	scope.AddCommand(scopeDeclareCmd())
	scope.AddCommand(scopeShowCmd())
	scope.AddCommand(scopeResolveCmd())
	return scope
}

func scopeDeclareCmd() *cobra.Command {
	var claimed, excluded []string
	cmd := &cobra.Command{
		Use:   "declare <number>",
		Short: "Declare the item's write-once resource claim",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parseNumber(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				conflicts, err := a.Engine.DeclareScope(ctx, n, actor(), claimed, excluded)
				if err != nil {
					return err
				}
				if len(conflicts) == 0 {
					fmt.Println("scope declared, no overlaps")
					return nil
				}
				return printJSONOrTable(conflicts)
			})
		},
	}
	cmd.Flags().StringSliceVar(&claimed, "claim", nil, "claimed-exclusive resources")
	cmd.Flags().StringSliceVar(&excluded, "exclude", nil, "explicitly excluded resources")
	_ = cmd.MarkFlagRequired("claim")
	return cmd
}

func scopeShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <number>",
		Short: "Show the item's declaration and unresolved conflicts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parseNumber(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				decl, unresolved, err := a.Engine.GetScope(ctx, n)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"declaration": decl, "unresolved": unresolved})
			})
		},
	}
}

func scopeResolveCmd() *cobra.Command {
	var agreement string
	cmd := &cobra.Command{
		Use:   "resolve <number> <other>",
		Short: "Record a conflict resolution on both items",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a1, err := parseNumber(args[0])
			if err != nil {
				return err
			}
			a2, err := parseNumber(args[1])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				if err := a.Engine.ResolveConflict(ctx, a1, a2, agreement, actor()); err != nil {
					return err
				}
				fmt.Printf("resolution recorded on #%d and #%d\n", a1, a2)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&agreement, "agreement", "", "what the two sides agreed")
	_ = cmd.MarkFlagRequired("agreement")
	return cmd
}

func checkpointCmd() *cobra.Command {
	cp := &cobra.Command{Use: "checkpoint", Short: "Post and read status checkpoints"}
	cp.AddCommand(checkpointPostCmd())
	cp.AddCommand(checkpointShowCmd())
	return cp
}

func checkpointPostCmd() *cobra.Command {
	var workLog, branch, nextAction, outcome string
	var changed, commits, completed, inProgress, pending []string
	var final bool
	cmd := &cobra.Command{
		Use:   "post <number>",
		Short: "Post a resumable checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parseNumber(args[0])
			if err != nil {
				return err
			}
			cp := marker.Checkpoint{
				WorkLog: workLog,
				Snapshot: marker.Snapshot{
					Completed:  completed,
					InProgress: inProgress,
					Pending:    pending,
				},
				ChangedResources: changed,
				Commits:          commits,
				Branch:           branch,
				NextAction:       nextAction,
				Outcome:          outcome,
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				if err := a.Engine.PostCheckpoint(ctx, n, actor(), cp, final); err != nil {
					return err
				}
				fmt.Println("checkpoint recorded")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&workLog, "work-log", "", "what happened since the last checkpoint")
	cmd.Flags().StringVar(&branch, "branch", "", "working branch")
	cmd.Flags().StringVar(&nextAction, "next-action", "", "the concrete next step")
	cmd.Flags().StringVar(&outcome, "outcome", "", "terminal outcome (final checkpoints)")
	cmd.Flags().StringSliceVar(&changed, "changed", nil, "changed resources")
	cmd.Flags().StringSliceVar(&commits, "commit", nil, "commit ids")
	cmd.Flags().StringSliceVar(&completed, "done", nil, "snapshot: completed")
	cmd.Flags().StringSliceVar(&inProgress, "doing", nil, "snapshot: in progress")
	cmd.Flags().StringSliceVar(&pending, "todo", nil, "snapshot: pending")
	cmd.Flags().BoolVar(&final, "final", false, "this is the closing checkpoint")
	return cmd
}

func checkpointShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <number>",
		Short: "Show the newest checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parseNumber(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				cp, err := a.Engine.LatestCheckpoint(ctx, n)
				if err != nil {
					return err
				}
				return printJSONOrTable(cp)
			})
		},
	}
}

func verdictCmd() *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "verdict <number> <PASS|FAIL>",
		Short: "Post a review verdict",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parseNumber(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				item, err := a.Engine.PostVerdict(ctx, n, actor(), args[1], note)
				if err != nil {
					if item.Number != 0 {
						fmt.Printf("verdict recorded, item parked in %s: %v\n", item.Phase, err)
						return nil
					}
					return err
				}
				return printJSONOrTable(item)
			})
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "review notes")
	return cmd
}

func patternCmd() *cobra.Command {
	var cycle int
	var note string
	cmd := &cobra.Command{
		Use:   "pattern <number>",
		Short: "Record the third-cycle pattern note",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parseNumber(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				if err := a.Engine.RecordPattern(ctx, n, actor(), cycle, note); err != nil {
					return err
				}
				fmt.Println("pattern note recorded")
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&cycle, "cycle", 3, "review cycle the note covers")
	cmd.Flags().StringVar(&note, "note", "", "what keeps failing and what changes next")
	_ = cmd.MarkFlagRequired("note")
	return cmd
}

func escalateCmd() *cobra.Command {
	var addressee, note string
	cmd := &cobra.Command{
		Use:   "escalate <number>",
		Short: "Escalate runaway review cycles to a human",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parseNumber(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				esc, err := a.Engine.RecordEscalation(ctx, n, actor(), addressee, note)
				if err != nil {
					return err
				}
				return printJSONOrTable(esc)
			})
		},
	}
	cmd.Flags().StringVar(&addressee, "to", "", "human maintainer to address")
	cmd.Flags().StringVar(&note, "note", "", "context for the maintainer")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func violationCmd() *cobra.Command {
	v := &cobra.Command{Use: "violation", Short: "Inspect and manage rule breaches"}
	v.AddCommand(violationListCmd())
	v.AddCommand(violationRecordCmd())
	v.AddCommand(violationClearCmd())
	return v
}

func violationListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <number>",
		Short: "List live violations on an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parseNumber(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				vs, err := a.Engine.ListViolations(ctx, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(vs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Kind", "Count", "Level"})
				for _, v := range vs {
					tw.AppendRow(table.Row{v.ID, v.ActorID, v.Kind, v.Count, v.Level})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func violationRecordCmd() *cobra.Command {
	var who, kind, note string
	cmd := &cobra.Command{
		Use:   "record <number>",
		Short: "Record a rule breach against an actor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parseNumber(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				v, err := a.Engine.RecordViolation(ctx, n, who, kind, note)
				if err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	}
	cmd.Flags().StringVar(&who, "actor", "", "actor who broke the rule")
	cmd.Flags().StringVar(&kind, "kind", "", "violation kind")
	cmd.Flags().StringVar(&note, "note", "", "what happened")
	_ = cmd.MarkFlagRequired("actor")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}

func violationClearCmd() *cobra.Command {
	var id, correction string
	cmd := &cobra.Command{
		Use:   "clear <number>",
		Short: "Clear a violation with a recorded correction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parseNumber(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				if err := a.Engine.ClearViolation(ctx, n, id, actor(), correction); err != nil {
					return err
				}
				fmt.Println("violation cleared")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "violation id to clear")
	cmd.Flags().StringVar(&correction, "correction", "", "how the breach was corrected")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("correction")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{Use: "log", Short: "Inspect the audit log"}
	var limit int
	var epic, evtType string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show the newest audit events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				r := repoFrom(a)
				evts, err := r.LatestEvents(ctx, limit, epic, evtType, "", "")
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(evts)
				}
				for i := len(evts) - 1; i >= 0; i-- {
					e := evts[i]
					fmt.Printf("%s %-22s %s/%s actor=%s %s\n", e.TS, e.Type, e.EntityKind, e.EntityID, e.ActorID, e.Payload)
				}
				return nil
			})
		},
	}
	tail.Flags().IntVar(&limit, "limit", 50, "events to show")
	tail.Flags().StringVar(&epic, "epic", "", "filter by epic number")
	tail.Flags().StringVar(&evtType, "type", "", "filter by event type")
	log.AddCommand(tail)
	return log
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				authCfg := server.AuthConfig{JWTSecret: os.Getenv("WAVELINE_JWT_SECRET")}
				if authCfg.JWTSecret == "" {
					return fmt.Errorf("WAVELINE_JWT_SECRET is required for bearer auth")
				}
				r := repoFrom(a)
				handler, err := server.New(server.Config{Engine: a.Engine, Repo: r, BasePath: basePath, Auth: authCfg})
				if err != nil {
					return err
				}
				server.StartWebhookDispatcher(r, a.Config)
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(sctx)
				}()
				fmt.Printf("Serving Waveline API on http://%s%s (OpenAPI at %s/openapi.json)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

func repoFrom(a *app.Context) *repo.Repo {
	return &repo.Repo{DB: a.DB}
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
