package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/mediaforge/studio/internal/app"
	"github.com/mediaforge/studio/internal/config"
	"github.com/mediaforge/studio/internal/logger"
	"github.com/mediaforge/studio/internal/models"
	"github.com/mediaforge/studio/internal/replicate"
	"github.com/mediaforge/studio/internal/services"
	"github.com/mediaforge/studio/internal/storage"
	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	jsonOut  bool
	logLevel string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "studioctl",
		Short:         "Media studio - generate images, videos and stickers from the terminal",
		Long:          `Command-line companion of the studio dashboard. It shares the dashboard's config, history and usage files.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $CONFIG_PATH or ./config.toml)")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "print JSON instead of tables")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level")

	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(modelsCmd())
	rootCmd.AddCommand(generateCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(costCmd())

	return rootCmd
}

func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "config.toml"
}

// openApp loads config and wires the services. needToken is set by commands
// that call the inference API.
func openApp(ctx context.Context, needToken bool) (*app.App, error) {
	cfg, err := config.LoadOrDefault(configPath())
	if err != nil {
		return nil, err
	}
	if needToken {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	log, err := logger.New(logLevel, "console")
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, log)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
}

// parseParams turns repeated key=value flags into a raw parameter map
func parseParams(pairs []string) (map[string]any, error) {
	params := make(map[string]any, len(pairs))
	for _, p := range pairs {
		key, value, ok := strings.Cut(p, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --param %q, expected key=value", p)
		}
		params[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return params, nil
}

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Long:  `Write a config file with default settings. The API token is read from .env or REPLICATE_API_TOKEN and never stored in the config.`,
		RunE:  runInit,
	}

	cmd.Flags().String("password", "", "Dashboard password (enables login)")
	cmd.Flags().String("storage", "json", "History backend: json, sqlite or postgres")
	cmd.Flags().Bool("force", false, "Overwrite an existing config file")

	return cmd
}

func runInit(cmd *cobra.Command, args []string) error {
	password, _ := cmd.Flags().GetString("password")
	backend, _ := cmd.Flags().GetString("storage")
	force, _ := cmd.Flags().GetBool("force")

	path := configPath()
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	cfg := config.DefaultConfig()
	cfg.Storage.Backend = backend
	if password != "" {
		hash, err := services.HashPassword(password)
		if err != nil {
			return err
		}
		cfg.Auth.PasswordHash = hash
	}

	if err := cfg.EnsureDirs(); err != nil {
		return err
	}
	if err := cfg.Save(path); err != nil {
		return err
	}

	fmt.Printf("Config written to %s\n", path)
	fmt.Printf("  history:  %s (%s)\n", cfg.Storage.HistoryFile, cfg.Storage.Backend)
	fmt.Printf("  outputs:  %s\n", cfg.Storage.OutputDir)
	fmt.Printf("  login:    %v\n", cfg.Auth.Enabled())
	if cfg.Replicate.APIToken == "" {
		fmt.Printf("\nSet %s in %s or the environment before generating.\n", config.TokenEnv, cfg.Replicate.EnvFile)
	}
	return nil
}

func modelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List available models and their default price",
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, _ := cmd.Flags().GetString("type")
			a, err := openApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.Close()

			list := a.Catalog.List()
			if kind != "" {
				list = a.Catalog.ListKind(models.Kind(kind))
			}
			if jsonOut {
				return printJSON(list)
			}

			w := newTable()
			fmt.Fprintln(w, "KEY\tTYPE\tNAME\tDEFAULT COST\tPARAMS")
			for _, m := range list {
				cost := "-"
				if c, err := a.Costs.Estimate(m.Key, nil); err == nil {
					cost = fmt.Sprintf("$%.4f / €%.4f", c.USD, c.EUR)
				}
				names := make([]string, 0, len(m.Params))
				for _, p := range m.Params {
					names = append(names, p.Name)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", m.Key, m.Kind, m.Name, cost, strings.Join(names, ","))
			}
			return w.Flush()
		},
	}
	cmd.Flags().String("type", "", "Only models of this type (image, video, sticker)")
	return cmd
}

// progressPrinter reports generation progress on stderr
type progressPrinter struct{}

func (progressPrinter) Submitted(p *replicate.Prediction) {
	fmt.Fprintf(os.Stderr, "submitted %s\n", p.ID)
}

func (progressPrinter) Progress(p *replicate.Prediction) {
	fmt.Fprintf(os.Stderr, "status: %s\n", p.Status)
}

func (progressPrinter) Downloading() {
	fmt.Fprintln(os.Stderr, "downloading...")
}

func generateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Run one generation and wait for the result",
		RunE:  runGenerate,
	}

	cmd.Flags().StringP("model", "m", "flux-schnell", "Model key (see `studioctl models`)")
	cmd.Flags().StringP("prompt", "p", "", "Prompt, or the subject when --template is set")
	cmd.Flags().StringP("template", "t", "", "Prompt template name")
	cmd.Flags().StringArray("param", nil, "Model parameter as key=value (repeatable)")
	cmd.MarkFlagRequired("prompt")

	return cmd
}

func runGenerate(cmd *cobra.Command, args []string) error {
	model, _ := cmd.Flags().GetString("model")
	prompt, _ := cmd.Flags().GetString("prompt")
	template, _ := cmd.Flags().GetString("template")
	pairs, _ := cmd.Flags().GetStringArray("param")

	params, err := parseParams(pairs)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	req := services.GenerateRequest{Model: model, Prompt: prompt, Template: template, Params: params}
	if err := a.Generation.Validate(req); err != nil {
		return err
	}
	if est, err := a.Costs.Estimate(model, params); err == nil {
		fmt.Fprintf(os.Stderr, "estimated cost: $%.4f (€%.4f)\n", est.USD, est.EUR)
	}

	rec, err := a.Generation.Run(ctx, req, progressPrinter{})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return errors.New("interrupted")
		}
		return err
	}

	if jsonOut {
		return printJSON(rec)
	}
	fmt.Printf("id:     %s\n", rec.ID)
	fmt.Printf("url:    %s\n", rec.ResultURL)
	if rec.LocalPath != "" {
		fmt.Printf("file:   %s\n", rec.LocalPath)
	}
	if rec.CostUSD != nil {
		fmt.Printf("cost:   $%.4f (€%.4f)\n", *rec.CostUSD, a.Costs.ToEUR(*rec.CostUSD))
	}
	if rec.ProcessingTime != nil {
		fmt.Printf("time:   %.1fs\n", *rec.ProcessingTime)
	}
	return nil
}

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect and repair the generation history",
	}
	cmd.AddCommand(historyListCmd())
	cmd.AddCommand(historyShowCmd())
	cmd.AddCommand(historyMigrateCmd())
	return cmd
}

func historyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List past generations, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, _ := cmd.Flags().GetString("type")
			model, _ := cmd.Flags().GetString("model")
			query, _ := cmd.Flags().GetString("query")
			limit, _ := cmd.Flags().GetInt("limit")

			a, err := openApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.Close()

			recs, err := a.History.List(cmd.Context(), storage.HistoryFilter{
				Kind:  models.Kind(kind),
				Model: model,
				Query: query,
				Limit: limit,
			})
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(recs)
			}

			w := newTable()
			fmt.Fprintln(w, "TIME\tTYPE\tMODEL\tPROMPT\tFILE")
			for _, r := range recs {
				file := r.LocalPath
				if file == "" {
					file = "(remote)"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.Timestamp.Format("2006-01-02 15:04"), r.Kind, r.Model, truncate(r.Prompt, 48), file)
			}
			return w.Flush()
		},
	}
	cmd.Flags().String("type", "", "Filter by type (image, video, sticker)")
	cmd.Flags().String("model", "", "Filter by model key")
	cmd.Flags().StringP("query", "q", "", "Filter by prompt substring")
	cmd.Flags().Int("limit", 20, "Maximum number of records")
	return cmd
}

func historyShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one history record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.Close()

			rec, err := a.History.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(rec)
		},
	}
}

func historyMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Repair the history: IDs, timestamps, types, file links and duplicates",
		Long:  `Repair the stored history in one pass. Running it again on a repaired history changes nothing.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			dryRun, _ := cmd.Flags().GetBool("dry-run")

			a, err := openApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.History.Migrate(cmd.Context(), dryRun)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(report)
			}

			w := newTable()
			fmt.Fprintf(w, "records in\t%d\n", report.Input)
			fmt.Fprintf(w, "records out\t%d\n", report.Output)
			fmt.Fprintf(w, "assigned ids\t%d\n", report.AssignedIDs)
			fmt.Fprintf(w, "fixed timestamps\t%d\n", report.FixedTimestamps)
			fmt.Fprintf(w, "inferred types\t%d\n", report.InferredKinds)
			fmt.Fprintf(w, "relinked files\t%d\n", report.Relinked)
			fmt.Fprintf(w, "adopted files\t%d\n", report.Adopted)
			fmt.Fprintf(w, "duplicates\t%d\n", report.Duplicates)
			fmt.Fprintf(w, "truncated\t%d\n", report.Truncated)
			if err := w.Flush(); err != nil {
				return err
			}

			switch {
			case !report.Changed():
				fmt.Println("history is already clean")
			case dryRun:
				fmt.Println("dry run, nothing written")
			default:
				fmt.Println("history repaired")
			}
			return nil
		},
	}
	cmd.Flags().Bool("dry-run", false, "Report changes without writing")
	return cmd
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show per-model usage and spend",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.Close()

			s, err := a.Usage.Summary(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(s)
			}

			w := newTable()
			fmt.Fprintln(w, "MODEL\tRUNS\tOK\tFAILED\tSUCCESS\tAVG TIME\tSPEND")
			for _, r := range s.Models {
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%.1f%%\t%.1fs\t€%.2f\n",
					r.Name, r.Total, r.Succeeded, r.Failed, r.SuccessRate, r.AvgLatencySeconds, r.TotalCostEUR)
			}
			fmt.Fprintf(w, "TOTAL\t%d\t%d\t\t%.1f%%\t\t€%.2f\n", s.TotalRuns, s.TotalSucceeded, s.SuccessRate, s.TotalCostEUR)
			return w.Flush()
		},
	}
}

func costCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cost",
		Short: "Estimate the price of a run",
		RunE: func(cmd *cobra.Command, args []string) error {
			model, _ := cmd.Flags().GetString("model")
			pairs, _ := cmd.Flags().GetStringArray("param")
			params, err := parseParams(pairs)
			if err != nil {
				return err
			}

			a, err := openApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.Close()

			cost, err := a.Costs.Estimate(model, params)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(cost)
			}
			fmt.Printf("%s: $%.4f (€%.4f, %s)\n", model, cost.USD, cost.EUR, cost.Unit)
			return nil
		},
	}
	cmd.Flags().StringP("model", "m", "", "Model key")
	cmd.Flags().StringArray("param", nil, "Model parameter as key=value (repeatable)")
	cmd.MarkFlagRequired("model")
	return cmd
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
