package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/tableturnerr/ttcrm/internal/config"
	"github.com/tableturnerr/ttcrm/internal/export"
	"github.com/tableturnerr/ttcrm/internal/stats"
	"github.com/tableturnerr/ttcrm/internal/storage"
)

// --- leads ---

var leadsCmd = &cobra.Command{
	Use:   "leads",
	Short: "Scraped Google Maps leads",
}

var leadsExportCmd = &cobra.Command{
	Use:   "export <leads.json>",
	Short: "Convert scraped leads to an .xls spreadsheet",
	Long: `Convert a Google Maps scraper dump to a spreadsheet with working links.
Duplicates and leads matching the ignore lists are dropped. The ignore lists
stored in the dump are used unless --ignore-name or --ignore-industry is set.

Examples:
  ttcrm leads export gmes.json --name "Karachi cafes"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		output, _ := cmd.Flags().GetString("output")

		in, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("opening leads: %w", err)
		}
		defer in.Close()
		lf, err := export.ReadLeads(in)
		if err != nil {
			return err
		}

		opts := export.LeadOptions{IgnoreNames: lf.IgnoreNames, IgnoreIndustries: lf.IgnoreIndustries}
		if cmd.Flags().Changed("ignore-name") {
			opts.IgnoreNames, _ = cmd.Flags().GetStringSlice("ignore-name")
		}
		if cmd.Flags().Changed("ignore-industry") {
			opts.IgnoreIndustries, _ = cmd.Flags().GetStringSlice("ignore-industry")
		}

		if output == "" {
			output = export.LeadsFilename(name)
		}
		out, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}
		if err := export.LeadsXLS(out, lf.Results, opts); err != nil {
			out.Close()
			return err
		}
		if err := out.Close(); err != nil {
			return err
		}
		kept := len(export.FilterLeads(lf.Results, opts))
		printSuccess("Exported %d of %d leads to %s", kept, len(lf.Results), output)
		return nil
	},
}

func init() {
	leadsExportCmd.Flags().String("name", "", "export name, used for the file name")
	leadsExportCmd.Flags().StringP("output", "o", "", "output file (default: derived from --name)")
	leadsExportCmd.Flags().StringSlice("ignore-name", nil, "drop leads whose title contains any of these")
	leadsExportCmd.Flags().StringSlice("ignore-industry", nil, "drop leads whose industry contains any of these")
	leadsCmd.AddCommand(leadsExportCmd)
}

// --- stats ---

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show workspace counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		d, err := stats.LoadDashboard(cmd.Context(), a.client, a.logger)
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(cmd.OutOrStdout(), d)
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Companies:           %d\n", d.Companies)
		fmt.Fprintf(w, "Cold calls:          %d (%d unclaimed)\n", d.ColdCalls, d.Unclaimed)
		fmt.Fprintf(w, "Recordings:          %d\n", d.Recordings)
		fmt.Fprintf(w, "Pending follow-ups:  %d\n", d.PendingFollowUps)
		return nil
	},
}

func init() {
	statsCmd.Flags().Bool("json", false, "print JSON")
}

// --- outbox ---

var outboxCmd = &cobra.Command{
	Use:   "outbox",
	Short: "Inspect and flush queued writes",
}

var outboxStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queued writes",
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		counts, err := a.store.CountJobs()
		if err != nil {
			return err
		}
		statuses := make([]string, 0, len(counts))
		for s := range counts {
			statuses = append(statuses, s)
		}
		sort.Strings(statuses)
		for _, s := range statuses {
			printStatus(s, "%d", counts[s])
		}

		status := storage.JobPending
		if all {
			status = ""
		}
		jobs, err := a.store.ListJobs(status, limit)
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "Nothing queued.")
			return nil
		}
		tw := newTable(cmd.OutOrStdout())
		fmt.Fprintln(tw, "ID\tTYPE\tSTATUS\tATTEMPTS\tNEXT RUN\tLAST ERROR")
		for _, j := range jobs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%s\t%s\n",
				j.ID, j.Type, j.Status, j.Attempts, j.MaxAttempts,
				j.RunAfter.Local().Format("2006-01-02 15:04:05"), orDash(clip(j.LastError, 60)))
		}
		return tw.Flush()
	},
}

var outboxDrainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Run every queued write now",
	RunE: func(cmd *cobra.Command, args []string) error {
		retryFailed, _ := cmd.Flags().GetBool("retry-failed")

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if retryFailed {
			failed, err := a.store.ListJobs(storage.JobFailed, 0)
			if err != nil {
				return err
			}
			for _, j := range failed {
				if err := a.store.RetryJob(j.ID); err != nil {
					return err
				}
			}
		}
		if _, err := a.store.ExpediteJobs(); err != nil {
			return err
		}
		n, err := a.worker.Drain(cmd.Context())
		if err != nil {
			return err
		}
		counts, err := a.store.CountJobs()
		if err != nil {
			return err
		}
		printSuccess("Processed %d job(s)", n)
		if left := counts[storage.JobPending]; left > 0 {
			printWarning("%d job(s) still pending", left)
		}
		return nil
	},
}

func init() {
	outboxStatusCmd.Flags().Bool("all", false, "list jobs in every status")
	outboxStatusCmd.Flags().Int("limit", 20, "maximum number of jobs to list")
	outboxDrainCmd.Flags().Bool("retry-failed", false, "also retry jobs that ran out of attempts")
	outboxCmd.AddCommand(outboxStatusCmd, outboxDrainCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			mark := ""
			if !k.Default {
				mark = colorize(colorDim, " (set)")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s%s\n", colorize(colorBold, k.Key), k.Value, mark)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Reset a configuration value to its default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetCmd, configUnsetCmd)
}
