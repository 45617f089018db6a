package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tableturnerr/ttcrm/internal/coldcalls"
	"github.com/tableturnerr/ttcrm/internal/crm"
	"github.com/tableturnerr/ttcrm/internal/export"
)

var coldCallsCmd = &cobra.Command{
	Use:     "coldcalls",
	Aliases: []string{"cold-calls", "cc"},
	Short:   "Review analyzed cold calls",
}

func addColdCallFilters(cmd *cobra.Command) {
	cmd.Flags().String("search", "", "search company, phone and owner")
	cmd.Flags().StringSlice("outcome", nil, "only these outcomes (repeatable or comma separated)")
	cmd.Flags().Int("min-interest", 0, "minimum interest level")
	cmd.Flags().String("sort", "", "sort field (default: newest first)")
	cmd.Flags().Bool("desc", false, "sort descending")
}

func coldCallQuery(cmd *cobra.Command) coldcalls.Query {
	var q coldcalls.Query
	q.Search, _ = cmd.Flags().GetString("search")
	q.MinInterest, _ = cmd.Flags().GetInt("min-interest")
	q.Sort, _ = cmd.Flags().GetString("sort")
	q.Desc, _ = cmd.Flags().GetBool("desc")
	outcomes, _ := cmd.Flags().GetStringSlice("outcome")
	for _, o := range outcomes {
		if o = strings.TrimSpace(o); o != "" {
			q.Outcomes = append(q.Outcomes, crm.CallOutcome(o))
		}
	}
	return q
}

var coldCallsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cold calls",
	RunE: func(cmd *cobra.Command, args []string) error {
		page, _ := cmd.Flags().GetInt("page")
		asJSON, _ := cmd.Flags().GetBool("json")
		q := coldCallQuery(cmd)

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.coldCalls.List(cmd.Context(), q, page)
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(cmd.OutOrStdout(), res)
		}
		if len(res.Items) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No cold calls found.")
			return nil
		}

		tw := newTable(cmd.OutOrStdout())
		fmt.Fprintln(tw, "ID\tDATE\tCOMPANY\tPHONE\tOUTCOME\tINTEREST\tCLAIMED BY")
		for _, c := range res.Items {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
				c.ID, shortTime(c.Created), orDash(clip(c.CompanyName(), 30)), orDash(c.PhoneNumber),
				c.Outcome, c.InterestLevel, orDash(c.ClaimedByName()))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\nPage %d of %d (%d calls)\n", res.Page, max(res.TotalPages, 1), res.TotalItems)
		return nil
	},
}

var coldCallsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a cold call with its transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		d, err := a.coldCalls.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(cmd.OutOrStdout(), d)
		}

		w := cmd.OutOrStdout()
		c := d.Call
		fmt.Fprintf(w, "%s  %s  interest %d\n", colorize(colorBold, orDash(c.CompanyName())), c.Outcome, c.InterestLevel)
		fmt.Fprintf(w, "  phone:      %s\n", orDash(c.PhoneNumber))
		fmt.Fprintf(w, "  owner:      %s\n", orDash(c.OwnerName))
		fmt.Fprintf(w, "  recipients: %s\n", orDash(c.Recipients))
		fmt.Fprintf(w, "  claimed by: %s\n", orDash(c.ClaimedByName()))
		if c.Summary != "" {
			fmt.Fprintf(w, "\n%s\n  %s\n", colorize(colorCyan, "Summary"), c.Summary)
		}
		printList(w, "Objections", c.Objections)
		printList(w, "Pain points", c.PainPoints)
		printList(w, "Follow-up actions", c.FollowUpActions)
		if d.Transcript != nil {
			fmt.Fprintf(w, "\n%s\n%s\n", colorize(colorCyan, "Transcript"), d.Transcript.Transcript)
		}
		return nil
	},
}

func printList(w io.Writer, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s\n", colorize(colorCyan, title))
	for _, it := range items {
		fmt.Fprintf(w, "  - %s\n", it)
	}
}

var coldCallsClaimCmd = &cobra.Command{
	Use:   "claim <id>",
	Short: "Claim a cold call for yourself",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		c, err := a.coldCalls.Claim(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printSuccess("Claimed cold call %s for %s", c.ID, orDash(c.ClaimedByName()))
		return nil
	},
}

var coldCallsReleaseCmd = &cobra.Command{
	Use:   "release <id>",
	Short: "Release a claimed cold call",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		c, err := a.coldCalls.Release(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printSuccess("Released cold call %s", c.ID)
		return nil
	},
}

// exportPerPage is the page size used to collect every call for an export.
const exportPerPage = 200

var coldCallsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export cold calls as CSV",
	Long: `Export the matching cold calls as CSV.

Rows are written unquoted by default, as older tooling expects. Use --quote
(or set export.rfc4180) for RFC 4180 quoting.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		quote, _ := cmd.Flags().GetBool("quote")
		q := coldCallQuery(cmd)
		q.PerPage = exportPerPage

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		var calls []crm.ColdCall
		for page := 1; ; page++ {
			res, err := a.coldCalls.List(cmd.Context(), q, page)
			if err != nil {
				return err
			}
			calls = append(calls, res.Items...)
			if page >= res.TotalPages {
				break
			}
		}

		mode := export.ModeLegacy
		if quote || a.cfg.Export.RFC4180 {
			mode = export.ModeRFC4180
		}

		if output == "-" {
			return a.coldCalls.Export(cmd.OutOrStdout(), calls, mode)
		}
		if output == "" {
			output = a.coldCalls.Filename()
		}
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}
		if err := a.coldCalls.Export(f, calls, mode); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		printSuccess("Exported %d cold calls to %s", len(calls), output)
		return nil
	},
}

func init() {
	addColdCallFilters(coldCallsListCmd)
	coldCallsListCmd.Flags().Int("page", 1, "page number")
	coldCallsListCmd.Flags().Bool("json", false, "print JSON")

	coldCallsShowCmd.Flags().Bool("json", false, "print JSON")

	addColdCallFilters(coldCallsExportCmd)
	coldCallsExportCmd.Flags().StringP("output", "o", "", "output file, - for stdout (default: cold-calls-<date>.csv)")
	coldCallsExportCmd.Flags().Bool("quote", false, "quote fields per RFC 4180")

	coldCallsCmd.AddCommand(coldCallsListCmd, coldCallsShowCmd, coldCallsClaimCmd, coldCallsReleaseCmd, coldCallsExportCmd)
}
