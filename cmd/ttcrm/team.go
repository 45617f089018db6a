package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tableturnerr/ttcrm/internal/crm"
	"github.com/tableturnerr/ttcrm/internal/pocketbase"
	"github.com/tableturnerr/ttcrm/internal/team"
)

var teamCmd = &cobra.Command{
	Use:   "team",
	Short: "Team members and their activity",
}

var teamListCmd = &cobra.Command{
	Use:   "list",
	Short: "List members with call and DM counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		members, err := a.team.ListWithStats(cmd.Context())
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(cmd.OutOrStdout(), members)
		}

		tw := newTable(cmd.OutOrStdout())
		fmt.Fprintln(tw, "ID\tNAME\tEMAIL\tROLE\tSTATUS\tCALLS\tDMS\tLAST ACTIVE")
		for _, m := range members {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
				m.ID, orDash(m.Name), orDash(m.Email), orDash(string(m.Role)), orDash(string(m.Status)),
				m.Calls, m.DMs, ago(m.LastActive))
		}
		return tw.Flush()
	},
}

var teamActorsCmd = &cobra.Command{
	Use:   "actors",
	Short: "List Instagram actors with DM counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		actors, err := a.team.ActorsWithStats(cmd.Context())
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(cmd.OutOrStdout(), actors)
		}

		tw := newTable(cmd.OutOrStdout())
		fmt.Fprintln(tw, "ID\tUSERNAME\tOWNER\tSTATUS\tDMS\tLAST ACTIVE")
		for _, ac := range actors {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
				ac.ID, ac.Username, orDash(ac.OwnerName), orDash(ac.Status), ac.DMs, shortTime(ac.LastActivity))
		}
		return tw.Flush()
	},
}

// actorID is the signed-in user, who may not change their own role or status.
func actorID(a *app) (string, error) {
	id := a.client.Auth().UserID()
	if id == "" {
		return "", pocketbase.ErrNotAuthenticated
	}
	return id, nil
}

var teamSetRoleCmd = &cobra.Command{
	Use:   "set-role <user-id> <admin|member>",
	Short: "Change a member's role",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		actor, err := actorID(a)
		if err != nil {
			return err
		}
		u, err := a.team.SetRole(cmd.Context(), actor, args[0], crm.Role(args[1]))
		if err != nil {
			return err
		}
		printSuccess("%s is now %s", displayName(u), u.Role)
		return nil
	},
}

var teamSetStatusCmd = &cobra.Command{
	Use:   "set-status <user-id> <status>",
	Short: "Change a member's status",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		actor, err := actorID(a)
		if err != nil {
			return err
		}
		u, err := a.team.SetStatus(cmd.Context(), actor, args[0], crm.UserStatus(args[1]))
		if err != nil {
			return err
		}
		printSuccess("%s is now %s", displayName(u), u.Status)
		return nil
	},
}

var teamSuspendCmd = &cobra.Command{
	Use:   "suspend <user-id>",
	Short: "Suspend a member, or lift the suspension",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		actor, err := actorID(a)
		if err != nil {
			return err
		}
		u, err := a.team.ToggleSuspend(cmd.Context(), actor, args[0])
		if err != nil {
			return err
		}
		printSuccess("%s is now %s", displayName(u), u.Status)
		return nil
	},
}

var teamAddCmd = &cobra.Command{
	Use:   "add <email>",
	Short: "Add an offline team member",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in := team.MemberInput{Email: args[0]}
		in.Name, _ = cmd.Flags().GetString("name")
		fromStdin, _ := cmd.Flags().GetBool("password-stdin")

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if fromStdin {
			if in.Password, err = readPassword(cmd.InOrStdin()); err != nil {
				return err
			}
		}
		u, err := a.team.AddMember(cmd.Context(), in)
		if err != nil {
			return err
		}
		printSuccess("Added %s (%s)", displayName(u), u.ID)
		return nil
	},
}

func init() {
	teamListCmd.Flags().Bool("json", false, "print JSON")
	teamActorsCmd.Flags().Bool("json", false, "print JSON")
	teamAddCmd.Flags().String("name", "", "display name")
	teamAddCmd.Flags().Bool("password-stdin", false, "read the initial password from standard input")

	teamCmd.AddCommand(teamListCmd, teamActorsCmd, teamSetRoleCmd, teamSetStatusCmd, teamSuspendCmd, teamAddCmd)
}
