package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tableturnerr/ttcrm/internal/config"
	"github.com/tableturnerr/ttcrm/internal/crm"
	"github.com/tableturnerr/ttcrm/internal/pocketbase"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in to the CRM store",
	Long: `Sign in to the CRM store and remember the session.

The password is taken from TTCRM_STORE_PASSWORD, the secret store, or
standard input with --password-stdin.

Examples:
  ttcrm login --email me@tableturnerr.com --password-stdin < pass.txt`,
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		fromStdin, _ := cmd.Flags().GetBool("password-stdin")

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if email == "" {
			email = a.cfg.Store.Email
		}
		password := a.cfg.Store.Password
		if fromStdin {
			if password, err = readPassword(cmd.InOrStdin()); err != nil {
				return err
			}
		}
		if email == "" || password == "" {
			return fmt.Errorf("%w: email and password are required", crm.ErrValidation)
		}

		resp, err := a.client.AuthWithPassword(cmd.Context(), usersCollection, email, password)
		if err != nil {
			return err
		}
		if err := config.SaveSessionToken(a.kc, resp.Token); err != nil {
			return err
		}

		var u crm.User
		if err := a.client.Auth().Record(&u); err != nil {
			return err
		}
		printSuccess("Signed in as %s", displayName(u))
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the saved session",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.ClearSessionToken(newKeychain()); err != nil {
			return err
		}
		printSuccess("Signed out")
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in user",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		var u crm.User
		if err := a.client.Auth().Record(&u); err != nil {
			return err
		}
		if !a.client.Auth().Valid() {
			return pocketbase.ErrNotAuthenticated
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%s\n", colorize(colorBold, displayName(u)))
		fmt.Fprintf(w, "  id:     %s\n", u.ID)
		fmt.Fprintf(w, "  email:  %s\n", orDash(u.Email))
		fmt.Fprintf(w, "  role:   %s\n", orDash(string(u.Role)))
		fmt.Fprintf(w, "  status: %s\n", orDash(string(u.Status)))
		fmt.Fprintf(w, "  store:  %s\n", a.client.BaseURL())
		return nil
	},
}

func init() {
	loginCmd.Flags().String("email", "", "account email (default: store.email)")
	loginCmd.Flags().Bool("password-stdin", false, "read the password from standard input")
}

func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func displayName(u crm.User) string {
	if u.Name != "" {
		return u.Name
	}
	if u.Email != "" {
		return u.Email
	}
	return u.ID
}
