package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"crease/internal/analysis"
	"crease/internal/session"
)

func newAccountCommands(ctx *commandContext) []*cobra.Command {
	return []*cobra.Command{
		newLoginCommand(ctx),
		newRegisterCommand(ctx),
		newLogoutCommand(ctx),
		newWhoamiCommand(ctx),
		newDeleteAccountCommand(ctx),
	}
}

func newLoginCommand(ctx *commandContext) *cobra.Command {
	var username, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in to the analysis backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			in := bufio.NewReader(cmd.InOrStdin())
			var err error
			if username, err = promptIfEmpty(cmd.OutOrStdout(), in, "Username", username); err != nil {
				return err
			}
			if password, err = promptIfEmpty(cmd.OutOrStdout(), in, "Password", password); err != nil {
				return err
			}

			logger, err := ctx.logger()
			if err != nil {
				return err
			}
			_, sessions, err := ctx.session(logger)
			if err != nil {
				return err
			}
			user, err := sessions.Login(cmd.Context(), analysis.Credentials{Username: username, Password: password})
			if err != nil {
				return fmt.Errorf("login: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s\n", user.Username)
			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "Account username")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Account password (prompted when omitted)")
	return cmd
}

func newRegisterCommand(ctx *commandContext) *cobra.Command {
	var username, email, password string

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account on the analysis backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			in := bufio.NewReader(cmd.InOrStdin())
			var err error
			if username, err = promptIfEmpty(cmd.OutOrStdout(), in, "Username", username); err != nil {
				return err
			}
			if email, err = promptIfEmpty(cmd.OutOrStdout(), in, "Email", email); err != nil {
				return err
			}
			if password, err = promptIfEmpty(cmd.OutOrStdout(), in, "Password", password); err != nil {
				return err
			}

			logger, err := ctx.logger()
			if err != nil {
				return err
			}
			_, sessions, err := ctx.session(logger)
			if err != nil {
				return err
			}
			user, err := sessions.Register(cmd.Context(), analysis.Registration{Username: username, Email: email, Password: password})
			if err != nil {
				return fmt.Errorf("register: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered and logged in as %s\n", user.Username)
			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "Account username")
	cmd.Flags().StringVarP(&email, "email", "e", "", "Account email")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Account password (prompted when omitted)")
	return cmd
}

func newLogoutCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Log out and forget the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := ctx.logger()
			if err != nil {
				return err
			}
			_, sessions, err := ctx.session(logger)
			if err != nil {
				return err
			}
			if err := sessions.Logout(cmd.Context()); err != nil {
				return fmt.Errorf("logout: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}

func newWhoamiCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged-in account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(_ *analysis.Client, sessions *session.Manager) error {
				user, err := sessions.Verify(cmd.Context())
				if err != nil {
					if errors.Is(err, session.ErrNotLoggedIn) {
						return errNotLoggedIn
					}
					return fmt.Errorf("verify session: %w", err)
				}
				if jsonOutput {
					return writeJSON(cmd, user)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, renderField("Username", user.Username))
				if user.Email != "" {
					fmt.Fprintln(out, renderField("Email", user.Email))
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newDeleteAccountCommand(ctx *commandContext) *cobra.Command {
	var confirm bool

	cmd := &cobra.Command{
		Use:   "delete-account",
		Short: "Permanently delete the logged-in account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm {
				return errors.New("refusing to delete the account without --yes")
			}
			return ctx.withClient(func(_ *analysis.Client, sessions *session.Manager) error {
				state, _ := sessions.Current()
				if err := sessions.DeleteAccount(cmd.Context()); err != nil {
					return fmt.Errorf("delete account: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted account %s\n", state.User.Username)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&confirm, "yes", false, "Confirm account deletion")
	return cmd
}

func promptIfEmpty(out io.Writer, in *bufio.Reader, label, value string) (string, error) {
	if strings.TrimSpace(value) != "" {
		return value, nil
	}
	fmt.Fprintf(out, "%s: ", label)
	line, err := in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read %s: %w", strings.ToLower(label), err)
	}
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return "", fmt.Errorf("%s is required", strings.ToLower(label))
	}
	return line, nil
}
