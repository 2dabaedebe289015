package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Sign in to Google Drive in your browser",
		Args:  cobra.NoArgs,
		RunE:  runLogin,
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Cancel running uploads and remove the saved credential",
		Args:  cobra.NoArgs,
		RunE:  runLogout,
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in account",
		Args:  cobra.NoArgs,
		RunE:  runWhoami,
	}
}

func runLogin(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.creds.SignedIn() {
		statusf("Already signed in as %s.\n", accountLabel(a))
		return nil
	}

	// EnsureValid falls through to the interactive browser flow when no
	// usable credential exists.
	if err := a.creds.EnsureValid(ctx); err != nil {
		return err
	}

	if err := cacheIdentity(ctx, a); err != nil {
		a.logger.Warn("could not fetch account identity", slog.String("error", err.Error()))
	}

	statusf("Signed in as %s.\n", accountLabel(a))

	return nil
}

func runLogout(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	a.mgr.AbortAll()
	a.creds.Invalidate()

	statusf("Signed out.\n")

	return nil
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if !a.creds.SignedIn() {
		return fmt.Errorf("not signed in (run `studioflow login`)")
	}

	if a.creds.Meta("email") == "" {
		if err := cacheIdentity(ctx, a); err != nil {
			return err
		}
	}

	fmt.Printf("%s <%s>\n", a.creds.Meta("name"), a.creds.Meta("email"))

	return nil
}

// cacheIdentity fetches the signed-in user and stores it in the
// credential file's metadata, so whoami works offline afterwards.
func cacheIdentity(ctx context.Context, a *app) error {
	user, err := a.client.About(ctx)
	if err != nil {
		return err
	}

	a.creds.MergeMeta(map[string]string{
		"name":  user.DisplayName,
		"email": user.EmailAddress,
	})

	return nil
}

// accountLabel returns the best available display string for the account.
func accountLabel(a *app) string {
	if email := a.creds.Meta("email"); email != "" {
		return email
	}

	return "this account"
}
