package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/davon-library/webgate/config"
	"github.com/davon-library/webgate/session"
	bboltstorage "github.com/davon-library/webgate/storage/bbolt"
)

var (
	apiBase  string
	username string
	password string
)

var (
	labelStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99")).Width(10)
	valueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	roleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// openSession opens the CLI session store kept in a bbolt file under dir.
func openSession(dir, base string) (*session.Store, func(), error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	repo, err := bboltstorage.NewRepositoryFromFile(filepath.Join(dir, "session.db"), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open session storage: %w", err)
	}
	base = strings.TrimRight(base, "/")
	store := session.New(session.NewRepositoryStorage(repo),
		session.WithEndpoint(base+"/auth/login"),
		session.WithLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))),
	)
	return store, func() { repo.Close() }, nil
}

func promptPassword() (string, error) {
	var pw string
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Password").
				EchoMode(huh.EchoModePassword).
				Value(&pw).
				Validate(func(s string) error {
					if s == "" {
						return errors.New("password is required")
					}
					return nil
				}),
		),
	).Run()
	return pw, err
}

// renderSession formats the identity for whoami.
func renderSession(w io.Writer, sess *session.Session, now time.Time) {
	if sess == nil {
		fmt.Fprintln(w, mutedStyle.Render("not logged in"))
		return
	}
	roles := mutedStyle.Render("none")
	if !sess.Roles.Empty() {
		roles = roleStyle.Render(strings.Join(sess.Roles.Slice(), ", "))
	}
	expires := mutedStyle.Render("never")
	if !sess.TokenExpiry.IsZero() {
		expires = valueStyle.Render(fmt.Sprintf("%s (in %s)",
			sess.TokenExpiry.Local().Format(time.RFC1123),
			sess.TokenExpiry.Sub(now).Round(time.Minute)))
	}
	rows := []string{
		labelStyle.Render("Subject") + valueStyle.Render(sess.SubjectID),
		labelStyle.Render("Name") + valueStyle.Render(sess.DisplayName),
		labelStyle.Render("Roles") + roles,
		labelStyle.Render("Expires") + expires,
	}
	fmt.Fprintln(w, lipgloss.JoinVertical(lipgloss.Left, rows...))
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in to the library API and keep the session locally",
	RunE: func(cmd *cobra.Command, args []string) error {
		if username == "" {
			return errors.New("--username is required")
		}
		pw := password
		if pw == "" {
			var err error
			if pw, err = promptPassword(); err != nil {
				return err
			}
		}

		store, closeStore, err := openSession(stateDir, apiBase)
		if err != nil {
			return err
		}
		defer closeStore()

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		sess, err := store.Login(ctx, session.Credentials{Username: username, Password: pw})
		if err != nil {
			return err
		}
		renderSession(cmd.OutOrStdout(), sess, time.Now())
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the local session",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, closeStore, err := openSession(stateDir, apiBase)
		if err != nil {
			return err
		}
		defer closeStore()
		if err := store.Logout(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), mutedStyle.Render("logged out"))
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the identity of the local session",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, closeStore, err := openSession(stateDir, apiBase)
		if err != nil {
			return err
		}
		defer closeStore()
		sess, err := store.Restore(cmd.Context())
		if err != nil {
			return err
		}
		renderSession(cmd.OutOrStdout(), sess, time.Now())
		return nil
	},
}

func defaultAPIBase() string {
	cfg, err := config.Load("")
	if err != nil {
		return config.DefaultUpstream
	}
	return cfg.Upstream
}

func init() {
	rootCmd.AddCommand(loginCmd, logoutCmd, whoamiCmd)
	for _, c := range []*cobra.Command{loginCmd, logoutCmd, whoamiCmd} {
		c.Flags().StringVar(&apiBase, "api", defaultAPIBase(), "Base URL of the library API")
	}
	loginCmd.Flags().StringVarP(&username, "username", "u", "", "Account username")
	loginCmd.Flags().StringVarP(&password, "password", "p", "", "Account password; prompted when empty")
}
