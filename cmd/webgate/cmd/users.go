package cmd

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/davon-library/webgate/config"
	"github.com/davon-library/webgate/mock"
	"github.com/davon-library/webgate/view"
)

var (
	mockBase   string
	listStart  int
	listEnd    int
	headerCell = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99")).Padding(0, 1)
	bodyCell   = lipgloss.NewStyle().Padding(0, 1)
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Work with the development user provider",
}

var usersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a window of users",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, closeStore, err := openSession(stateDir, apiBase)
		if err != nil {
			return err
		}
		defer closeStore()
		if _, err := store.Restore(cmd.Context()); err != nil {
			return err
		}

		client := view.NewClient(mockBase, view.WithTokenSource(store))
		notify := view.NotifierFunc(func(n view.Notification) {
			if n.Level == view.LevelError {
				fmt.Fprintln(cmd.ErrOrStderr(), errorStyle.Render(n.Message))
			}
		})
		users := view.New[mock.User](client, "/users", view.WithNotifier(notify))

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		page, err := users.LoadPage(ctx, listStart, listEnd)
		if err != nil {
			return err
		}
		renderUsers(cmd.OutOrStdout(), users.Items(), page)
		return nil
	},
}

// renderUsers prints users as a table followed by the window summary.
func renderUsers(w io.Writer, users []mock.User, page view.Page) {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(mutedStyle).
		Headers("ID", "NAME", "EMAIL", "ROLE", "CREATED").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerCell
			}
			return bodyCell
		})
	for _, u := range users {
		t.Row(strconv.Itoa(u.ID), u.Name, u.Email, u.Role, u.CreatedAt.Format(time.DateOnly))
	}
	fmt.Fprintln(w, t.String())
	if len(users) == 0 {
		fmt.Fprintln(w, mutedStyle.Render(fmt.Sprintf("no users in window (total %d)", page.Total)))
		return
	}
	fmt.Fprintln(w, mutedStyle.Render(fmt.Sprintf("users %d-%d of %d", page.Start+1, page.End, page.Total)))
}

func init() {
	rootCmd.AddCommand(usersCmd)
	usersCmd.AddCommand(usersListCmd)
	usersListCmd.Flags().StringVar(&mockBase, "base", "http://localhost"+config.DefaultListen+"/mock", "Base URL of the user provider")
	usersListCmd.Flags().StringVar(&apiBase, "api", defaultAPIBase(), "Base URL of the library API")
	usersListCmd.Flags().IntVar(&listStart, "start", 0, "First index of the window")
	usersListCmd.Flags().IntVar(&listEnd, "end", 10, "Index one past the last record of the window")
}
