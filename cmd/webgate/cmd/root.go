package cmd

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var stateDir string

var rootCmd = &cobra.Command{
	Use:   "webgate",
	Short: "Webgate is the session gateway for the library web app",
	Long: `A session gateway that keeps library API tokens in HttpOnly cookies,
proxies the REST API, guards role-based pages and serves development users.`,
	SilenceUsage: true,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func defaultStateDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "webgate")
	}
	return ".webgate"
}

func init() {
	rootCmd.PersistentFlags().StringVar(&stateDir, "state-dir", defaultStateDir(), "Directory for the CLI session file")
}
