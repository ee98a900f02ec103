// Package commands implements the cms-cache command line.
package commands

import (
	"context"
	"io"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags "-X ...commands.Version=v1.2.3".
var Version = "dev"

// CLI is the cms-cache command tree.
type CLI struct {
	rootCmd *cobra.Command
}

// New creates the command tree.
func New() *CLI {
	rootCmd := &cobra.Command{
		Use:           "cms-cache",
		Short:         "Caching front for the CMS project and filter APIs",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
	}

	c := &CLI{rootCmd: rootCmd}

	rootCmd.AddCommand(c.newServeCmd())
	rootCmd.AddCommand(c.newStatsCmd())
	rootCmd.AddCommand(c.newVersionCmd())

	return c
}

// Execute runs the root command with the given context.
func (c *CLI) Execute(ctx context.Context) error {
	c.rootCmd.SetContext(ctx)
	return c.rootCmd.Execute()
}

// SetArgs sets the arguments for the root command. Used for testing.
func (c *CLI) SetArgs(args []string) {
	c.rootCmd.SetArgs(args)
}

// SetOutput redirects command output. Used for testing.
func (c *CLI) SetOutput(w io.Writer) {
	c.rootCmd.SetOut(w)
	c.rootCmd.SetErr(w)
}
