package daemon

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"
	"github.com/spf13/cobra"

	"github.com/jbadeau/forge/internal/pluginhost"
	"github.com/jbadeau/forge/internal/ui"
)

// Command is the `forge daemon` CLI command: it starts a Server serving
// JSON-RPC requests over stdin/stdout until the client closes the stream
// or sends `shutdown`, per spec.md §4.10.
type Command struct {
	Log      hclog.Logger
	UI       cli.Ui
	Registry map[string]pluginhost.Plugin
}

func (c *Command) Run(args []string) int {
	cmd := c.cobraCommand()
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		c.logError(err)
		return 1
	}
	return 0
}

func (c *Command) Help() string {
	return c.cobraCommand().UsageString()
}

func (c *Command) Synopsis() string {
	return c.cobraCommand().Short
}

func (c *Command) logError(err error) {
	if c.Log != nil {
		c.Log.Error("daemon error", "error", err)
	}
	if c.UI != nil {
		c.UI.Error(fmt.Sprintf("%s%s", ui.ERROR_PREFIX, color.RedString(" %v", err)))
	}
}

func (c *Command) cobraCommand() *cobra.Command {
	return &cobra.Command{
		Use:           "daemon",
		Short:         "Runs the forge background server over stdio",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := c.Log
			if log == nil {
				log = hclog.NewNullLogger()
			}
			server := New(log, c.Registry)
			return server.Serve(context.Background(), os.Stdin, os.Stdout)
		},
	}
}
