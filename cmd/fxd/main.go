// Command fxd inspects and serves durable signal logs.
package main

import (
	"os"

	"github.com/roach88/fxd/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		format, _ := cmd.PersistentFlags().GetString("format")
		if format != "json" {
			format = "text"
		}
		f := &cli.OutputFormatter{Format: format, Writer: os.Stdout, ErrWriter: os.Stderr}
		_ = f.Report(err)
		os.Exit(cli.GetExitCode(err))
	}
}
