// Command storydesk runs the news curation desk: the operator CLI and the
// HTTP control surface.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/storydesk/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
