// Command ajaxc is the command line client for the AJAX bridge.
package main

import (
	"os"

	"github.com/oremus-labs/ol-ajax-bridge/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
