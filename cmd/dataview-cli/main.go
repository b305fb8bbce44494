// Command dataview-cli is the operator CLI for a running dataview-server:
// cache inspection, dead-letter listing, and observer status, all over
// the plain HTTP ops surface internal/httpserver exposes.
package main

import (
	"github.com/dataview/dataview/cmd/dataview-cli/clicmd"
)

func main() {
	clicmd.Execute()
}
