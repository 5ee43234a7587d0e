// Command ice-agent runs a standalone ICE (RFC 8445) connectivity-check
// agent, configurable via a YAML file and reloadable over its HTTP api.
package main

import "gortc.io/iceagent/internal/cli"

func main() {
	cli.Execute()
}
