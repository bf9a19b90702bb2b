// Command antiprimes computes the antiprime sequence from the command line,
// serves it over HTTP/websocket and MQTT, or drives it from a terminal UI.
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
