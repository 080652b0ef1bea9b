// Command boardd runs the board persistence service and offers operator
// tooling around it.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
