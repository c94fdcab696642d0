// Package main provides the pgmon operator CLI.
package main

import "pgmon/cmd/pgmon/cmd"

func main() {
	cmd.Execute()
}
