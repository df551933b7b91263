package main

import "github.com/furisto/cadence/frontend/cli/cmd"

func main() {
	cmd.Execute()
}
