package main

import "github.com/redmist-racing/timing-session-manager/cmd"

func main() {
	cmd.Execute()
}
