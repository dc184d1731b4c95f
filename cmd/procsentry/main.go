package main

import "github.com/procsentry/procsentry/cmd/procsentry/commands"

func main() {
	commands.Execute()
}
