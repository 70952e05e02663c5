package main

import "github.com/zhaobenny/gasometer/cli/internal/commands"

func main() {
	commands.Execute()
}
