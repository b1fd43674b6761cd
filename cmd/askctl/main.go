package main

import "askhub/cmd/askctl/commands"

func main() {
	commands.Execute()
}
