package main

import "github.com/comfycap/comfycap/cmd/comfycap/commands"

func main() {
	commands.Execute()
}
