// dot1xctl -- CLI client for the godot1x daemon.
package main

import "github.com/dantte-lp/godot1x/cmd/dot1xctl/commands"

func main() {
	commands.Execute()
}
