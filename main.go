package main

import "Fanvault/cmd"

func main() {
	cmd.Execute()
}
