package main

import "receiptvault/cmd/server/cmd"

func main() {
	cmd.Execute()
}
