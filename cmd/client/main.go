package main

import "receiptvault/cmd/client/cmd"

func main() {
	cmd.Execute()
}
