package main

import "ticketflow/cmd/cli"

func main() {
	cli.Execute()
}
