package main

import "narci/internal/cli"

func main() {
	cli.Execute()
}
