package main

import "whale-mirror/internal/cli"

func main() {
	cli.Execute()
}
