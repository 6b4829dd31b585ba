package main

import "digestgenie/internal/cli"

func main() {
	cli.Execute()
}
