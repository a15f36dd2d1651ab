package main

import "weatherwatch/internal/cli"

func main() {
	cli.Execute()
}
