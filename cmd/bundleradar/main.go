package main

import "bundleradar/internal/cli"

func main() {
	cli.Execute()
}
