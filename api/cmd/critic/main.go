package main

import "photo-critic/api/internal/cli"

func main() {
	cli.Execute()
}
