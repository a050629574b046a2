package main

import "github.com/bilicache/bilicache/internal/cli"

func main() {
	cli.Execute()
}
