package main

import "github.com/cortexforge/jitcache/internal/cli"

func main() {
	cli.Execute()
}
