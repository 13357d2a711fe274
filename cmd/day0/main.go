package main

import "github.com/mchmarny/day0/pkg/cli"

func main() {
	cli.Execute()
}
