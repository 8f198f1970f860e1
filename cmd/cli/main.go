package main

import (
	"github.com/mchmarny/sejctl/pkg/cli"
)

func main() {
	cli.Execute()
}
