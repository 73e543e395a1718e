package main

import (
	"github.com/gomithril/textembed/internal/cli"
)

func main() {
	cli.Execute()
}
