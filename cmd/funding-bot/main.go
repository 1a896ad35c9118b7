package main

import (
	"funding-bot/internal/cli"
)

func main() {
	cli.Execute()
}
