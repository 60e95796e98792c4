package main

import "github.com/drblury/onesided/internal/cli"

func main() {
	cli.Execute()
}
