package main

import "github.com/giuseppe/atomic/internal/cli"

func main() {
	cli.Execute()
}
