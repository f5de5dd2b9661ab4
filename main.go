package main

import "github.com/scienceol/barista/cmd"

func main() {
	cmd.Execute()
}
