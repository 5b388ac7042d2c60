package main

import "github.com/brensch/tenderscan/cmd"

func main() {
	cmd.Execute()
}
