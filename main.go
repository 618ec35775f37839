package main

import "github.com/Seann-Moser/servosched/cmd"

func main() {
	cmd.Execute()
}
