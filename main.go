package main

import "github.com/quilllabs/quill/cmd"

func main() {
	cmd.Execute()
}
