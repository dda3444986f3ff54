package main

import "github.com/waymark-app/waymark/cmd/waymark/cmd"

func main() {
	cmd.Execute()
}
