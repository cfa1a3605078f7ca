package main

import "github.com/kozaktomas/face-ballot/cmd"

func main() {
	cmd.Execute()
}
