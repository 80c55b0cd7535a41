package main

import "github.com/KaramelBytes/edaloom/cmd"

func main() {
	cmd.Execute()
}
