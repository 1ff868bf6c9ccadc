package main

import "github.com/tuna/fishroom/cmd"

func main() {
	cmd.Execute()
}
