package main

import "github.com/ghyeongl/pickindex/cmd"

func main() {
	cmd.Execute()
}
