package main

import "driveq/cmd"

func main() {
	cmd.Run()
}
