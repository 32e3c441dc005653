package main

import "rustler/cmd"

func main() {
	cmd.Execute()
}
