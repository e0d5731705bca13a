package main

import "github.com/stackrun/stackrun/cmd"

func main() {
	cmd.Execute()
}
