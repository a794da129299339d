package main

import "github.com/davon-library/webgate/cmd/webgate/cmd"

func main() {
	cmd.Execute()
}
