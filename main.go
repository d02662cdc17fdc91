package main

import "github.com/panelbase/comicscan/cmd"

func main() {
	cmd.Execute()
}
