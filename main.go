package main

import "github.com/kamusis/cbdistill/cmd"

func main() {
	cmd.Execute()
}
