package main

import "github.com/trongkhoidev/oreka-tracker/cmd"

func main() {
	cmd.Execute()
}
