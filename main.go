package main

import "github.com/nextlevelbuilder/hermit/cmd"

func main() {
	cmd.Execute()
}
