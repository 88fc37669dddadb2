package main

import "github.com/nextlevelbuilder/reactd/cmd"

func main() {
	cmd.Execute()
}
