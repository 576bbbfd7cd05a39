package main

import "github.com/nextlevelbuilder/cellstore/cmd"

func main() {
	cmd.Execute()
}
