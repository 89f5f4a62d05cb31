package main

import "github.com/nextlevelbuilder/nutribot/cmd"

func main() {
	cmd.Execute()
}
