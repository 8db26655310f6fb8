package main

import "github.com/hearthchat/hearth/cmd/server/cmd"

func main() {
	cmd.Execute()
}
