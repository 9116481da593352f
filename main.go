package main

import "github.com/hbomb79/immich-relay/cmd"

func main() {
	cmd.Execute()
}
