package main

import "github.com/cachekit/stripekv/cmd"

func main() {
	cmd.Execute()
}
