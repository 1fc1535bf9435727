package main

import "github.com/KaramelBytes/docloom-embed/cmd"

func main() {
	cmd.Execute()
}
