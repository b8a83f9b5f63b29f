package main

import "github.com/terra-clan/challenge-engine/cmd/challengectl/root"

func main() {
	root.Execute()
}
