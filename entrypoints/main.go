package main

import (
	"github.com/Laisky/laisky-kb-retrieval/cmd"
)

func main() {
	cmd.Execute()
}
