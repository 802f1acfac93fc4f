package main

import (
	"github.com/PrincetonUniversity/introgression/cmd"
)

func main() {
	cmd.Execute() // initialize cobra commands
	// makeDocs() // regenerate the Markdown pages in ./docs
}
