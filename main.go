// The main package for the harvester executable.
package main

import (
	"github.com/JakeFAU/keyword-harvester/cmd"
)

func main() {
	cmd.Execute()
}
