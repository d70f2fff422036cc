package main

import (
	"github.com/xkilldash9x/browserd/cmd"
)

func main() {
	cmd.Execute()
}
