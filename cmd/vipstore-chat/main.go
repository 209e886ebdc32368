package main

import (
	"fmt"
	"os"

	"github.com/6587027/VipStore-sub001/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
