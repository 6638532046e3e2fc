package main

import (
	"fmt"
	"os"

	"github.com/dmitrijs2005/gophpaste/internal/ctl"
)

func main() {
	if err := ctl.NewRootCmd(ctl.DialControl).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
