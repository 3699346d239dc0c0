// Package main provides the entry point for the chatindex CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/chatindex/cmd/chatindex/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
