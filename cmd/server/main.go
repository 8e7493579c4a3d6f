package main

import (
	"os"

	"github.com/pesio-ai/be-expense-approvals/cmd/server/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
