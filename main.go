package main

import (
	"fmt"
	"os"

	"fjacquet/bank-sync/cmd/export"
	"fjacquet/bank-sync/cmd/reset"
	"fjacquet/bank-sync/cmd/root"
	syncmd "fjacquet/bank-sync/cmd/sync"
)

func init() {
	root.Cmd.AddCommand(syncmd.Cmd)
	root.Cmd.AddCommand(reset.Cmd)
	root.Cmd.AddCommand(export.Cmd)
}

func main() {
	if err := root.Cmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
