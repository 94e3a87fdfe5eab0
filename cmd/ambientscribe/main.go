package main

import (
	"context"
	"fmt"
	"os"

	"github.com/xaionaro-go/ambientscribe/cmd/ambientscribe/commands"
)

func main() {
	if err := commands.Root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
