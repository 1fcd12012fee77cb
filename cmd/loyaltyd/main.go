// Command loyaltyd runs the loyalty tier, discount and rewards engine.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/tutu-network/loyalty/internal/cli"
)

func main() {
	if err := cli.Execute(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
