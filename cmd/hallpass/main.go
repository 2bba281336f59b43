// Command hallpass は廊下通行証の記録APIサーバーとその運用サブコマンドを提供する。
//
//	hallpass [serve|worker|migrate|healthcheck|report]
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/hallpass/internal/app"
)

func main() {
	if err := app.Run(os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "hallpass: %v\n", err)
		os.Exit(1)
	}
}
