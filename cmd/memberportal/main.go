// Command memberportal は会員ポータルのAPIサーバーと運用サブコマンドを起動する。
//
//	memberportal [serve|worker|retention|migrate|healthcheck|session]
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/memberportal/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
