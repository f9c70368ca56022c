// perkledger はメンバー特典台帳のAPIサーバー・ワーカー・マイグレーションを提供する。
//
// 使い方:
//
//	perkledger [serve|worker|migrate|healthcheck]
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/perkledger/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "perkledger: %v\n", err)
		os.Exit(1)
	}
}
