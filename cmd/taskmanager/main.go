// Command taskmanager はタスク管理アプリのBFFサーバーを起動する。
//
// サブコマンド: serve（既定）, worker, migrate, healthcheck
package main

import (
	"fmt"
	"os"

	"github.com/Djangliori/task-new-app/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
