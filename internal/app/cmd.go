package app

import (
	"errors"
	"fmt"
	"strings"
)

// Command はtaskmanagerのサブコマンド。
type Command string

const (
	// CommandServe はBFFのHTTPサーバーを起動する。引数なしの場合の既定。
	CommandServe Command = "serve"
	// CommandWorker は期限切れセッションの定期削除を実行する。
	CommandWorker Command = "worker"
	// CommandMigrate はsessionsテーブルのマイグレーションを適用して終了する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は起動中のサーバーの /health を確認する。
	// distrolessイメージにはshellがないため、DockerのHEALTHCHECKから呼び出す。
	CommandHealthcheck Command = "healthcheck"
)

// ErrUnknownCommand はサポート外のサブコマンドを示す。
var ErrUnknownCommand = errors.New("unknown command")

// commands は表示順のサブコマンド一覧。
var commands = []struct {
	cmd     Command
	summary string
}{
	{CommandServe, "start the HTTP server (default)"},
	{CommandWorker, "delete expired sessions periodically"},
	{CommandMigrate, "apply database migrations and exit"},
	{CommandHealthcheck, "check GET /health on SERVER_PORT"},
}

// String はサブコマンド名を返す。
func (c Command) String() string {
	return string(c)
}

// ParseCommand はコマンドライン引数の先頭からサブコマンドを解析する。
// 引数が空の場合はCommandServeを返す。2つ目以降の引数は無視する。
func ParseCommand(args []string) (Command, error) {
	if len(args) == 0 || args[0] == "" {
		return CommandServe, nil
	}

	for _, c := range commands {
		if args[0] == c.cmd.String() {
			return c.cmd, nil
		}
	}
	return "", fmt.Errorf("%w %q\n%s", ErrUnknownCommand, args[0], Usage())
}

// Usage はサブコマンドの一覧を返す。
func Usage() string {
	var b strings.Builder
	b.WriteString("usage: taskmanager [command]\n\ncommands:\n")
	for _, c := range commands {
		fmt.Fprintf(&b, "  %-12s %s\n", c.cmd, c.summary)
	}
	return b.String()
}
