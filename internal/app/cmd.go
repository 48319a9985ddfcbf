package app

import (
	"fmt"
	"io"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe は認証APIサーバーを起動する。
	CommandServe Command = "serve"
	// CommandWorker は期限切れセッションのクリーンアップを定期実行する。
	CommandWorker Command = "worker"
	// CommandMigrate はスキーマのマイグレーションを実行する（up / down [n] / version）。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は稼働中のサーバーの /health を確認する。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
	// CommandHelp は使い方を表示する。
	CommandHelp Command = "help"
)

// commandSummaries は使い方の表示順と説明。
var commandSummaries = []struct {
	cmd     Command
	summary string
}{
	{CommandServe, "start the authentication API server (default)"},
	{CommandWorker, "periodically delete expired sessions"},
	{CommandMigrate, "apply schema migrations: migrate [up | down [n] | version]"},
	{CommandHealthcheck, "probe GET /health on the local server"},
	{CommandHelp, "show this message"},
}

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch args[0] {
	case "worker":
		return CommandWorker
	case "serve":
		return CommandServe
	case "migrate":
		return CommandMigrate
	case "healthcheck":
		return CommandHealthcheck
	case "help", "-h", "--help":
		return CommandHelp
	default:
		return CommandServe
	}
}

// PrintUsage はサブコマンドの一覧を出力する。
func PrintUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: apexauth [command]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "commands:")
	for _, c := range commandSummaries {
		fmt.Fprintf(w, "  %-12s %s\n", c.cmd, c.summary)
	}
}
