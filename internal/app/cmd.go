package app

import (
	"fmt"
	"io"
)

// Command はhallpassの起動モード（サブコマンド）を表す。
type Command string

const (
	CommandServe       Command = "serve"
	CommandWorker      Command = "worker"
	CommandMigrate     Command = "migrate"
	CommandHealthcheck Command = "healthcheck"
	CommandReport      Command = "report"
	CommandHelp        Command = "help"
)

// commands は使い方の表示順に並べたサブコマンドと説明。
var commands = []struct {
	cmd  Command
	desc string
}{
	{CommandServe, "start the HTTP API (default)"},
	{CommandWorker, "trim every teacher's log to RETENTION_LIMIT on RETENTION_INTERVAL (SQL backends)"},
	{CommandMigrate, "apply the hall_passes and hall_pass_archive schema (postgres, sqlite)"},
	{CommandHealthcheck, "check /health on localhost:SERVER_PORT"},
	{CommandReport, "print the admin report: -teacher -student -location -from -to"},
	{CommandHelp, "show this message"},
}

// ParseCommand はコマンドライン引数の先頭からサブコマンドを解析する。
// 引数が空またはサポート外の場合はCommandServeを返す。
// "-h" と "--help" はCommandHelpとして扱う。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}
	switch args[0] {
	case "-h", "--help":
		return CommandHelp
	}
	for _, c := range commands {
		if string(c.cmd) == args[0] {
			return c.cmd
		}
	}
	return CommandServe
}

// Usage はサブコマンドの一覧をwに書き出す。
func Usage(w io.Writer) {
	fmt.Fprintln(w, "usage: hallpass [command] [flags]")
	fmt.Fprintln(w)
	for _, c := range commands {
		fmt.Fprintf(w, "  %-12s %s\n", c.cmd, c.desc)
	}
}
