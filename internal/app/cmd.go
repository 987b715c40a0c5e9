package app

import (
	"fmt"
	"sort"
	"strings"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバー（/api と /.netlify/functions）を起動する。
	CommandServe Command = "serve"
	// CommandWorker はログイン履歴の保持期間ジョブを日次で回し続ける。
	CommandWorker Command = "worker"
	// CommandRetention は保持期間ジョブを1回だけ実行して終了する。cron等からの起動用。
	CommandRetention Command = "retention"
	// CommandMigrate はデータベースマイグレーションを実行する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は/healthを叩いて終了コードで結果を返す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
	// CommandSession はデプロイ済みのバックエンドに対してクライアントのセッションを1回通す。
	CommandSession Command = "session"
)

var commandDescriptions = map[Command]string{
	CommandServe:       "start the tracking API server (default)",
	CommandWorker:      "run the login history retention job daily",
	CommandRetention:   "run the login history retention job once and exit",
	CommandMigrate:     "apply database migrations",
	CommandHealthcheck: "probe the local /health endpoint",
	CommandSession:     "sign in and run one client session against a deployed portal",
}

// ParseCommand はコマンドライン引数の先頭からサブコマンドを解析する。
// 引数が空の場合はCommandServe、未知のサブコマンドはエラーを返す。
// 2番目以降の引数は無視する。
func ParseCommand(args []string) (Command, error) {
	if len(args) == 0 || args[0] == "" {
		return CommandServe, nil
	}

	cmd := Command(strings.ToLower(args[0]))
	if _, ok := commandDescriptions[cmd]; !ok {
		return "", fmt.Errorf("unknown command %q\n%s", args[0], Usage())
	}
	return cmd, nil
}

// Usage はサブコマンド一覧を返す。
func Usage() string {
	names := make([]string, 0, len(commandDescriptions))
	for c := range commandDescriptions {
		names = append(names, string(c))
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("usage: memberportal <command>\n\ncommands:\n")
	for _, n := range names {
		fmt.Fprintf(&b, "  %-12s %s\n", n, commandDescriptions[Command(n)])
	}
	return b.String()
}
