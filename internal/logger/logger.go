package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// ServiceName は全ログ行に付与するserviceフィールドの値。
// APIサーバーとワーカーのログを同じ集約先で見分けるためにcommandと併用する。
const ServiceName = "memberportal"

// Setup はJSON構造化ログ出力のslog.Loggerを生成して返す。
// ログレベルはINFO固定。
func Setup(w io.Writer) *slog.Logger {
	return SetupWithLevel(w, slog.LevelInfo)
}

// SetupWithLevel は指定レベル以上を出力するJSON構造化ロガーを生成する。
func SetupWithLevel(w io.Writer, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	})
	return slog.New(handler).With(slog.String("service", ServiceName))
}

// ParseLevel はLOG_LEVELの文字列をslog.Levelに変換する。
// 未知の値はINFOとして扱う。
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetupDefault はJSON構造化ログ出力をグローバルロガーとして設定する。
// writerがnilの場合はos.Stdoutに出力する。
func SetupDefault(w io.Writer, level ...string) {
	if w == nil {
		w = os.Stdout
	}
	lv := slog.LevelInfo
	if len(level) > 0 {
		lv = ParseLevel(level[0])
	}
	slog.SetDefault(SetupWithLevel(w, lv))
}
