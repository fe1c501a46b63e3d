// bookvote はブッククラブの書籍投票システムのエントリーポイント。
// サブコマンド（serve/worker/migrate/healthcheck）で起動モードを切り替える。
package main

import (
	"log/slog"
	"os"

	"github.com/hitoshi/bookvote/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		slog.Error("application exited with error",
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
}
