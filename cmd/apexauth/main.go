// Command apexauth はローカル認証とGoogleフェデレーテッドログインを提供する認証サービス。
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/apexauth/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "apexauth: %v\n", err)
		os.Exit(1)
	}
}
