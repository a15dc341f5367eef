// Command tokenrelay calls token-protected APIs and manages the stored tokens
// behind them.
package main

import "os"

var version = "dev"

func main() {
	os.Exit(Execute(os.Args[1:]))
}
