package main

import (
	"os"

	"github.com/zhengshuai-xiao/RelayS/cmd"
	"github.com/zhengshuai-xiao/RelayS/internal"
)

var logger = internal.GetLogger("relays_main")

func main() {
	err := cmd.Main(os.Args)
	if err != nil {
		logger.Fatal(err)
	}
}
