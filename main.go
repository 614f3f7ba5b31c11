package main

import (
	"github.com/xkilldash9x/cookiekeeper/cmd"
)

func main() {
	cmd.Execute()
}
