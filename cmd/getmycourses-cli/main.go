package main

import (
	"context"

	"github.com/shatgupt/getmycourses/cmd/getmycourses-cli/commands"
)

func main() {
	commands.ExecuteContext(context.Background())
}
