package main

import (
	"context"

	"newsdesk-backend/cmd/newsdesk-cli/commands"
)

func main() {
	commands.ExecuteContext(context.Background())
}
