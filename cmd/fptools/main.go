package main

import (
	"context"

	"fptools-backend/cmd/fptools/commands"
	"fptools-backend/lib/telemetry"
)

func main() {
	telemetry.SetupFromEnv(context.Background(), "fptools")
	commands.ExecuteContext(context.Background())
}
