package main

import (
	// Telemetry backends register themselves under their emitter name so the
	// --emitter flag and config can select them.
	_ "github.com/drblury/procflow/telemetry/otel"
	_ "github.com/drblury/procflow/telemetry/prometheus"

	// Event transports register themselves the same way for --transport.
	_ "github.com/drblury/procflow/transport/transports"
)

func main() {
	Execute()
}
