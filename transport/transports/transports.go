// Package transports registers every built-in event backend with the
// default transport registry. Import it for its side effects:
//
//	import _ "github.com/drblury/procflow/transport/transports"
//
// Programs that only need one backend can blank-import that backend's
// package instead and skip the dependencies of the rest.
package transports

import (
	_ "github.com/drblury/procflow/transport/aws"
	_ "github.com/drblury/procflow/transport/channel"
	_ "github.com/drblury/procflow/transport/http"
	_ "github.com/drblury/procflow/transport/io"
	_ "github.com/drblury/procflow/transport/jetstream"
	_ "github.com/drblury/procflow/transport/kafka"
	_ "github.com/drblury/procflow/transport/nats"
	_ "github.com/drblury/procflow/transport/postgres"
	_ "github.com/drblury/procflow/transport/rabbitmq"
	_ "github.com/drblury/procflow/transport/sqlite"
)
