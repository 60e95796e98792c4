// Package transports imports all built-in transports for auto-registration.
// Import this package to have all transports registered with the default registry.
package transports

import (
	// Import all transports for side-effect registration
	_ "github.com/drblury/onesided/transport/aws"
	_ "github.com/drblury/onesided/transport/channel"
	_ "github.com/drblury/onesided/transport/http"
	_ "github.com/drblury/onesided/transport/io"
	_ "github.com/drblury/onesided/transport/jetstream"
	_ "github.com/drblury/onesided/transport/kafka"
	_ "github.com/drblury/onesided/transport/nats"
	_ "github.com/drblury/onesided/transport/postgres"
	_ "github.com/drblury/onesided/transport/rabbitmq"
	_ "github.com/drblury/onesided/transport/sqlite"
)
