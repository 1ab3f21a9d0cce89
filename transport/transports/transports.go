// Package transports imports the built-in transports for registration.
// Import it to have "rabbitmq" and "channel" available in the default registry.
package transports

import (
	_ "github.com/drblury/syncflow/transport/channel"
	_ "github.com/drblury/syncflow/transport/rabbitmq"
)
