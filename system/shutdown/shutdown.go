package shutdown

import (
	"database/sql"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/oebus/fansync/internal/entity"
	"github.com/oebus/fansync/internal/transport"
)

// Shutdown tears the service down in dependency order: observers first so no
// timer fires into a dead subscriber, then the radio link, then the database.
func Shutdown(manager *entity.Manager, trans *transport.MQTTTransport, conn *sql.DB) {
	if manager != nil {
		manager.DetachAll()
		log.Info().Msg("Observers detached")
	}
	if trans != nil {
		trans.Close()
		log.Info().Msg("Transport disconnected")
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close database")
		}
	}
	log.Info().Msg("Shutdown complete")
}

func ShutdownWithError(err error, msg string, manager *entity.Manager, trans *transport.MQTTTransport, conn *sql.DB) {
	log.Error().Err(err).Msg(msg)
	Shutdown(manager, trans, conn)
	os.Exit(1)
}
