package server

// connConsumer adapts a subscriber connection to internal/livesource.Consumer
// so a Source can fan packets out to RTMP players the same way it fans out
// to internal/httplive's HTTP-FLV subscribers and internal/webrtcingest's
// WHIP sessions. TrySend must not block per the Consumer contract; it
// delegates to Connection.SendMessage, which already enforces its own short
// send-queue timeout (conn.go) rather than blocking indefinitely, so a
// single slow player can only ever cost this call up to that timeout, never
// stall the Source's dispatch loop permanently.

import (
	"log/slog"

	"github.com/brightwing/streamcore/internal/livesource"
	"github.com/brightwing/streamcore/internal/packet"
)

type connConsumer struct {
	conn sender
	msid uint32
	log  *slog.Logger
}

var _ livesource.Consumer = (*connConsumer)(nil)

func newConnConsumer(conn sender, msid uint32, log *slog.Logger) *connConsumer {
	return &connConsumer{conn: conn, msid: msid, log: log}
}

func (c *connConsumer) TrySend(p *packet.Packet) bool {
	msg, err := messageFromPacket(p, c.msid)
	if err != nil {
		c.log.Debug("consumer: unsendable packet", "error", err)
		return false
	}
	if err := c.conn.SendMessage(msg); err != nil {
		c.log.Debug("consumer: send failed", "error", err)
		return false
	}
	return true
}
