package sink

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/cadigan/CortexFlow/internal/domain"
	"github.com/cadigan/CortexFlow/internal/ports"
)

// TimescaleSink persists event tables to a Timescale/Postgres table.
type TimescaleSink struct {
	db        *sql.DB
	tableName string
}

func NewTimescaleSink(db *sql.DB, table string) *TimescaleSink {
	return &TimescaleSink{db: db, tableName: table}
}

func (t *TimescaleSink) Name() string { return "timescaledb" }

func (t *TimescaleSink) WriteEvents(streamID string, events []domain.EventRow) error {
	if len(events) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(t.tableName)
	b.WriteString(" (stream_id, sample_index, duration, marker, recorded_at) VALUES ")

	now := time.Now().UTC()
	args := make([]any, 0, len(events)*5)
	for i, ev := range events {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(fmt.Sprintf("($%d,$%d,$%d,$%d,$%d)",
			len(args)+1, len(args)+2, len(args)+3, len(args)+4, len(args)+5))
		args = append(args,
			streamID,
			ev.SampleIndex,
			ev.Duration,
			ev.Marker,
			now,
		)
	}

	_, err := t.db.Exec(b.String(), args...)
	return err
}

var _ ports.EventSink = (*TimescaleSink)(nil)
