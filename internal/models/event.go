package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// Event and TicketType belong to the catalog service; checkout only reads them.
type Event struct {
	bun.BaseModel `bun:"table:events,alias:e"`

	ID                string          `bun:"id,pk"`
	Name              string          `bun:"name,notnull"`
	StartsAt          time.Time       `bun:"starts_at"`
	LiveStreamEnabled bool            `bun:"live_stream_enabled,notnull"`
	StreamPrice       decimal.Decimal `bun:"stream_price,type:numeric(12,2)"`
	StreamURL         string          `bun:"stream_url,nullzero"`
}

type TicketType struct {
	bun.BaseModel `bun:"table:ticket_types,alias:tt"`

	ID             string          `bun:"id,pk"`
	EventID        string          `bun:"event_id,notnull"`
	Name           string          `bun:"name,notnull"`
	Price          decimal.Decimal `bun:"price,type:numeric(12,2),notnull"`
	AvailableSeats int             `bun:"available_seats"`
}
