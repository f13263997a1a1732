package inventory

import (
	"time"

	"github.com/google/uuid"
)

const AggregateType = "copy"

type CopyAcquired struct {
	CopyID     uuid.UUID `json:"copy_id"`
	ItemID     uuid.UUID `json:"item_id"`
	Barcode    Barcode   `json:"barcode"`
	AcquiredAt time.Time `json:"acquired_at"`
	At         time.Time `json:"occurred_at"`
}

type CopyStatusChanged struct {
	CopyID   uuid.UUID  `json:"copy_id"`
	Previous CopyStatus `json:"previous_status"`
	New      CopyStatus `json:"new_status"`
	At       time.Time  `json:"occurred_at"`
}

// CopyLocationChanged carries locations in string form; empty means none.
type CopyLocationChanged struct {
	CopyID   uuid.UUID `json:"copy_id"`
	Previous string    `json:"previous_location,omitempty"`
	New      string    `json:"new_location,omitempty"`
	At       time.Time `json:"occurred_at"`
}

type CopyLost struct {
	CopyID uuid.UUID `json:"copy_id"`
	ItemID uuid.UUID `json:"item_id"`
	At     time.Time `json:"occurred_at"`
}

type CopyDamaged struct {
	CopyID      uuid.UUID `json:"copy_id"`
	ItemID      uuid.UUID `json:"item_id"`
	Description string    `json:"description"`
	At          time.Time `json:"occurred_at"`
}

type CopyWithdrawn struct {
	CopyID uuid.UUID `json:"copy_id"`
	ItemID uuid.UUID `json:"item_id"`
	Reason string    `json:"reason"`
	At     time.Time `json:"occurred_at"`
}

type CopyRemoved struct {
	CopyID  uuid.UUID `json:"copy_id"`
	ItemID  uuid.UUID `json:"item_id"`
	Barcode Barcode   `json:"barcode"`
	Reason  string    `json:"reason"`
	At      time.Time `json:"occurred_at"`
}

func (e CopyAcquired) EventType() string      { return "CopyAcquired" }
func (e CopyAcquired) AggregateID() uuid.UUID { return e.CopyID }
func (e CopyAcquired) AggregateType() string  { return AggregateType }
func (e CopyAcquired) OccurredAt() time.Time  { return e.At }

func (e CopyStatusChanged) EventType() string      { return "CopyStatusChanged" }
func (e CopyStatusChanged) AggregateID() uuid.UUID { return e.CopyID }
func (e CopyStatusChanged) AggregateType() string  { return AggregateType }
func (e CopyStatusChanged) OccurredAt() time.Time  { return e.At }

func (e CopyLocationChanged) EventType() string      { return "CopyLocationChanged" }
func (e CopyLocationChanged) AggregateID() uuid.UUID { return e.CopyID }
func (e CopyLocationChanged) AggregateType() string  { return AggregateType }
func (e CopyLocationChanged) OccurredAt() time.Time  { return e.At }

func (e CopyLost) EventType() string      { return "CopyLost" }
func (e CopyLost) AggregateID() uuid.UUID { return e.CopyID }
func (e CopyLost) AggregateType() string  { return AggregateType }
func (e CopyLost) OccurredAt() time.Time  { return e.At }

func (e CopyDamaged) EventType() string      { return "CopyDamaged" }
func (e CopyDamaged) AggregateID() uuid.UUID { return e.CopyID }
func (e CopyDamaged) AggregateType() string  { return AggregateType }
func (e CopyDamaged) OccurredAt() time.Time  { return e.At }

func (e CopyWithdrawn) EventType() string      { return "CopyWithdrawn" }
func (e CopyWithdrawn) AggregateID() uuid.UUID { return e.CopyID }
func (e CopyWithdrawn) AggregateType() string  { return AggregateType }
func (e CopyWithdrawn) OccurredAt() time.Time  { return e.At }

func (e CopyRemoved) EventType() string      { return "CopyRemoved" }
func (e CopyRemoved) AggregateID() uuid.UUID { return e.CopyID }
func (e CopyRemoved) AggregateType() string  { return AggregateType }
func (e CopyRemoved) OccurredAt() time.Time  { return e.At }
