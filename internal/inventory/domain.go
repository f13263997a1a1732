// internal/inventory/domain.go
package inventory

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"lendingcore/internal/events"
)

const (
	defaultDamageDescription = "No description provided"
	defaultReason            = "No reason provided"
	maxLocationPart          = 10
)

var barcodePattern = regexp.MustCompile(`^[A-Z0-9-]{4,50}$`)

// Barcode is the normalized, globally unique label on a physical copy.
type Barcode string

func ParseBarcode(raw string) (Barcode, error) {
	v := strings.ToUpper(strings.TrimSpace(raw))
	if !barcodePattern.MatchString(v) {
		return "", fmt.Errorf("%w: %q must be 4-50 characters of A-Z, 0-9 or '-'", ErrInvalidBarcode, raw)
	}
	return Barcode(v), nil
}

func (b Barcode) String() string { return string(b) }

// ShelfLocation is where a copy lives: FLOOR-SECTION-SHELF[-POSITION].
type ShelfLocation struct {
	Floor    string `json:"floor"`
	Section  string `json:"section"`
	Shelf    string `json:"shelf"`
	Position string `json:"position,omitempty"`
}

func NewShelfLocation(floor, section, shelf, position string) (ShelfLocation, error) {
	var loc ShelfLocation
	var err error
	if loc.Floor, err = locationPart("floor", floor, true); err != nil {
		return ShelfLocation{}, err
	}
	if loc.Section, err = locationPart("section", section, true); err != nil {
		return ShelfLocation{}, err
	}
	if loc.Shelf, err = locationPart("shelf", shelf, true); err != nil {
		return ShelfLocation{}, err
	}
	if loc.Position, err = locationPart("position", position, false); err != nil {
		return ShelfLocation{}, err
	}
	return loc, nil
}

// ParseShelfLocation parses the string form produced by String.
func ParseShelfLocation(raw string) (ShelfLocation, error) {
	parts := strings.Split(strings.TrimSpace(raw), "-")
	switch len(parts) {
	case 3:
		return NewShelfLocation(parts[0], parts[1], parts[2], "")
	case 4:
		return NewShelfLocation(parts[0], parts[1], parts[2], parts[3])
	default:
		return ShelfLocation{}, fmt.Errorf("%w: %q, expected FLOOR-SECTION-SHELF[-POSITION]", ErrInvalidLocation, raw)
	}
}

func locationPart(name, v string, required bool) (string, error) {
	v = strings.ToUpper(strings.TrimSpace(v))
	if v == "" {
		if required {
			return "", fmt.Errorf("%w: %s cannot be blank", ErrInvalidLocation, name)
		}
		return "", nil
	}
	if len(v) > maxLocationPart {
		return "", fmt.Errorf("%w: %s cannot exceed %d characters", ErrInvalidLocation, name, maxLocationPart)
	}
	return v, nil
}

func (l ShelfLocation) String() string {
	s := l.Floor + "-" + l.Section + "-" + l.Shelf
	if l.Position != "" {
		s += "-" + l.Position
	}
	return s
}

// Copy is one physical copy of a catalog item.
type Copy struct {
	ID            uuid.UUID      `json:"id"`
	ItemID        uuid.UUID      `json:"item_id"`
	Barcode       Barcode        `json:"barcode"`
	ShelfLocation *ShelfLocation `json:"shelf_location,omitempty"`
	Status        CopyStatus     `json:"status"`
	AcquiredAt    time.Time      `json:"acquired_at"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	Version       int            `json:"version"`
}

// Acquire creates a new AVAILABLE copy.
func Acquire(itemID uuid.UUID, barcode Barcode, acquiredAt, now time.Time) (*Copy, []events.Event) {
	c := &Copy{
		ID:         uuid.New(),
		ItemID:     itemID,
		Barcode:    barcode,
		Status:     StatusAvailable,
		AcquiredAt: acquiredAt,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return c, []events.Event{CopyAcquired{
		CopyID:     c.ID,
		ItemID:     itemID,
		Barcode:    barcode,
		AcquiredAt: acquiredAt,
		At:         now,
	}}
}

func (c *Copy) IsAvailable() bool { return c.Status.AvailableForLoan() }

// ChangeStatus moves the copy to target. reason is the damage description
// for DAMAGED and the withdrawal reason for WITHDRAWN; it is ignored
// otherwise. Nothing is modified when the transition is rejected.
func (c *Copy) ChangeStatus(target CopyStatus, reason string, now time.Time) ([]events.Event, error) {
	next, err := c.Status.Transition(target)
	if err != nil {
		return nil, err
	}

	evs := []events.Event{CopyStatusChanged{
		CopyID:   c.ID,
		Previous: c.Status,
		New:      next,
		At:       now,
	}}
	switch next {
	case StatusLost:
		evs = append(evs, CopyLost{CopyID: c.ID, ItemID: c.ItemID, At: now})
	case StatusDamaged:
		evs = append(evs, CopyDamaged{CopyID: c.ID, ItemID: c.ItemID, Description: orDefault(reason, defaultDamageDescription), At: now})
	case StatusWithdrawn:
		evs = append(evs, CopyWithdrawn{CopyID: c.ID, ItemID: c.ItemID, Reason: orDefault(reason, defaultReason), At: now})
	}

	c.Status = next
	c.UpdatedAt = now
	return evs, nil
}

// MarkLoaned is the idempotent form of ChangeStatus(LOANED) used by the
// circulation gate: a copy already LOANED succeeds without events.
func (c *Copy) MarkLoaned(now time.Time) ([]events.Event, error) {
	if c.Status == StatusLoaned {
		return nil, nil
	}
	return c.ChangeStatus(StatusLoaned, "", now)
}

// MarkReturned is the idempotent form of ChangeStatus(AVAILABLE) used when
// a loan closes: a copy already AVAILABLE succeeds without events.
func (c *Copy) MarkReturned(now time.Time) ([]events.Event, error) {
	if c.Status == StatusAvailable {
		return nil, nil
	}
	if c.Status != StatusLoaned {
		return nil, &TransitionError{From: c.Status, To: StatusAvailable}
	}
	return c.ChangeStatus(StatusAvailable, "", now)
}

// Relocate assigns loc, or clears the location when loc is nil. Assigning
// the current location again changes nothing.
func (c *Copy) Relocate(loc *ShelfLocation, now time.Time) []events.Event {
	if sameLocation(c.ShelfLocation, loc) {
		return nil
	}
	ev := CopyLocationChanged{CopyID: c.ID, Previous: locationString(c.ShelfLocation), New: locationString(loc), At: now}
	if loc != nil {
		l := *loc
		c.ShelfLocation = &l
	} else {
		c.ShelfLocation = nil
	}
	c.UpdatedAt = now
	return []events.Event{ev}
}

// Remove checks that the copy may be deleted and returns the removal event.
func (c *Copy) Remove(reason string, now time.Time) ([]events.Event, error) {
	switch c.Status {
	case StatusLoaned:
		return nil, fmt.Errorf("%w: copy %s", ErrCannotRemoveLoaned, c.ID)
	case StatusReserved:
		return nil, fmt.Errorf("%w: copy %s", ErrCannotRemoveReserved, c.ID)
	}
	return []events.Event{CopyRemoved{
		CopyID:  c.ID,
		ItemID:  c.ItemID,
		Barcode: c.Barcode,
		Reason:  orDefault(reason, defaultReason),
		At:      now,
	}}, nil
}

func sameLocation(a, b *ShelfLocation) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func locationString(l *ShelfLocation) string {
	if l == nil {
		return ""
	}
	return l.String()
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

// Availability summarizes the copies of one catalog item.
type Availability struct {
	ItemID       uuid.UUID `json:"item_id"`
	HasAvailable bool      `json:"has_available_copy"`
	Total        int       `json:"total_copies"`
	Available    int       `json:"available_copies"`
	Loaned       int       `json:"loaned_copies"`
	Reserved     int       `json:"reserved_copies"`
	Percentage   float64   `json:"availability_percentage"`
}

func Summarize(itemID uuid.UUID, copies []*Copy) Availability {
	a := Availability{ItemID: itemID, Total: len(copies)}
	for _, c := range copies {
		switch c.Status {
		case StatusAvailable:
			a.Available++
		case StatusLoaned:
			a.Loaned++
		case StatusReserved:
			a.Reserved++
		}
	}
	a.HasAvailable = a.Available > 0
	if a.Total > 0 {
		a.Percentage = float64(a.Available) / float64(a.Total) * 100
	}
	return a
}
