package inventory

import "lendingcore/internal/apperr"

var (
	ErrCopyNotFound         = apperr.NotFound("copy_not_found", "copy not found")
	ErrItemNotFound         = apperr.NotFound("item_not_found", "catalog item not found")
	ErrInvalidTransition    = apperr.Conflict("invalid_transition", "invalid copy status transition")
	ErrDuplicateBarcode     = apperr.Conflict("duplicate_barcode", "barcode already in use")
	ErrCannotRemoveLoaned   = apperr.Conflict("cannot_remove_loaned", "cannot remove loaned copy")
	ErrCannotRemoveReserved = apperr.Conflict("cannot_remove_reserved", "cannot remove reserved copy")
	ErrConcurrentUpdate     = apperr.Conflict("concurrent_update", "copy was modified concurrently")
	ErrInvalidBarcode       = apperr.Validation("invalid_barcode", "invalid barcode")
	ErrInvalidLocation      = apperr.Validation("invalid_location", "invalid shelf location")
	ErrInvalidStatus        = apperr.Validation("invalid_status", "unknown copy status")
	ErrCatalogUnavailable   = apperr.Unavailable("catalog_unavailable", "catalog lookup unavailable")
)
