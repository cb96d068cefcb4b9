package fulfillment

import "errors"

var (
	ErrIssuerAddressInvalid  = errors.New("issuer address is not valid")
	ErrBuyerAddressInvalid   = errors.New("buyer address is not valid")
	ErrTicketNameEmpty       = errors.New("ticket name is empty")
	ErrEventDateEmpty        = errors.New("event date is empty")
	ErrTicketAmountRange     = errors.New("ticket amount is out of range")
	ErrTicketPriceRange      = errors.New("ticket price is out of range")
	ErrPriceOverflow         = errors.New("total price exceeds the ledger amount range")
	ErrQuantityNotPositive   = errors.New("ticket quantity must be positive")
	ErrNotEnoughTickets      = errors.New("not enough tickets available")
	ErrUploadFailed          = errors.New("file upload to content storage failed")
	ErrStockShortage         = errors.New("event stock is short of requested tickets")
	ErrUnderfunded           = errors.New("received funds do not cover required amount")
	ErrCollectionUnavailable = errors.New("collection ticket is not available")
)
