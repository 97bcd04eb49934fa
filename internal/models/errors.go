package models

import "errors"

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrInvalidUserID    = errors.New("invalid user id")
	ErrInvalidCartID    = errors.New("invalid cart id")
	ErrInvalidQuantity  = errors.New("quantity must be at least 1")
	ErrCartNotFound     = errors.New("cart not found")
	ErrCartItemNotFound = errors.New("cart item not found")
	ErrProductNotFound  = errors.New("product not found")
)
