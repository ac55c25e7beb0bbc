package services

import "errors"

var (
	ErrOrderHasNoUser      = errors.New("order has no user")
	ErrLicenseKeyExhausted = errors.New("could not generate a unique license key")
	ErrProductNotFound     = errors.New("product not found")
	ErrInvalidLicenseKey   = errors.New("invalid license key format")
	ErrLicenseNotFound     = errors.New("license not found")
	ErrCouponNotFound      = errors.New("coupon not found")
	ErrUnsupportedCurrency = errors.New("unsupported currency")
	ErrNoRecipient         = errors.New("no email recipient")
	// ErrPartialLicenseIssuance marks a completed order that got fewer
	// licenses than it has distinct products.
	ErrPartialLicenseIssuance = errors.New("license issuance incomplete")
)
