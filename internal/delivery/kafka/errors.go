package kafka

import (
	"errors"

	"github.com/azizikri/offer-checkout/internal/domain"
)

var codeErrors = []struct {
	code string
	err  error
}{
	{ErrCodeNotFound, domain.ErrNotFound},
	{ErrCodeInvalidQuantity, domain.ErrInvalidQuantity},
	{ErrCodeUnavailableProduct, domain.ErrUnavailableProduct},
	{ErrCodeInsufficientStock, domain.ErrInsufficientStock},
	{ErrCodeOfferLapsed, domain.ErrOfferLapsed},
}

// errorCode classifies a service error for the reply payload.
func errorCode(err error) string {
	for _, ce := range codeErrors {
		if errors.Is(err, ce.err) {
			return ce.code
		}
	}
	return ErrCodeInternalError
}

// codeError turns a reply error code back into the domain sentinel.
func codeError(code, message string) error {
	for _, ce := range codeErrors {
		if ce.code == code {
			return ce.err
		}
	}
	return errors.New(message)
}

// retryable reports whether a failed request may succeed on redelivery.
// Domain rejections are final.
func retryable(code string) bool {
	return code == ErrCodeInternalError
}
