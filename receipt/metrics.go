package receipt

import (
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	errTypeLabel = "error_type"
)

var (
	receiptSigned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "receipt_signed",
		Help: "The number of signed segmentation receipts.",
	})

	receiptSignError = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "receipt_sign_errors",
		Help: "The errors that occured while signing a receipt.",
	}, []string{
		errTypeLabel,
	})

	receiptVerificationError = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "receipt_verification_errors",
		Help: "Invalid receipt counter.",
	}, []string{
		errTypeLabel,
	})
)

func instrumentSign() {
	receiptSigned.Inc()
}

func instrumentSignError(err error) {
	receiptSignError.
		With(prometheus.Labels{
			errTypeLabel: errors.Type(err),
		}).
		Inc()
}

func instrumentReceiptVerification(verify func() error) error {
	err := verify()
	if err != nil {
		receiptVerificationError.
			With(prometheus.Labels{
				errTypeLabel: errors.Type(err),
			}).
			Inc()
	}
	return err
}
