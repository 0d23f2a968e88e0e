package kafka

import (
	apperrors "github.com/kbukum/eventbridge/errors"
)

// FromKafka classifies a produce or fetch error for topic. An error that is
// already an AppError keeps its code and gains the topic detail.
func FromKafka(err error, topic string) *apperrors.AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := apperrors.AsAppError(err); ok {
		return appErr.WithDetail("topic", topic)
	}

	switch {
	case IsConnectionError(err):
		return apperrors.ServiceUnavailable("kafka").WithCause(err).WithDetail("topic", topic)
	case IsNonRetryableError(err):
		return apperrors.BrokerRejected(topic, err)
	case IsRetryableError(err):
		return apperrors.ExternalServiceError("kafka", err).WithDetail("topic", topic)
	}
	return apperrors.Internal(err).WithDetail("topic", topic)
}
