package kafka

import (
	"github.com/IBM/sarama"
)

// HeaderInterceptor stamps every produced record with the producing service.
type HeaderInterceptor struct {
	source string
}

func NewHeaderInterceptor(source string) *HeaderInterceptor {
	return &HeaderInterceptor{source: source}
}

func (i *HeaderInterceptor) OnSend(msg *sarama.ProducerMessage) {
	msg.Headers = append(msg.Headers, sarama.RecordHeader{
		Key:   []byte("produced-by"),
		Value: []byte(i.source),
	})
}
