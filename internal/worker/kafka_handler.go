package worker

import (
	"context"

	"github.com/example/qqbot-delivery/internal/kafka/consumer"
)

// KafkaHandler returns a consumer.Handler that transforms Kafka consumer
// records into engine records, binds offset commit to the consumer and
// delegates processing to the supplied engine.
func KafkaHandler(engine *Engine, cons *consumer.Consumer) consumer.Handler {
	return func(ctx context.Context, rec *consumer.Record) error {
		if engine == nil || rec == nil {
			return nil
		}

		wr := &Record{
			Topic:     rec.Topic,
			Partition: rec.Partition,
			Offset:    rec.Offset,
			Key:       cloneBytes(rec.Key),
			Value:     cloneBytes(rec.Value),
			Timestamp: rec.Timestamp,
			Headers:   cloneHeaders(rec.Headers),
		}
		if cons != nil {
			wr.SetCommit(func(c context.Context) error {
				return cons.Commit(c, rec)
			})
		}

		engine.HandleRecord(ctx, wr)
		return nil
	}
}
