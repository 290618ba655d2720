package notifier

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// eventQueueDepth bounds how many events may be buffered waiting for a
// free publisher goroutine before Notify starts dropping them. The
// driver loop must never wait on the broker.
const eventQueueDepth = 256

// KafkaNotifier publishes activity events to a Kafka topic from a
// single background goroutine, decoupled from the driver loop via a
// buffered channel.
type KafkaNotifier struct {
	writer *kafka.Writer
	topic  string
	events chan Event
	done   chan struct{}
}

// NewKafkaNotifier creates a KafkaNotifier publishing to topic on the
// given brokers, and starts its background publish loop.
func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireOne,
		Async:                  false,
	}

	log.Info().Strs("brokers", brokers).Str("topic", topic).Msg("notifier: kafka producer initialized")

	n := &KafkaNotifier{
		writer: writer,
		topic:  topic,
		events: make(chan Event, eventQueueDepth),
		done:   make(chan struct{}),
	}
	go n.run()
	return n
}

// Notify enqueues an event for async publication. If the buffer is
// full the event is dropped and logged, rather than blocking the
// caller - the driver loop's correctness never depends on delivery.
func (n *KafkaNotifier) Notify(jobID int64, segmentIndex *int, level, message, detail string) {
	e := newEvent(jobID, segmentIndex, level, message, detail)
	select {
	case n.events <- e:
	default:
		log.Warn().Int64("job_id", jobID).Msg("notifier: event queue full, dropping event")
	}
}

func (n *KafkaNotifier) run() {
	defer close(n.done)
	for e := range n.events {
		data, err := marshalEvent(e)
		if err != nil {
			log.Error().Err(err).Msg("notifier: marshal event")
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		// Key by job id so one job's events stay ordered on a partition.
		err = n.writer.WriteMessages(ctx, kafka.Message{
			Key:   []byte(strconv.FormatInt(e.JobID, 10)),
			Value: data,
		})
		cancel()
		if err != nil {
			log.Warn().Err(err).Int64("job_id", e.JobID).Msg("notifier: publish failed")
		}
	}
}

// Close stops accepting new events, drains the queue, and closes the
// underlying Kafka writer.
func (n *KafkaNotifier) Close() error {
	close(n.events)
	<-n.done
	return n.writer.Close()
}
