package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/IBM/sarama"

	"github.com/partitura-music/payments/internal/messaging/kafka"
)

func withFlagArgs(t *testing.T, args []string) {
	t.Helper()

	oldArgs := os.Args
	oldCommandLine := flag.CommandLine

	os.Args = args
	flag.CommandLine = flag.NewFlagSet(args[0], flag.ContinueOnError)

	t.Cleanup(func() {
		os.Args = oldArgs
		flag.CommandLine = oldCommandLine
	})
}

type offsetRange struct {
	oldest int64
	newest int64
}

type stubOffsetClient struct {
	partitions    []int32
	partitionsErr error
	offsets       map[int32]offsetRange
	offsetErr     error
	closed        bool
}

func (s *stubOffsetClient) GetOffset(_ string, partition int32, at int64) (int64, error) {
	if s.offsetErr != nil {
		return 0, s.offsetErr
	}
	r, ok := s.offsets[partition]
	if !ok {
		return 0, fmt.Errorf("unknown partition %d", partition)
	}
	if at == sarama.OffsetOldest {
		return r.oldest, nil
	}
	return r.newest, nil
}

func (s *stubOffsetClient) Partitions(string) ([]int32, error) {
	if s.partitionsErr != nil {
		return nil, s.partitionsErr
	}
	return s.partitions, nil
}

func (s *stubOffsetClient) Close() error {
	s.closed = true
	return nil
}

type consumeCall struct {
	topic     string
	partition int32
	offset    int64
}

type stubPartitionConsumerSource struct {
	consumers  map[int32]partitionConsumer
	consumeErr error
	calls      []consumeCall
	closed     bool
}

func (s *stubPartitionConsumerSource) ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error) {
	s.calls = append(s.calls, consumeCall{topic: topic, partition: partition, offset: offset})
	if s.consumeErr != nil {
		return nil, s.consumeErr
	}
	pc, ok := s.consumers[partition]
	if !ok {
		return nil, fmt.Errorf("no consumer for partition %d", partition)
	}
	return pc, nil
}

func (s *stubPartitionConsumerSource) Close() error {
	s.closed = true
	return nil
}

type stubPartitionConsumer struct {
	messages chan *sarama.ConsumerMessage
	errs     chan *sarama.ConsumerError
	closed   bool
}

func newStubPartitionConsumer(capacity int) *stubPartitionConsumer {
	return &stubPartitionConsumer{
		messages: make(chan *sarama.ConsumerMessage, capacity),
		errs:     make(chan *sarama.ConsumerError, 1),
	}
}

func (s *stubPartitionConsumer) Messages() <-chan *sarama.ConsumerMessage { return s.messages }

func (s *stubPartitionConsumer) Errors() <-chan *sarama.ConsumerError { return s.errs }

func (s *stubPartitionConsumer) Close() error {
	s.closed = true
	return nil
}

type stubReplayProducer struct {
	sendErr error
	calls   int
	lastMsg *sarama.ProducerMessage
	closed  bool
}

func (s *stubReplayProducer) SendMessage(msg *sarama.ProducerMessage) (int32, int64, error) {
	s.calls++
	s.lastMsg = msg
	if s.sendErr != nil {
		return 0, 0, s.sendErr
	}
	return 0, int64(s.calls), nil
}

func (s *stubReplayProducer) Close() error {
	s.closed = true
	return nil
}

func consumerDLQMessage(t *testing.T, partition int32, offset int64, originalTopic, key, value, errorMessage string) *sarama.ConsumerMessage {
	t.Helper()

	payload, err := json.Marshal(map[string]any{
		"original_topic":     originalTopic,
		"original_partition": partition,
		"original_offset":    offset,
		"original_key":       key,
		"original_value":     value,
		"error_message":      errorMessage,
		"failed_at":          time.Now().UTC(),
		"retry_count":        3,
	})
	if err != nil {
		t.Fatalf("marshal consumer dlq payload: %v", err)
	}

	return &sarama.ConsumerMessage{
		Topic:     kafka.TopicProviderEventsDLQ,
		Partition: partition,
		Offset:    offset,
		Value:     payload,
	}
}

func outboxDLQMessage(t *testing.T, partition int32, offset int64, outboxID, aggregateID, eventType string, original []byte, publishError string) *sarama.ConsumerMessage {
	t.Helper()

	nested, err := json.Marshal(map[string]any{
		"outbox_id":      outboxID,
		"aggregate_type": "payment_order",
		"aggregate_id":   aggregateID,
		"event_type":     eventType,
		"payload":        json.RawMessage(original),
		"publish_error":  publishError,
		"failed_at":      time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("marshal outbox dlq payload: %v", err)
	}

	envelope, err := json.Marshal(map[string]any{
		"id":             "dlq-" + outboxID,
		"aggregate_type": "payment_order",
		"aggregate_id":   aggregateID,
		"event_type":     eventType + ".dlq",
		"payload":        json.RawMessage(nested),
		"published_at":   time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("marshal outbox dlq envelope: %v", err)
	}

	return &sarama.ConsumerMessage{
		Topic:     kafka.TopicPaymentEventsDLQ,
		Partition: partition,
		Offset:    offset,
		Value:     envelope,
	}
}

func TestParseBrokers(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want []string
	}{
		{name: "empty", raw: "", want: []string{}},
		{name: "single", raw: "localhost:9092", want: []string{"localhost:9092"}},
		{name: "multiple with spaces", raw: " kafka-1:9092 , kafka-2:9092 ", want: []string{"kafka-1:9092", "kafka-2:9092"}},
		{name: "only commas", raw: ",,,", want: []string{}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := parseBrokers(tc.raw)
			if len(got) == 0 && len(tc.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestReadConfig_Defaults(t *testing.T) {
	withFlagArgs(t, []string{"dlq-reprocess", "-brokers=localhost:9092"})

	cfg, err := readConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !reflect.DeepEqual(cfg.brokers, []string{"localhost:9092"}) {
		t.Fatalf("expected brokers [localhost:9092], got %v", cfg.brokers)
	}
	if cfg.sourceTopic != kafka.TopicPaymentEventsDLQ {
		t.Fatalf("expected source topic %s, got %s", kafka.TopicPaymentEventsDLQ, cfg.sourceTopic)
	}
	if cfg.targetTopic != kafka.TopicPaymentEvents {
		t.Fatalf("expected target topic %s, got %s", kafka.TopicPaymentEvents, cfg.targetTopic)
	}
	if cfg.limit != defaultReplayLimit {
		t.Fatalf("expected limit %d, got %d", defaultReplayLimit, cfg.limit)
	}
	if cfg.execute {
		t.Fatal("expected dry-run by default")
	}
	if cfg.fromNewest {
		t.Fatal("expected from-newest disabled by default")
	}
	if cfg.idleTimeout != defaultIdleTimeout {
		t.Fatalf("expected idle timeout %v, got %v", defaultIdleTimeout, cfg.idleTimeout)
	}
}

func TestReadConfig_Flags(t *testing.T) {
	withFlagArgs(t, []string{
		"dlq-reprocess",
		"-brokers=kafka-1:9092,kafka-2:9092",
		"-source-topic=" + kafka.TopicProviderEventsDLQ,
		"-target-topic=" + kafka.TopicProviderEvents,
		"-limit=7",
		"-execute",
		"-from-newest",
		"-idle-timeout=250ms",
	})

	cfg, err := readConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.brokers) != 2 {
		t.Fatalf("expected 2 brokers, got %v", cfg.brokers)
	}
	if cfg.sourceTopic != kafka.TopicProviderEventsDLQ {
		t.Fatalf("expected source topic %s, got %s", kafka.TopicProviderEventsDLQ, cfg.sourceTopic)
	}
	if cfg.targetTopic != kafka.TopicProviderEvents {
		t.Fatalf("expected target topic %s, got %s", kafka.TopicProviderEvents, cfg.targetTopic)
	}
	if cfg.limit != 7 {
		t.Fatalf("expected limit 7, got %d", cfg.limit)
	}
	if !cfg.execute {
		t.Fatal("expected execute mode")
	}
	if !cfg.fromNewest {
		t.Fatal("expected from-newest enabled")
	}
	if cfg.idleTimeout != 250*time.Millisecond {
		t.Fatalf("expected idle timeout 250ms, got %v", cfg.idleTimeout)
	}
}

func TestReadConfig_BrokersFromEnv(t *testing.T) {
	withFlagArgs(t, []string{"dlq-reprocess"})
	t.Setenv("PAYMENTS_KAFKA_BROKERS", "kafka-env:9092")

	cfg, err := readConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !reflect.DeepEqual(cfg.brokers, []string{"kafka-env:9092"}) {
		t.Fatalf("expected brokers from env, got %v", cfg.brokers)
	}
}

func TestReadConfig_ValidationErrors(t *testing.T) {
	cases := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{
			name:    "missing brokers",
			args:    []string{"dlq-reprocess"},
			wantErr: "kafka brokers are required",
		},
		{
			name:    "blank source topic",
			args:    []string{"dlq-reprocess", "-brokers=localhost:9092", "-source-topic=   "},
			wantErr: "source-topic is required",
		},
		{
			name:    "blank target topic",
			args:    []string{"dlq-reprocess", "-brokers=localhost:9092", "-target-topic=   "},
			wantErr: "target-topic is required",
		},
		{
			name:    "zero limit",
			args:    []string{"dlq-reprocess", "-brokers=localhost:9092", "-limit=0"},
			wantErr: "limit must be > 0",
		},
		{
			name:    "zero idle timeout",
			args:    []string{"dlq-reprocess", "-brokers=localhost:9092", "-idle-timeout=0s"},
			wantErr: "idle-timeout must be > 0",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			withFlagArgs(t, tc.args)
			t.Setenv("PAYMENTS_KAFKA_BROKERS", "")

			if _, err := readConfig(); err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestExtractReplayMessage_ConsumerDLQ(t *testing.T) {
	msg := consumerDLQMessage(t, 0, 4, kafka.TopicProviderEvents, "ord-1", `{"provider":"paypal"}`, "handler failed")

	replay, ok, err := extractReplayMessage(msg, kafka.TopicPaymentEvents)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected replayable message")
	}
	if replay.topic != kafka.TopicProviderEvents {
		t.Fatalf("expected original topic %s, got %s", kafka.TopicProviderEvents, replay.topic)
	}
	if replay.key != "ord-1" {
		t.Fatalf("expected key ord-1, got %s", replay.key)
	}
	if string(replay.value) != `{"provider":"paypal"}` {
		t.Fatalf("expected original value, got %s", replay.value)
	}
	if replay.reason != "handler failed" {
		t.Fatalf("expected reason from error_message, got %q", replay.reason)
	}
}

func TestExtractReplayMessage_ConsumerDLQEmptyTopic(t *testing.T) {
	msg := consumerDLQMessage(t, 0, 4, "  ", "ord-1", `{"provider":"sandbox"}`, "boom")

	replay, ok, err := extractReplayMessage(msg, kafka.TopicProviderEvents)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected replayable message")
	}
	if replay.topic != kafka.TopicProviderEvents {
		t.Fatalf("expected fallback to default topic, got %s", replay.topic)
	}
}

func TestExtractReplayMessage_OutboxDLQ(t *testing.T) {
	original := []byte(`{"order_id":"ord-9","status":"completed"}`)
	msg := outboxDLQMessage(t, 0, 11, "out-9", "ord-9", "payment.completed", original, "kafka: broker is down")

	replay, ok, err := extractReplayMessage(msg, kafka.TopicPaymentEvents)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected replayable message")
	}
	if replay.topic != kafka.TopicPaymentEvents {
		t.Fatalf("expected target topic %s, got %s", kafka.TopicPaymentEvents, replay.topic)
	}
	if replay.key != "ord-9" {
		t.Fatalf("expected aggregate id key, got %s", replay.key)
	}
	if replay.reason != "kafka: broker is down" {
		t.Fatalf("expected reason from publish_error, got %q", replay.reason)
	}

	var envelope replayEnvelope
	if err := json.Unmarshal(replay.value, &envelope); err != nil {
		t.Fatalf("unmarshal replay envelope: %v", err)
	}
	if envelope.ID != "out-9" {
		t.Fatalf("expected outbox id out-9, got %s", envelope.ID)
	}
	if envelope.AggregateType != "payment_order" {
		t.Fatalf("expected aggregate type payment_order, got %s", envelope.AggregateType)
	}
	if envelope.AggregateID != "ord-9" {
		t.Fatalf("expected aggregate id ord-9, got %s", envelope.AggregateID)
	}
	if envelope.EventType != "payment.completed" {
		t.Fatalf("expected original event type, got %s", envelope.EventType)
	}
	if string(envelope.Payload) != string(original) {
		t.Fatalf("expected original payload, got %s", envelope.Payload)
	}
	if envelope.PublishedAt.IsZero() {
		t.Fatal("expected published_at to be set")
	}
}

func TestExtractReplayMessage_OutboxDLQFallsBackToEnvelopeFields(t *testing.T) {
	nested, err := json.Marshal(map[string]any{
		"payload": json.RawMessage(`{"order_id":"ord-5"}`),
	})
	if err != nil {
		t.Fatalf("marshal nested payload: %v", err)
	}
	envelope, err := json.Marshal(map[string]any{
		"id":             "env-5",
		"aggregate_type": "payment_order",
		"aggregate_id":   "ord-5",
		"event_type":     "payment.failed",
		"payload":        json.RawMessage(nested),
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}

	replay, ok, extractErr := extractReplayMessage(&sarama.ConsumerMessage{Value: envelope}, kafka.TopicPaymentEvents)
	if extractErr != nil {
		t.Fatalf("unexpected error: %v", extractErr)
	}
	if !ok {
		t.Fatal("expected replayable message")
	}

	var rebuilt replayEnvelope
	if err := json.Unmarshal(replay.value, &rebuilt); err != nil {
		t.Fatalf("unmarshal replay envelope: %v", err)
	}
	if rebuilt.ID != "env-5" {
		t.Fatalf("expected envelope id fallback, got %s", rebuilt.ID)
	}
	if rebuilt.EventType != "payment.failed" {
		t.Fatalf("expected envelope event type fallback, got %s", rebuilt.EventType)
	}
	if replay.key != "ord-5" {
		t.Fatalf("expected aggregate id key, got %s", replay.key)
	}
}

func TestExtractReplayMessage_UnknownFormat(t *testing.T) {
	cases := []struct {
		name  string
		value string
	}{
		{name: "not json", value: "plain text"},
		{name: "json array", value: `[1,2,3]`},
		{name: "empty object", value: `{}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, ok, err := extractReplayMessage(&sarama.ConsumerMessage{Value: []byte(tc.value)}, kafka.TopicPaymentEvents)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ok {
				t.Fatal("expected message to be skipped")
			}
		})
	}
}

func TestExtractReplayMessage_OutboxDLQWithoutOriginalPayload(t *testing.T) {
	nested, err := json.Marshal(map[string]any{
		"outbox_id":     "out-3",
		"publish_error": "broker down",
	})
	if err != nil {
		t.Fatalf("marshal nested payload: %v", err)
	}
	envelope, err := json.Marshal(map[string]any{
		"id":      "env-3",
		"payload": json.RawMessage(nested),
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}

	_, _, extractErr := extractReplayMessage(&sarama.ConsumerMessage{Value: envelope}, kafka.TopicPaymentEvents)
	if extractErr == nil || !strings.Contains(extractErr.Error(), "does not contain original event payload") {
		t.Fatalf("expected missing payload error, got %v", extractErr)
	}
}

func TestExtractReplayMessage_OutboxDLQBadNestedPayload(t *testing.T) {
	envelope := []byte(`{"id":"env-7","payload":"not an object"}`)

	_, _, err := extractReplayMessage(&sarama.ConsumerMessage{Value: envelope}, kafka.TopicPaymentEvents)
	if err == nil || !strings.Contains(err.Error(), "decode outbox dlq payload") {
		t.Fatalf("expected decode error, got %v", err)
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := firstNonEmpty("", "  ", "ord-1", "ord-2"); got != "ord-1" {
		t.Fatalf("expected ord-1, got %q", got)
	}
	if got := firstNonEmpty("", "   "); got != "" {
		t.Fatalf("expected empty string, got %q", got)
	}
}

func TestPublishReplay_NilProducer(t *testing.T) {
	err := publishReplay(nil, replayMessage{topic: kafka.TopicPaymentEvents})
	if err == nil || !strings.Contains(err.Error(), "producer is nil") {
		t.Fatalf("expected nil producer error, got %v", err)
	}
}

func TestPublishReplay_SendsMessage(t *testing.T) {
	producer := &stubReplayProducer{}

	err := publishReplay(producer, replayMessage{
		topic: kafka.TopicPaymentEvents,
		key:   "ord-1",
		value: []byte(`{"ok":true}`),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if producer.calls != 1 {
		t.Fatalf("expected 1 send, got %d", producer.calls)
	}
	if producer.lastMsg.Topic != kafka.TopicPaymentEvents {
		t.Fatalf("expected topic %s, got %s", kafka.TopicPaymentEvents, producer.lastMsg.Topic)
	}
	key, err := producer.lastMsg.Key.Encode()
	if err != nil {
		t.Fatalf("encode key: %v", err)
	}
	if string(key) != "ord-1" {
		t.Fatalf("expected key ord-1, got %s", key)
	}
	if producer.lastMsg.Timestamp.IsZero() {
		t.Fatal("expected timestamp to be set")
	}
}

func TestPublishReplay_SendError(t *testing.T) {
	producer := &stubReplayProducer{sendErr: errors.New("broker unavailable")}

	err := publishReplay(producer, replayMessage{topic: kafka.TopicPaymentEvents})
	if err == nil || !strings.Contains(err.Error(), "broker unavailable") {
		t.Fatalf("expected send error, got %v", err)
	}
}

func replayTestConfig() config {
	return config{
		brokers:     []string{"localhost:9092"},
		sourceTopic: kafka.TopicPaymentEventsDLQ,
		targetTopic: kafka.TopicPaymentEvents,
		limit:       10,
		idleTimeout: 50 * time.Millisecond,
	}
}

func TestProcessPartition_DryRun(t *testing.T) {
	pc := newStubPartitionConsumer(2)
	pc.messages <- outboxDLQMessage(t, 0, 0, "out-1", "ord-1", "payment.completed", []byte(`{"n":1}`), "down")
	pc.messages <- outboxDLQMessage(t, 0, 1, "out-2", "ord-2", "payment.failed", []byte(`{"n":2}`), "down")

	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 2}}}
	source := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: pc}}

	stats, err := processPartition(context.Background(), source, client, nil, replayTestConfig(), 0, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if stats.processed != 2 || stats.replayed != 2 || stats.skipped != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if !pc.closed {
		t.Fatal("expected partition consumer to be closed")
	}
}

func TestProcessPartition_Execute(t *testing.T) {
	pc := newStubPartitionConsumer(2)
	pc.messages <- consumerDLQMessage(t, 0, 0, kafka.TopicProviderEvents, "ord-1", `{"n":1}`, "fail")
	pc.messages <- consumerDLQMessage(t, 0, 1, kafka.TopicProviderEvents, "ord-2", `{"n":2}`, "fail")

	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 2}}}
	source := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: pc}}
	producer := &stubReplayProducer{}

	cfg := replayTestConfig()
	cfg.execute = true

	stats, err := processPartition(context.Background(), source, client, producer, cfg, 0, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if stats.replayed != 2 {
		t.Fatalf("expected 2 replayed, got %d", stats.replayed)
	}
	if producer.calls != 2 {
		t.Fatalf("expected 2 sends, got %d", producer.calls)
	}
	if producer.lastMsg.Topic != kafka.TopicProviderEvents {
		t.Fatalf("expected replay to original topic, got %s", producer.lastMsg.Topic)
	}
}

func TestProcessPartition_SkipsUnknownMessages(t *testing.T) {
	pc := newStubPartitionConsumer(2)
	pc.messages <- &sarama.ConsumerMessage{Partition: 0, Offset: 0, Value: []byte("not json at all")}
	pc.messages <- outboxDLQMessage(t, 0, 1, "out-1", "ord-1", "payment.completed", []byte(`{"n":1}`), "down")

	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 2}}}
	source := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: pc}}

	stats, err := processPartition(context.Background(), source, client, nil, replayTestConfig(), 0, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if stats.processed != 2 || stats.replayed != 1 || stats.skipped != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestProcessPartition_HonorsLimit(t *testing.T) {
	pc := newStubPartitionConsumer(3)
	for i := int64(0); i < 3; i++ {
		pc.messages <- outboxDLQMessage(t, 0, i, fmt.Sprintf("out-%d", i), "ord-1", "payment.completed", []byte(`{"n":1}`), "down")
	}

	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 3}}}
	source := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: pc}}

	stats, err := processPartition(context.Background(), source, client, nil, replayTestConfig(), 0, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if stats.processed != 2 {
		t.Fatalf("expected 2 processed, got %d", stats.processed)
	}
}

func TestProcessPartition_ZeroLimit(t *testing.T) {
	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 3}}}
	source := &stubPartitionConsumerSource{}

	stats, err := processPartition(context.Background(), source, client, nil, replayTestConfig(), 0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.processed != 0 {
		t.Fatalf("expected no processing, got %+v", stats)
	}
	if len(source.calls) != 0 {
		t.Fatalf("expected no consume calls, got %v", source.calls)
	}
}

func TestProcessPartition_EmptyPartition(t *testing.T) {
	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 5, newest: 5}}}
	source := &stubPartitionConsumerSource{}

	stats, err := processPartition(context.Background(), source, client, nil, replayTestConfig(), 0, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.processed != 0 {
		t.Fatalf("expected no processing, got %+v", stats)
	}
	if len(source.calls) != 0 {
		t.Fatalf("expected no consume calls, got %v", source.calls)
	}
}

func TestProcessPartition_FromNewestClampsStartOffset(t *testing.T) {
	pc := newStubPartitionConsumer(1)

	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 100}}}
	source := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: pc}}

	cfg := replayTestConfig()
	cfg.fromNewest = true

	if _, err := processPartition(context.Background(), source, client, nil, cfg, 0, 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(source.calls) != 1 {
		t.Fatalf("expected 1 consume call, got %d", len(source.calls))
	}
	if source.calls[0].offset != 90 {
		t.Fatalf("expected start offset 90, got %d", source.calls[0].offset)
	}

	source.calls = nil
	client.offsets[0] = offsetRange{oldest: 95, newest: 100}

	if _, err := processPartition(context.Background(), source, client, nil, cfg, 0, 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if source.calls[0].offset != 95 {
		t.Fatalf("expected start offset clamped to oldest, got %d", source.calls[0].offset)
	}
}

func TestProcessPartition_IdleTimeout(t *testing.T) {
	pc := newStubPartitionConsumer(1)

	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 5}}}
	source := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: pc}}

	start := time.Now()
	stats, err := processPartition(context.Background(), source, client, nil, replayTestConfig(), 0, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if time.Since(start) < 50*time.Millisecond {
		t.Fatal("expected to wait for idle timeout")
	}
	if stats.processed != 0 {
		t.Fatalf("expected no processing, got %+v", stats)
	}
}

func TestProcessPartition_ContextCancelled(t *testing.T) {
	pc := newStubPartitionConsumer(1)

	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 5}}}
	source := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: pc}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := processPartition(ctx, source, client, nil, replayTestConfig(), 0, 10)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestProcessPartition_ConsumerError(t *testing.T) {
	pc := newStubPartitionConsumer(1)
	pc.errs <- &sarama.ConsumerError{
		Topic:     kafka.TopicPaymentEventsDLQ,
		Partition: 0,
		Err:       errors.New("fetch failed"),
	}

	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 5}}}
	source := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: pc}}

	_, err := processPartition(context.Background(), source, client, nil, replayTestConfig(), 0, 10)
	if err == nil || !strings.Contains(err.Error(), "consumer error") {
		t.Fatalf("expected consumer error, got %v", err)
	}
}

func TestProcessPartition_ConsumePartitionError(t *testing.T) {
	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 5}}}
	source := &stubPartitionConsumerSource{consumeErr: errors.New("leader not available")}

	_, err := processPartition(context.Background(), source, client, nil, replayTestConfig(), 0, 10)
	if err == nil || !strings.Contains(err.Error(), "consume partition") {
		t.Fatalf("expected consume error, got %v", err)
	}
}

func TestProcessPartition_OffsetError(t *testing.T) {
	client := &stubOffsetClient{offsetErr: errors.New("offset lookup failed")}
	source := &stubPartitionConsumerSource{}

	_, err := processPartition(context.Background(), source, client, nil, replayTestConfig(), 0, 10)
	if err == nil || !strings.Contains(err.Error(), "get oldest offset") {
		t.Fatalf("expected offset error, got %v", err)
	}
}

func TestProcessPartition_PublishError(t *testing.T) {
	pc := newStubPartitionConsumer(1)
	pc.messages <- outboxDLQMessage(t, 0, 0, "out-1", "ord-1", "payment.completed", []byte(`{"n":1}`), "down")

	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 1}}}
	source := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: pc}}
	producer := &stubReplayProducer{sendErr: errors.New("not leader")}

	cfg := replayTestConfig()
	cfg.execute = true

	_, err := processPartition(context.Background(), source, client, producer, cfg, 0, 10)
	if err == nil || !strings.Contains(err.Error(), "publish replay message") {
		t.Fatalf("expected publish error, got %v", err)
	}
}

func TestRunReplay_RequiresClientAndConsumer(t *testing.T) {
	err := runReplay(context.Background(), replayTestConfig(), nil, nil, nil)
	if err == nil || !strings.Contains(err.Error(), "client and consumer are required") {
		t.Fatalf("expected dependency error, got %v", err)
	}
}

func TestRunReplay_ExecuteRequiresProducer(t *testing.T) {
	cfg := replayTestConfig()
	cfg.execute = true

	err := runReplay(context.Background(), cfg, &stubOffsetClient{}, &stubPartitionConsumerSource{}, nil)
	if err == nil || !strings.Contains(err.Error(), "producer is required in execute mode") {
		t.Fatalf("expected producer error, got %v", err)
	}
}

func TestRunReplay_NoPartitions(t *testing.T) {
	client := &stubOffsetClient{}
	source := &stubPartitionConsumerSource{}

	if err := runReplay(context.Background(), replayTestConfig(), client, source, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(source.calls) != 0 {
		t.Fatalf("expected no consume calls, got %v", source.calls)
	}
}

func TestRunReplay_PartitionsError(t *testing.T) {
	client := &stubOffsetClient{partitionsErr: errors.New("metadata unavailable")}

	err := runReplay(context.Background(), replayTestConfig(), client, &stubPartitionConsumerSource{}, nil)
	if err == nil || !strings.Contains(err.Error(), "get partitions") {
		t.Fatalf("expected partitions error, got %v", err)
	}
}

func TestRunReplay_ProcessesPartitionsInOrder(t *testing.T) {
	pc0 := newStubPartitionConsumer(1)
	pc0.messages <- outboxDLQMessage(t, 0, 0, "out-0", "ord-0", "payment.completed", []byte(`{"n":0}`), "down")
	pc1 := newStubPartitionConsumer(1)
	pc1.messages <- outboxDLQMessage(t, 1, 0, "out-1", "ord-1", "payment.completed", []byte(`{"n":1}`), "down")
	pc2 := newStubPartitionConsumer(1)
	pc2.messages <- outboxDLQMessage(t, 2, 0, "out-2", "ord-2", "payment.completed", []byte(`{"n":2}`), "down")

	client := &stubOffsetClient{
		partitions: []int32{2, 0, 1},
		offsets: map[int32]offsetRange{
			0: {oldest: 0, newest: 1},
			1: {oldest: 0, newest: 1},
			2: {oldest: 0, newest: 1},
		},
	}
	source := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: pc0, 1: pc1, 2: pc2}}

	if err := runReplay(context.Background(), replayTestConfig(), client, source, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(source.calls) != 3 {
		t.Fatalf("expected 3 consume calls, got %d", len(source.calls))
	}
	for i, want := range []int32{0, 1, 2} {
		if source.calls[i].partition != want {
			t.Fatalf("expected partition %d at position %d, got %d", want, i, source.calls[i].partition)
		}
	}
}

func TestRunReplay_LimitSpansPartitions(t *testing.T) {
	pc0 := newStubPartitionConsumer(2)
	pc0.messages <- outboxDLQMessage(t, 0, 0, "out-0", "ord-0", "payment.completed", []byte(`{"n":0}`), "down")
	pc0.messages <- outboxDLQMessage(t, 0, 1, "out-1", "ord-0", "payment.completed", []byte(`{"n":1}`), "down")
	pc1 := newStubPartitionConsumer(5)
	for i := int64(0); i < 5; i++ {
		pc1.messages <- outboxDLQMessage(t, 1, i, fmt.Sprintf("out-p1-%d", i), "ord-1", "payment.completed", []byte(`{"n":1}`), "down")
	}

	client := &stubOffsetClient{
		partitions: []int32{0, 1, 2},
		offsets: map[int32]offsetRange{
			0: {oldest: 0, newest: 2},
			1: {oldest: 0, newest: 5},
			2: {oldest: 0, newest: 5},
		},
	}
	source := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: pc0, 1: pc1}}

	cfg := replayTestConfig()
	cfg.limit = 3

	if err := runReplay(context.Background(), cfg, client, source, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(source.calls) != 2 {
		t.Fatalf("expected budget to stop before partition 2, got calls %v", source.calls)
	}
}

func TestRun_DependencyError(t *testing.T) {
	original := newReplayDependencies
	defer func() { newReplayDependencies = original }()

	newReplayDependencies = func(config) (offsetClient, partitionConsumerSource, replayProducer, error) {
		return nil, nil, nil, errors.New("no brokers reachable")
	}

	err := run(context.Background(), replayTestConfig())
	if err == nil || !strings.Contains(err.Error(), "no brokers reachable") {
		t.Fatalf("expected dependency error, got %v", err)
	}
}

func TestRun_ClosesDependencies(t *testing.T) {
	original := newReplayDependencies
	defer func() { newReplayDependencies = original }()

	client := &stubOffsetClient{}
	source := &stubPartitionConsumerSource{}
	producer := &stubReplayProducer{}

	newReplayDependencies = func(config) (offsetClient, partitionConsumerSource, replayProducer, error) {
		return client, source, producer, nil
	}

	if err := run(context.Background(), replayTestConfig()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !client.closed {
		t.Fatal("expected client to be closed")
	}
	if !source.closed {
		t.Fatal("expected consumer to be closed")
	}
	if !producer.closed {
		t.Fatal("expected producer to be closed")
	}
}

func TestRun_DryRunWithoutProducer(t *testing.T) {
	original := newReplayDependencies
	defer func() { newReplayDependencies = original }()

	client := &stubOffsetClient{}
	source := &stubPartitionConsumerSource{}

	newReplayDependencies = func(config) (offsetClient, partitionConsumerSource, replayProducer, error) {
		return client, source, nil, nil
	}

	if err := run(context.Background(), replayTestConfig()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !client.closed || !source.closed {
		t.Fatal("expected dependencies to be closed")
	}
}

func TestFailExits(t *testing.T) {
	if os.Getenv("DLQ_TEST_FAIL_EXIT") == "1" {
		fail("forced failure: %s", "boom")
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run", "TestFailExits")
	cmd.Env = append(os.Environ(), "DLQ_TEST_FAIL_EXIT=1")
	output, err := cmd.CombinedOutput()

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected exit error, got %v (output: %s)", err, output)
	}
	if exitErr.ExitCode() != 1 {
		t.Fatalf("expected exit code 1, got %d", exitErr.ExitCode())
	}
	if !strings.Contains(string(output), "forced failure: boom") {
		t.Fatalf("expected failure message in output, got %s", output)
	}
}
