package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// positionReport matches the wire format the tracker ingests, from both the
// HTTP ingress and Kafka.
type positionReport struct {
	RouteID  string     `json:"routeId"`
	ClientID string     `json:"clientId"`
	Position [2]float64 `json:"position"`
	Finished bool       `json:"finished"`
}

type reportPublisher interface {
	Publish(ctx context.Context, report positionReport) error
}

type httpPublisher struct {
	url    string
	token  string
	client *http.Client
}

func newHTTPPublisher(baseURL, token string) *httpPublisher {
	return &httpPublisher{
		url:    strings.TrimRight(baseURL, "/") + "/api/positions",
		token:  token,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *httpPublisher) Publish(ctx context.Context, report positionReport) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("tracksim: encoding report: %w", err)
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("tracksim: building request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		request.Header.Set("Authorization", "Bearer "+p.token)
	}

	response, err := p.client.Do(request)
	if err != nil {
		return fmt.Errorf("tracksim: posting report: %w", err)
	}
	defer response.Body.Close()
	_, _ = io.Copy(io.Discard, response.Body)

	switch response.StatusCode {
	case http.StatusAccepted:
		return nil
	case http.StatusNotFound:
		// Nobody is watching this route yet; keep replaying.
		return nil
	default:
		return fmt.Errorf("tracksim: ingress returned %d", response.StatusCode)
	}
}

type kafkaPublisher struct {
	writer *kafka.Writer
}

func newKafkaPublisher(brokers []string, topic string) *kafkaPublisher {
	return &kafkaPublisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

func (p *kafkaPublisher) Publish(ctx context.Context, report positionReport) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("tracksim: encoding report: %w", err)
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(report.RouteID),
		Value: payload,
	}); err != nil {
		return fmt.Errorf("tracksim: writing to kafka: %w", err)
	}
	return nil
}

func (p *kafkaPublisher) Close() {
	_ = p.writer.Close()
}
