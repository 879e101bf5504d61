package flight

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client fetches dashboard views from a Flight service.
type Client struct {
	client flight.Client
}

func NewClient(addr string) (*Client, error) {
	client, err := flight.NewClientWithMiddleware(addr, nil, nil,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create flight client: %w", err)
	}
	return &Client{client: client}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

// View runs DoGet for t. The caller releases the returned records.
func (c *Client) View(ctx context.Context, t Ticket) ([]arrow.Record, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	stream, err := c.client.DoGet(ctx, &flight.Ticket{Ticket: data})
	if err != nil {
		return nil, fmt.Errorf("DoGet failed: %w", err)
	}

	reader, err := flight.NewRecordReader(stream)
	if err != nil {
		return nil, fmt.Errorf("failed to create reader: %w", err)
	}
	defer reader.Release()

	var records []arrow.Record
	for reader.Next() {
		rec := reader.Record()
		rec.Retain()
		records = append(records, rec)
	}
	if err := reader.Err(); err != nil {
		for _, r := range records {
			r.Release()
		}
		return nil, fmt.Errorf("error reading from flight stream: %w", err)
	}
	return records, nil
}
