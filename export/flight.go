package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// DefaultFlightPort is the conventional Arrow Flight data port.
const DefaultFlightPort = 3000

// FlightPusher uploads embeddings to an Arrow Flight server with DoPut.
type FlightPusher struct {
	addr    string
	path    []string
	timeout time.Duration
	client  flight.Client
}

// NewFlightPusher targets host:port; records are sent under the descriptor
// path (for example "embeddings").
func NewFlightPusher(addr string, path ...string) *FlightPusher {
	if len(path) == 0 {
		path = []string{"embeddings"}
	}
	return &FlightPusher{
		addr:    addr,
		path:    path,
		timeout: 30 * time.Second,
	}
}

// Connect dials the server without TLS.
func (p *FlightPusher) Connect() error {
	client, err := flight.NewClientWithMiddleware(p.addr, nil, nil,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("failed to create Flight client: %w", err)
	}
	p.client = client
	return nil
}

func (p *FlightPusher) Close() error {
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}

// Push sends records as a single record batch and waits for the server to
// acknowledge the stream.
func (p *FlightPusher) Push(ctx context.Context, records []Record) error {
	if p.client == nil {
		return fmt.Errorf("client not connected, call Connect() first")
	}

	mem := memory.NewGoAllocator()
	rec, err := NewRecord(mem, records)
	if err != nil {
		return err
	}
	defer rec.Release()

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	stream, err := p.client.DoPut(ctx)
	if err != nil {
		return fmt.Errorf("failed to open DoPut stream: %w", err)
	}

	w := flight.NewRecordWriter(stream, ipc.WithSchema(rec.Schema()), ipc.WithAllocator(mem))
	w.SetFlightDescriptor(&flight.FlightDescriptor{
		Type: flight.DescriptorPATH,
		Path: p.path,
	})
	if err := w.Write(rec); err != nil {
		w.Close()
		return fmt.Errorf("failed to write record: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close writer: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("failed to close send: %w", err)
	}

	for {
		if _, err := stream.Recv(); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("DoPut failed: %w", err)
		}
	}

	log.Debug().Str("addr", p.addr).Strs("path", p.path).Int64("rows", rec.NumRows()).Msg("embeddings pushed")
	return nil
}
