package pipe

import (
	"context"

	"github.com/wirebus/wirebus-go/pkg/bus"
	"github.com/wirebus/wirebus-go/pkg/task"
	"github.com/wirebus/wirebus-go/pkg/wire"
)

// RespondForEach answers an open command by writing one record per item
// and closing the pipe. It returns as soon as the writer task has started;
// a malformed open payload is reported at once.
func RespondForEach[T any](b *bus.Bus, open *wire.Packet, items []T, encode func(T) []byte) (*task.Task, error) {
	out, err := OutPipeFrom(b, open)
	if err != nil {
		return nil, err
	}
	return task.Go(b.Context(), func(ctx context.Context) error {
		for _, item := range items {
			if err := out.Write(ctx, encode(item)); err != nil {
				b.Logger().Debug("pipe response aborted", "port", out.Port(), "error", err)
				return err
			}
		}
		return out.Close(ctx)
	}), nil
}

// SendBytes writes blob in ChunkSize records and closes the pipe.
func SendBytes(ctx context.Context, out *OutPipe, blob []byte) error {
	for len(blob) > 0 {
		n := min(len(blob), ChunkSize)
		if err := out.Write(ctx, blob[:n]); err != nil {
			return err
		}
		blob = blob[n:]
	}
	return out.Close(ctx)
}

// ReadBytes reads every record of in and joins them.
func ReadBytes(ctx context.Context, in *InPipe) ([]byte, error) {
	records, err := in.ReadAll(ctx)
	var blob []byte
	for _, r := range records {
		blob = append(blob, r...)
	}
	return blob, err
}
