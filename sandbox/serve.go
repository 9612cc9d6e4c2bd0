package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/isdmx/codelab/fault"
	"github.com/isdmx/codelab/protocol"
)

// Serve exposes sb over a JSON-line stream: requests are read from r and
// every sandbox message is written to w. It returns when r reaches EOF, ctx
// ends or the sandbox stops emitting messages.
func Serve(ctx context.Context, logger *zap.Logger, sb Sandbox, r io.Reader, w io.Writer) error {
	logger = logger.Named("serve")
	enc := protocol.NewEncoder(w)

	if err := sb.Start(ctx); err != nil {
		if encErr := enc.Encode(protocol.Fatal(err.Error())); encErr != nil {
			logger.Error("failed to report start failure", zap.Error(encErr))
		}
		return fmt.Errorf("failed to start sandbox: %w", err)
	}

	inputDone := make(chan error, 1)
	go func() {
		inputDone <- readRequests(logger, sb, protocol.NewDecoder(r), enc)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-inputDone:
			return err
		case msg, ok := <-sb.Messages():
			if !ok {
				return nil
			}
			if err := enc.Encode(msg); err != nil {
				return err
			}
		}
	}
}

func readRequests(logger *zap.Logger, sb Sandbox, dec *protocol.Decoder, enc *protocol.Encoder) error {
	for {
		msg, err := dec.Decode()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if fault.Is(err, fault.KindProtocol) {
				logger.Warn("ignoring invalid request", zap.Error(err))
				continue
			}
			return err
		}

		switch msg.Type {
		case protocol.TypeExecute:
			req := msg.Request()
			if postErr := sb.Post(req); postErr != nil {
				logger.Debug("request rejected", zap.String("id", req.ID), zap.Error(postErr))
				if encErr := enc.Encode(protocol.Result(req.ID, protocol.ExecutionResult{Error: ErrorText(postErr)})); encErr != nil {
					return encErr
				}
			}
		case protocol.TypeAbandon:
			sb.Abandon(msg.ID)
		default:
			logger.Warn("ignoring unexpected message type", zap.String("type", string(msg.Type)))
		}
	}
}
