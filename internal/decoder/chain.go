package decoder

import (
	"context"
	"errors"
	"image"

	"go.uber.org/zap"
)

// Attempt records one decoder's try.
type Attempt struct {
	Decoder string
	Err     error
}

// Outcome is the result of running a Chain over one image.
type Outcome struct {
	Result   *Result
	Status   string
	Attempts []Attempt
}

// Decoded reports whether any decoder succeeded.
func (o *Outcome) Decoded() bool {
	return o != nil && o.Result != nil
}

// Chain tries decoders in order; the first success wins.
type Chain struct {
	decoders []Decoder
	logger   *zap.Logger
}

// NewChain builds a chain. The order of decoders is the fallback order.
func NewChain(logger *zap.Logger, decoders ...Decoder) *Chain {
	return &Chain{decoders: decoders, logger: logger.Named("decoder_chain")}
}

// Names lists the decoders in fallback order.
func (c *Chain) Names() []string {
	names := make([]string, len(c.decoders))
	for i, d := range c.decoders {
		names[i] = d.Name()
	}
	return names
}

// Decode runs the chain. It only returns an error when ctx is done; decoder
// failures are folded into the outcome status.
func (c *Chain) Decode(ctx context.Context, img image.Image) (*Outcome, error) {
	out := &Outcome{Status: StatusFailed}
	var firstErr string
	for _, d := range c.decoders {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		res, err := d.Decode(ctx, img)
		out.Attempts = append(out.Attempts, Attempt{Decoder: d.Name(), Err: err})
		if err == nil && res != nil {
			res.Text = NormalizeText(res.Text)
			if res.Decoder == "" {
				res.Decoder = d.Name()
			}
			out.Result = res
			out.Status = d.Name()
			return out, nil
		}
		if err != nil && !errors.Is(err, ErrNotFound) {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			c.logger.Warn("decoder failed", zap.String("decoder", d.Name()), zap.Error(err))
			if firstErr == "" {
				firstErr = d.Name()
			}
		}
	}
	if firstErr != "" {
		out.Status = FailedStatus(firstErr)
	}
	return out, nil
}
